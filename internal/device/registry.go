// Package device holds the in-memory table of registered devices that can
// receive widget pushes.
package device

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Device is one registered receiver.
type Device struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Host         string    `json:"host"`
	Port         int       `json:"port"`
	Platform     string    `json:"platform"`
	Model        string    `json:"model,omitempty"`
	System       string    `json:"system,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Address returns host:port, bracketing IPv6 hosts.
func (d Device) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

var ErrInvalidDevice = errors.New("invalid device")

// Validate checks the fields required to reach a device.
func (d Device) Validate() error {
	switch {
	case strings.TrimSpace(d.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	case strings.TrimSpace(d.Host) == "":
		return fmt.Errorf("%w: host is required", ErrInvalidDevice)
	case d.Port <= 0 || d.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidDevice, d.Port)
	}
	return nil
}

// Registry is a process-lifetime device table. Iteration follows first
// registration order so platform lookups are deterministic.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]Device
	order   []string
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]Device),
		now:     time.Now,
	}
}

// Register upserts d by id. Re-registration replaces every field but keeps
// the device's original position. It reports whether the id was new.
func (r *Registry) Register(d Device) (Device, bool, error) {
	d.ID = strings.TrimSpace(d.ID)
	d.Host = strings.TrimSpace(d.Host)
	d.Platform = strings.ToLower(strings.TrimSpace(d.Platform))
	if err := d.Validate(); err != nil {
		return Device{}, false, err
	}
	if d.Name == "" {
		d.Name = d.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d.RegisteredAt = r.now().UTC()
	_, exists := r.devices[d.ID]
	if !exists {
		r.order = append(r.order, d.ID)
	}
	r.devices[d.ID] = d
	return d, !exists, nil
}

// Remove deletes a device and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; !ok {
		return false
	}
	delete(r.devices, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a device by id.
func (r *Registry) Get(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

// List returns a snapshot in registration order.
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.devices[id])
	}
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// FindByPlatform returns the first device whose platform equals any alias,
// compared case-insensitively.
func (r *Registry) FindByPlatform(aliases ...string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		d := r.devices[id]
		for _, alias := range aliases {
			if strings.EqualFold(d.Platform, strings.TrimSpace(alias)) {
				return d, true
			}
		}
	}
	return Device{}, false
}
