// Package widget resolves a widget's target device class to a concrete
// receiver and delivers it.
package widget

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"iris/internal/device"
	"iris/internal/httpclient"
	"iris/internal/id"
	"iris/internal/jsonx"
	"iris/internal/logging"
	"iris/internal/observability"
)

const (
	TargetIPad = "ipad"
	TargetMac  = "mac"

	DefaultWidth  = 320
	DefaultHeight = 220
	MinDimension  = 100
	MaxDimension  = 1600

	DefaultPushTimeout = 10 * time.Second
)

// Delivery channels recorded in Record.Via.
const (
	ViaStream   = "stream"
	ViaPush     = "push"
	ViaQueued   = "queued"
	ViaRejected = "rejected"
)

const maxPushResponseBytes = 64 << 10

// Request is one widget to deliver.
type Request struct {
	WidgetID string
	Target   string
	HTML     string
	Overlay  any
	Width    int
	Height   int
}

// Record is the outcome of one delivery attempt.
type Record struct {
	WidgetID  string `json:"widget_id" yaml:"widget_id"`
	Target    string `json:"target" yaml:"target"`
	HTML      string `json:"html" yaml:"html"`
	Overlay   any    `json:"overlay,omitempty" yaml:"overlay,omitempty"`
	Width     int    `json:"width" yaml:"width"`
	Height    int    `json:"height" yaml:"height"`
	Delivered bool   `json:"delivered" yaml:"delivered"`
	Via       string `json:"via" yaml:"via"`
	DeviceID  string `json:"device_id,omitempty" yaml:"device_id,omitempty"`
	RemoteID  string `json:"remote_id,omitempty" yaml:"remote_id,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// DeviceFinder is the registry lookup the dispatcher needs.
type DeviceFinder interface {
	FindByPlatform(aliases ...string) (device.Device, bool)
}

var platformAliases = map[string][]string{
	TargetIPad: {"ipados", "ipad", "ios"},
}

// Aliases returns the platform tags that satisfy a target class.
func Aliases(target string) []string {
	return platformAliases[target]
}

// ValidTarget reports whether a normalized target is a known device class.
func ValidTarget(target string) bool {
	return target == TargetIPad || target == TargetMac
}

// NormalizeTarget lower-cases and trims a target class. Empty means ipad.
func NormalizeTarget(target string) string {
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "" {
		return TargetIPad
	}
	return target
}

// ClampDimension applies the default for unset values and bounds the rest.
func ClampDimension(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	if value < MinDimension {
		return MinDimension
	}
	if value > MaxDimension {
		return MaxDimension
	}
	return value
}

// Dispatcher delivers widgets to registered devices.
type Dispatcher struct {
	devices DeviceFinder
	client  *http.Client
	metrics *observability.MetricsCollector
	logger  logging.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the push client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithMetrics records delivery outcomes.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(d *Dispatcher) { d.metrics = metrics }
}

// NewDispatcher builds a dispatcher over the given registry.
func NewDispatcher(devices DeviceFinder, pushTimeout time.Duration, opts ...Option) *Dispatcher {
	if pushTimeout <= 0 {
		pushTimeout = DefaultPushTimeout
	}
	logger := logging.NewComponentLogger("widget")
	d := &Dispatcher{
		devices: devices,
		client:  httpclient.New(pushTimeout, logger),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver routes req to its target and returns a short acknowledgement for
// the model plus the full record. Delivery failures are recorded, never
// returned as errors.
func (d *Dispatcher) Deliver(ctx context.Context, req Request) (string, Record) {
	record := Record{
		WidgetID: strings.TrimSpace(req.WidgetID),
		Target:   NormalizeTarget(req.Target),
		HTML:     req.HTML,
		Overlay:  req.Overlay,
		Width:    ClampDimension(req.Width, DefaultWidth),
		Height:   ClampDimension(req.Height, DefaultHeight),
	}
	if record.WidgetID == "" {
		record.WidgetID = id.NewWidgetID()
	}

	if !ValidTarget(record.Target) {
		record.Via = ViaRejected
		record.Error = fmt.Sprintf("unknown target %q", record.Target)
		d.metrics.RecordWidgetDelivery(ctx, "unknown", ViaRejected)
		return fmt.Sprintf("Widget %s not sent: unknown target %q, use %s or %s.", record.WidgetID, record.Target, TargetIPad, TargetMac), record
	}

	if record.Target == TargetMac {
		record.Delivered = true
		record.Via = ViaStream
		d.metrics.RecordWidgetDelivery(ctx, record.Target, ViaStream)
		return fmt.Sprintf("Widget %s sent to mac via the event stream.", record.WidgetID), record
	}

	dev, ok := d.devices.FindByPlatform(Aliases(record.Target)...)
	if !ok {
		record.Via = ViaQueued
		record.Error = fmt.Sprintf("no %s device registered", record.Target)
		d.metrics.RecordWidgetDelivery(ctx, record.Target, ViaQueued)
		return fmt.Sprintf("Widget %s queued: no %s device is registered yet.", record.WidgetID, record.Target), record
	}

	record.DeviceID = dev.ID
	record.Via = ViaPush
	remoteID, err := d.push(ctx, dev, record)
	if err != nil {
		record.Error = err.Error()
		d.metrics.RecordWidgetDelivery(ctx, record.Target, "failed")
		d.logger.Warn("widget %s push to %s (%s) failed: %v", record.WidgetID, dev.ID, dev.Address(), err)
		return fmt.Sprintf("Widget %s could not be delivered to %s: %v", record.WidgetID, dev.Name, err), record
	}

	record.Delivered = true
	record.RemoteID = remoteID
	d.metrics.RecordWidgetDelivery(ctx, record.Target, "delivered")
	return fmt.Sprintf("Widget %s delivered to %s.", record.WidgetID, dev.Name), record
}

type pushPayload struct {
	HTML     string `json:"html"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	WidgetID string `json:"widget_id"`
	Overlay  any    `json:"overlay,omitempty"`
}

func (d *Dispatcher) push(ctx context.Context, dev device.Device, record Record) (string, error) {
	body, err := jsonx.Marshal(pushPayload{
		HTML:     record.HTML,
		Width:    record.Width,
		Height:   record.Height,
		WidgetID: record.WidgetID,
		Overlay:  record.Overlay,
	})
	if err != nil {
		return "", fmt.Errorf("encode widget: %w", err)
	}

	url := fmt.Sprintf("http://%s/widgets", dev.Address())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, readErr := httpclient.ReadAllWithLimit(resp.Body, maxPushResponseBytes)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := strings.TrimSpace(string(data))
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("device returned %d: %s", resp.StatusCode, detail)
	}
	if readErr != nil {
		return "", nil
	}
	return parseRemoteID(data), nil
}

func parseRemoteID(data []byte) string {
	var payload map[string]any
	if err := jsonx.Unmarshal(data, &payload); err != nil {
		return ""
	}
	for _, key := range []string{"id", "widget_id", "object_id"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
