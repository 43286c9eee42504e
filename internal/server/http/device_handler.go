package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"iris/internal/device"
)

type deviceHandler struct {
	devices DeviceRegistry
}

func (h *deviceHandler) handleRegister(c *gin.Context) {
	var body device.Device
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	registered, created, err := h.devices.Register(body)
	if err != nil {
		if errors.Is(err, device.ErrInvalidDevice) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"device": registered, "created": created})
}

func (h *deviceHandler) handleList(c *gin.Context) {
	devices := h.devices.List()
	c.JSON(http.StatusOK, gin.H{"devices": devices, "count": len(devices)})
}

func (h *deviceHandler) handleRemove(c *gin.Context) {
	deviceID := strings.TrimSpace(c.Param("id"))
	if !h.devices.Remove(deviceID) {
		respondError(c, http.StatusNotFound, "device not found: "+deviceID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": deviceID})
}
