package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gym-telemetry-backend/internal/command"
	"gym-telemetry-backend/internal/notification"
	"gym-telemetry-backend/internal/registry"
)

type registerRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
	IP       string `json:"ip" binding:"required"`
}

// RegisterDevice handles POST /api/sensors/register.
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id and ip are required"})
		return
	}

	h.registry.Register(req.DeviceID, req.IP)
	log.Printf("Registered %s -> %s", req.DeviceID, req.IP)

	c.JSON(http.StatusOK, gin.H{
		"status": "registered",
		"count":  h.registry.Len(),
	})
}

type touchRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
	IP       string `json:"ip"`
}

// TouchDevice handles POST /api/sensors/touch, the presence ping.
func (h *Handler) TouchDevice(c *gin.Context) {
	var req touchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id is required"})
		return
	}

	outcome := h.registry.Touch(req.DeviceID, req.IP)
	if outcome == registry.TouchQuarantined {
		log.Printf("Device %s quarantined: reported from %s", req.DeviceID, req.IP)
		if h.alerts != nil {
			h.alerts.Dispatch(notification.Alert{DeviceID: req.DeviceID, Kind: notification.AlertQuarantined})
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": outcome.String()})
}

// deviceStatus is the wire form of one registry record.
type deviceStatus struct {
	IP         string    `json:"ip"`
	LastSeen   time.Time `json:"last_seen"`
	Active     bool      `json:"active"`
	IPMismatch bool      `json:"ip_mismatch"`
	MismatchIP *string   `json:"mismatch_ip"`
}

// GetStatus handles GET /api/sensors/status. Read-only, no side effects.
func (h *Handler) GetStatus(c *gin.Context) {
	snap := h.registry.Snapshot()

	devices := make(map[string]deviceStatus, len(snap))
	for id, d := range snap {
		var mismatchIP *string
		if d.MismatchIP != "" {
			ip := d.MismatchIP
			mismatchIP = &ip
		}
		devices[id] = deviceStatus{
			IP:         d.IP,
			LastSeen:   d.LastSeen,
			Active:     d.Active,
			IPMismatch: d.IPMismatch,
			MismatchIP: mismatchIP,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"devices_registered": len(devices),
		"training_active":    h.registry.TrainingActive(),
		"devices":            devices,
	})
}

// StartAll handles POST /api/sensors/start_all: broadcast the start command
// and raise the training flag.
func (h *Handler) StartAll(c *gin.Context) {
	if err := h.publisher.Publish(h.commands.StartTopic, []byte(command.AllDevices)); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to publish start command"})
		return
	}
	h.registry.SetTrainingActive(true)

	c.JSON(http.StatusOK, gin.H{
		"status":          "start sent",
		"training_active": true,
	})
}

// StopAll handles POST /api/sensors/stop_all.
func (h *Handler) StopAll(c *gin.Context) {
	if err := h.publisher.Publish(h.commands.StopTopic, []byte(command.AllDevices)); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to publish stop command"})
		return
	}
	h.registry.SetTrainingActive(false)
	log.Println("STOP broadcast to all devices")

	c.JSON(http.StatusOK, gin.H{
		"status":          "stop sent",
		"training_active": false,
	})
}
