package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"gym-telemetry-backend/internal/model"
	"gym-telemetry-backend/internal/mw"
	"gym-telemetry-backend/internal/sprint"
	"gym-telemetry-backend/internal/store"
)

// flexInt accepts both JSON numbers and numeric strings; firmware builds in
// the field have been seen sending either.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}

// flexFloat is the float counterpart of flexInt.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

type hitPayload struct {
	TimeMs   int     `json:"timeMs"`
	MaxAccel float64 `json:"maxAccel"`
}

type hitsBulkRequest struct {
	SessionID     flexInt      `json:"session_id"`
	SprintID      flexInt      `json:"sprint_id"`
	DeviceID      string       `json:"device_id"`
	Hits          []hitPayload `json:"hits"`
	BlinkInterval flexFloat    `json:"blink_interval"`
	IsLast        bool         `json:"is_last"`
}

func (r *hitsBulkRequest) validate() error {
	if r.DeviceID == "" {
		return errors.New("device_id is required")
	}
	if r.SessionID <= 0 {
		return errors.New("session_id must be a positive integer")
	}
	if r.SprintID <= 0 {
		return errors.New("sprint_id must be a positive integer")
	}
	for i, h := range r.Hits {
		if h.TimeMs < 0 {
			return fmt.Errorf("hits[%d].timeMs must not be negative", i)
		}
	}
	return nil
}

// ReceiveHits handles POST /api/sensors/hits/bulk, the hit ingestion path.
func (h *Handler) ReceiveHits(c *gin.Context) {
	var req hitsBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed hits payload"})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	log.Printf("Batch from %s (slot %d, sprint %d), %d hits", req.DeviceID, req.SessionID, req.SprintID, len(req.Hits))

	key := store.SprintKey{
		SlotID:   int64(req.SessionID),
		SprintID: int(req.SprintID),
		SensorID: req.DeviceID,
	}
	hits := make([]model.Hit, len(req.Hits))
	for i, p := range req.Hits {
		hits[i] = model.Hit{TimeMs: p.TimeMs, MaxAccel: p.MaxAccel}
	}

	outcome, err := h.aggregator.IngestBatch(c.Request.Context(), key, hits, float64(req.BlinkInterval), req.IsLast)
	if err != nil {
		if errors.Is(err, sprint.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"status": "conflict", "error": "concurrent write, resend the batch"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist batch"})
		return
	}

	if outcome.IsLast {
		h.invalidateSlotResults(key.SlotID)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"added":   outcome.Added,
		"total":   outcome.Total,
		"is_last": outcome.IsLast,
		"result":  outcome.Result,
	})
}

func (h *Handler) invalidateSlotResults(slotID int64) {
	if h.results == nil {
		return
	}
	mw.Invalidate(h.results, fmt.Sprintf("/api/slots/%d/results", slotID))
}
