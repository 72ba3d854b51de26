package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"gym-telemetry-backend/internal/model"
)

// sprintResultEntry is one row of a slot's results listing.
type sprintResultEntry struct {
	SprintID  int                 `json:"sprint_id"`
	SensorID  string              `json:"sensor_id"`
	TotalHits int                 `json:"total_hits"`
	Result    *model.SprintResult `json:"result"`
}

// GetSlotResults handles GET /api/slots/{slot_id}/results. The route is
// wrapped by the response cache; terminal batches and recalculation
// invalidate it.
func (h *Handler) GetSlotResults(c *gin.Context) {
	slotID, err := strconv.ParseInt(c.Param("slot_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slot id"})
		return
	}

	sprints, err := h.store.SlotSprints(c.Request.Context(), slotID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch sprints"})
		return
	}

	results := make([]sprintResultEntry, len(sprints))
	for i, sp := range sprints {
		results[i] = sprintResultEntry{
			SprintID:  sp.SprintID,
			SensorID:  sp.SensorID,
			TotalHits: sp.Data.TotalHits,
			Result:    sp.Result,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"slot_id": slotID,
		"sprints": results,
	})
}

// RecalculateSlot handles POST /api/slots/{slot_id}/recalculate: re-derive
// every sprint result of the slot from its buffer contents.
func (h *Handler) RecalculateSlot(c *gin.Context) {
	slotID, err := strconv.ParseInt(c.Param("slot_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slot id"})
		return
	}

	count, err := h.aggregator.RecalculateAllSprints(c.Request.Context(), slotID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "recalculation failed"})
		return
	}
	h.invalidateSlotResults(slotID)

	c.JSON(http.StatusOK, gin.H{"status": "recalculated", "sprints": count})
}

// RecalculateSprint handles POST /api/slots/{slot_id}/sprints/{sprint_id}/recalculate.
func (h *Handler) RecalculateSprint(c *gin.Context) {
	slotID, err := strconv.ParseInt(c.Param("slot_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slot id"})
		return
	}
	sprintID, err := strconv.Atoi(c.Param("sprint_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sprint id"})
		return
	}

	if err := h.aggregator.RecalculateSprint(c.Request.Context(), slotID, sprintID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "recalculation failed"})
		return
	}
	h.invalidateSlotResults(slotID)

	c.JSON(http.StatusOK, gin.H{"status": "recalculated"})
}
