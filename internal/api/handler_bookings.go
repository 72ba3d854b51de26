package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"gym-telemetry-backend/internal/booking"
)

// CompleteBooking handles POST /api/bookings/{booking_id}/complete: mark the
// booking done and roll its sprint results up into summary metrics.
func (h *Handler) CompleteBooking(c *gin.Context) {
	bookingID, err := strconv.ParseInt(c.Param("booking_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return
	}

	b, err := h.bookings.CompleteBooking(c.Request.Context(), bookingID)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to complete booking"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"booking_id":   b.ID,
		"is_done":      b.IsDone,
		"power":        b.Power,
		"energy":       b.Energy,
		"tempo":        b.Tempo,
		"sprints_data": b.SprintsData,
	})
}
