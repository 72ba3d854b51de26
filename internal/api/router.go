package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"gym-telemetry-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(deps Deps, rateLimit rate.Limit, rateBurst int, resultsTTL time.Duration) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(deps)

	rateLimiter := mw.RateLimiter(rateLimit, rateBurst)

	// Results are cached until the next terminal batch or recalculation
	// invalidates them.
	caching := mw.Cache(deps.Results, resultsTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		sensors := api.Group("/sensors")
		{
			sensors.POST("/register", handler.RegisterDevice)
			sensors.POST("/touch", handler.TouchDevice)
			sensors.GET("/status", handler.GetStatus)
			sensors.POST("/start_all", handler.StartAll)
			sensors.POST("/stop_all", handler.StopAll)
			sensors.POST("/hits/bulk", handler.ReceiveHits)
		}

		api.GET("/slots/:slot_id/results", caching, handler.GetSlotResults)
		api.POST("/slots/:slot_id/recalculate", handler.RecalculateSlot)
		api.POST("/slots/:slot_id/sprints/:sprint_id/recalculate", handler.RecalculateSprint)

		api.POST("/bookings/:booking_id/complete", handler.CompleteBooking)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
