package api

import (
	"github.com/SherClockHolmes/webpush-go"
	"github.com/patrickmn/go-cache"

	"gym-telemetry-backend/config"
	"gym-telemetry-backend/internal/booking"
	"gym-telemetry-backend/internal/command"
	"gym-telemetry-backend/internal/notification"
	"gym-telemetry-backend/internal/registry"
	"gym-telemetry-backend/internal/sprint"
	"gym-telemetry-backend/internal/store"
)

// AlertDispatcher is the slice of the alert worker pool the handlers need.
type AlertDispatcher interface {
	Dispatch(alert notification.Alert)
}

// Deps bundles the shared dependencies of the API handlers.
type Deps struct {
	Store      store.Store
	Registry   *registry.Registry
	Aggregator *sprint.Aggregator
	Bookings   *booking.Service
	Publisher  command.Publisher
	Webpush    *webpush.Options
	Results    *cache.Cache
	Alerts     AlertDispatcher
	Commands   config.CommandsConfig
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store      store.Store
	registry   *registry.Registry
	aggregator *sprint.Aggregator
	bookings   *booking.Service
	publisher  command.Publisher
	webpush    *webpush.Options
	results    *cache.Cache
	alerts     AlertDispatcher
	commands   config.CommandsConfig
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		store:      deps.Store,
		registry:   deps.Registry,
		aggregator: deps.Aggregator,
		bookings:   deps.Bookings,
		publisher:  deps.Publisher,
		webpush:    deps.Webpush,
		results:    deps.Results,
		alerts:     deps.Alerts,
		commands:   deps.Commands,
	}
}
