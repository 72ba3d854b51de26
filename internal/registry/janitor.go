package registry

import (
	"context"
	"log"
	"time"
)

// AlertSink receives device lifecycle events raised by the janitor.
type AlertSink interface {
	DeviceInactive(deviceID string)
	DeviceRemoved(deviceID string)
}

// Janitor periodically sweeps the registry for stale devices and forwards the
// resulting transitions to an optional alert sink.
type Janitor struct {
	reg           *Registry
	interval      time.Duration
	inactiveAfter time.Duration
	deleteAfter   time.Duration
	alerts        AlertSink
}

// NewJanitor creates a janitor; alerts may be nil.
func NewJanitor(reg *Registry, interval, inactiveAfter, deleteAfter time.Duration, alerts AlertSink) *Janitor {
	return &Janitor{
		reg:           reg,
		interval:      interval,
		inactiveAfter: inactiveAfter,
		deleteAfter:   deleteAfter,
		alerts:        alerts,
	}
}

// Run sweeps at a fixed cadence until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	log.Printf("Starting registry janitor (interval %s)...", j.interval)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Registry janitor shutting down.")
			return
		case <-ticker.C:
			j.SweepOnce()
		}
	}
}

// SweepOnce performs a single maintenance pass.
func (j *Janitor) SweepOnce() {
	report := j.reg.Maintain(j.inactiveAfter, j.deleteAfter)
	if len(report.Deactivated) > 0 || len(report.Deleted) > 0 {
		log.Printf("Janitor sweep: %d deactivated, %d removed", len(report.Deactivated), len(report.Deleted))
	}
	if j.alerts == nil {
		return
	}
	for _, id := range report.Deactivated {
		j.alerts.DeviceInactive(id)
	}
	for _, id := range report.Deleted {
		j.alerts.DeviceRemoved(id)
	}
}
