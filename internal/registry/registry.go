package registry

import (
	"sync"
	"time"
)

// Policy selects how Touch reacts when a known device reports from an
// unexpected IP.
type Policy string

const (
	PolicyQuarantine Policy = "quarantine"
	PolicyUpdate     Policy = "update"
	PolicyDrop       Policy = "drop"
)

// ParsePolicy maps a configuration string to a Policy, defaulting to
// quarantine for anything unrecognized.
func ParsePolicy(s string) Policy {
	switch Policy(s) {
	case PolicyUpdate:
		return PolicyUpdate
	case PolicyDrop:
		return PolicyDrop
	default:
		return PolicyQuarantine
	}
}

// Device is the presence record of one sensor.
type Device struct {
	IP         string
	LastSeen   time.Time
	Active     bool
	IPMismatch bool
	MismatchIP string
}

// TouchOutcome reports what a Touch call did to the record.
type TouchOutcome int

const (
	TouchRefreshed TouchOutcome = iota
	TouchCreated
	TouchQuarantined
	TouchUpdatedIP
	TouchDropped
)

func (o TouchOutcome) String() string {
	switch o {
	case TouchCreated:
		return "created"
	case TouchQuarantined:
		return "quarantined"
	case TouchUpdatedIP:
		return "ip_updated"
	case TouchDropped:
		return "dropped"
	default:
		return "refreshed"
	}
}

// MaintainReport lists the state transitions one Maintain sweep performed.
type MaintainReport struct {
	Deactivated []string
	Deleted     []string
}

// Registry is the process-local map of connected devices plus the shared
// training flag. Every operation serializes on one mutex; the critical
// sections are pure map work, never I/O.
type Registry struct {
	mu             sync.Mutex
	devices        map[string]*Device
	policy         Policy
	trainingActive bool
	now            func() time.Time
}

// New creates an empty registry with the given IP-mismatch policy.
func New(policy Policy) *Registry {
	if policy == "" {
		policy = PolicyQuarantine
	}
	return &Registry{
		devices: make(map[string]*Device),
		policy:  policy,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Register inserts or replaces a device record, clearing any mismatch state.
// Idempotent.
func (r *Registry) Register(deviceID, ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[deviceID] = &Device{IP: ip, LastSeen: r.now(), Active: true}
}

// Touch refreshes a device's liveness. Unknown devices are created on the
// spot. A supplied IP that differs from the stored one triggers the
// configured mismatch policy.
func (r *Registry) Touch(deviceID, ip string) TouchOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[deviceID]
	if !ok {
		if ip == "" {
			ip = "unknown"
		}
		r.devices[deviceID] = &Device{IP: ip, LastSeen: r.now(), Active: true}
		return TouchCreated
	}

	if ip != "" && ip != d.IP {
		switch r.policy {
		case PolicyUpdate:
			d.IP = ip
			d.IPMismatch = false
			d.MismatchIP = ""
			d.Active = true
			d.LastSeen = r.now()
			return TouchUpdatedIP
		case PolicyDrop:
			delete(r.devices, deviceID)
			return TouchDropped
		default:
			d.IPMismatch = true
			d.MismatchIP = ip
			d.Active = false
			d.LastSeen = r.now()
			return TouchQuarantined
		}
	}

	d.LastSeen = r.now()
	if !d.IPMismatch {
		d.Active = true
	}
	return TouchRefreshed
}

// UpdateOnHit is the lightweight liveness bump used by the ingestion path.
// It never inspects or changes IP fields.
func (r *Registry) UpdateOnHit(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[deviceID]
	if !ok {
		r.devices[deviceID] = &Device{IP: "unknown", LastSeen: r.now(), Active: true}
		return
	}
	d.LastSeen = r.now()
	if !d.IPMismatch {
		d.Active = true
	}
}

// Snapshot returns a copy of the registry safe to read without the gate.
// Mutating the snapshot has no effect on the registry.
func (r *Registry) Snapshot() map[string]Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := make(map[string]Device, len(r.devices))
	for id, d := range r.devices {
		snap[id] = *d
	}
	return snap
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Maintain deactivates devices idle past inactiveAfter and removes devices
// idle past deleteAfter. Safe to call at any cadence; with no intervening
// touches a second sweep is a no-op.
func (r *Registry) Maintain(inactiveAfter, deleteAfter time.Duration) MaintainReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	var report MaintainReport
	now := r.now()
	for id, d := range r.devices {
		age := now.Sub(d.LastSeen)
		switch {
		case age >= deleteAfter:
			delete(r.devices, id)
			report.Deleted = append(report.Deleted, id)
		case age >= inactiveAfter:
			if d.Active {
				report.Deactivated = append(report.Deactivated, id)
			}
			d.Active = false
		}
	}
	return report
}

// TrainingActive reports the process-wide training flag.
func (r *Registry) TrainingActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trainingActive
}

// SetTrainingActive flips the training flag. Last writer wins.
func (r *Registry) SetTrainingActive(active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trainingActive = active
}
