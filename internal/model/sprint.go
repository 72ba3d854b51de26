package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Hit is a single accelerometer impact reported by a device during a sprint.
type Hit struct {
	TimeMs   int     `json:"timeMs"`
	MaxAccel float64 `json:"maxAccel"`
}

// SprintData is the accumulated hit buffer of one sprint row.
type SprintData struct {
	Hits          []Hit   `json:"hits"`
	BlinkInterval float64 `json:"blink_interval,omitempty"`
	TotalHits     int     `json:"total_hits"`
}

func (d SprintData) Value() (driver.Value, error) {
	return json.Marshal(d)
}

func (d *SprintData) Scan(src any) error {
	return scanJSON(src, d)
}

// SprintResult holds the derived performance metrics of a finished sprint.
type SprintResult struct {
	Tempo  float64 `json:"tempo"`
	Power  float64 `json:"power"`
	Energy float64 `json:"energy"`
}

func (r *SprintResult) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

func (r *SprintResult) Scan(src any) error {
	return scanJSON(src, r)
}

// Sprint is the per-(slot, sprint, sensor) hit buffer row. Concurrent writers
// targeting the same key serialize on a row-exclusive lock in the store.
type Sprint struct {
	ID        int64         `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time     `gorm:"not null" json:"created_at"`
	SlotID    int64         `gorm:"not null;uniqueIndex:uix_sprint_key" json:"slot_id"`
	SensorID  string        `gorm:"size:128;uniqueIndex:uix_sprint_key" json:"sensor_id"`
	SprintID  int           `gorm:"not null;uniqueIndex:uix_sprint_key" json:"sprint_id"`
	Data      SprintData    `gorm:"type:jsonb" json:"data"`
	Result    *SprintResult `gorm:"type:jsonb" json:"result"`

	// Associations
	Slot Slot `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
