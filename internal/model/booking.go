package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// SprintsData maps a sprint id to the metrics that sprint produced.
type SprintsData map[string]SprintResult

func (d SprintsData) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

func (d *SprintsData) Scan(src any) error {
	return scanJSON(src, d)
}

// Booking ties an athlete's place in a slot to the sensor they trained with.
// Summary metrics are the per-field means over SprintsData, filled in when the
// booking is marked done.
type Booking struct {
	ID          int64       `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time   `gorm:"not null" json:"created_at"`
	SlotID      int64       `gorm:"index;not null" json:"slot_id"`
	SensorID    string      `gorm:"size:128" json:"sensor_id"`
	IsDone      bool        `gorm:"not null;default:false" json:"is_done"`
	SprintsData SprintsData `gorm:"type:jsonb" json:"sprints_data"`
	Power       float64     `json:"power"`
	Energy      float64     `json:"energy"`
	Tempo       float64     `json:"tempo"`

	// Associations
	Slot Slot `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
