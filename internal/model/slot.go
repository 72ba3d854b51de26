package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Bindings maps a place number within a slot to the sensor id bound to it.
type Bindings map[string]string

func (b Bindings) Value() (driver.Value, error) {
	if b == nil {
		return nil, nil
	}
	return json.Marshal(b)
}

func (b *Bindings) Scan(src any) error {
	return scanJSON(src, b)
}

// Slot represents a scheduled training session.
type Slot struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	Type           string    `gorm:"size:64" json:"type"`
	Time           time.Time `gorm:"not null" json:"time"`
	NumberOfPlaces int       `gorm:"not null;default:0" json:"number_of_places"`
	FreePlaces     int       `gorm:"not null;default:0" json:"free_places"`
	Bindings       Bindings  `gorm:"type:jsonb" json:"bindings"`
	IsDone         bool      `gorm:"not null;default:false" json:"is_done"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
