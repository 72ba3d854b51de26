package model

import "time"

// PushSubscription holds the information for an operator's browser push
// subscription. Subscribers receive device lifecycle alerts.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}
