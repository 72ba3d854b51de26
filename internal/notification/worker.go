package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"gym-telemetry-backend/internal/model"
)

// AlertKind classifies a device lifecycle event.
type AlertKind string

const (
	AlertQuarantined AlertKind = "quarantined"
	AlertInactive    AlertKind = "inactive"
	AlertRemoved     AlertKind = "removed"
)

// Alert describes a device lifecycle event worth pushing to operators.
type Alert struct {
	DeviceID string
	Kind     AlertKind
}

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool manages a pool of workers for sending device alerts.
type WorkerPool struct {
	size    int
	jobs    chan Alert
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Alert, size), // Buffered channel
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Alert worker %d started", id)
	for {
		select {
		case alert := <-wp.jobs:
			log.Printf("Alert worker %d processing %s for device %s", id, alert.Kind, alert.DeviceID)
			wp.sendAlert(ctx, alert)
		case <-ctx.Done():
			log.Printf("Alert worker %d shutting down", id)
			return
		}
	}
}

// Dispatch sends an alert to the worker pool.
func (wp *WorkerPool) Dispatch(alert Alert) {
	wp.jobs <- alert
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Alert {
	return wp.jobs
}

// DeviceInactive satisfies the janitor's alert sink.
func (wp *WorkerPool) DeviceInactive(deviceID string) {
	wp.Dispatch(Alert{DeviceID: deviceID, Kind: AlertInactive})
}

// DeviceRemoved satisfies the janitor's alert sink.
func (wp *WorkerPool) DeviceRemoved(deviceID string) {
	wp.Dispatch(Alert{DeviceID: deviceID, Kind: AlertRemoved})
}

// sendAlert fetches every operator subscription and pushes the alert to each.
func (wp *WorkerPool) sendAlert(ctx context.Context, alert Alert) {
	var subscriptions []model.PushSubscription
	if err := wp.db.WithContext(ctx).Find(&subscriptions).Error; err != nil {
		log.Printf("Error fetching subscriptions for device %s: %v", alert.DeviceID, err)
		return
	}

	if len(subscriptions) == 0 {
		return
	}

	var message string
	switch alert.Kind {
	case AlertQuarantined:
		message = fmt.Sprintf("Device %s reported from an unexpected IP and was quarantined", alert.DeviceID)
	case AlertRemoved:
		message = fmt.Sprintf("Device %s was removed after prolonged silence", alert.DeviceID)
	default:
		message = fmt.Sprintf("Device %s went inactive", alert.DeviceID)
	}

	log.Printf("Sending %d notifications for device %s", len(subscriptions), alert.DeviceID)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(message))
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
