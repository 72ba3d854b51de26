package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gym-telemetry-backend/internal/metrics"
	"gym-telemetry-backend/internal/model"
	"gym-telemetry-backend/internal/store"
)

// ErrNotFound is returned when the booking to complete does not exist.
var ErrNotFound = errors.New("booking not found")

// ComputeBookingMetrics sets the booking's summary metrics to the per-field
// arithmetic mean over sprintsData, rounded to two decimals. An empty mapping
// zeroes the summary.
func ComputeBookingMetrics(b *model.Booking, sprintsData model.SprintsData) {
	b.SprintsData = sprintsData

	n := len(sprintsData)
	if n == 0 {
		b.Power, b.Energy, b.Tempo = 0, 0, 0
		return
	}

	var sumPower, sumEnergy, sumTempo float64
	for _, r := range sprintsData {
		sumPower += r.Power
		sumEnergy += r.Energy
		sumTempo += r.Tempo
	}
	b.Power = metrics.Round2(sumPower / float64(n))
	b.Energy = metrics.Round2(sumEnergy / float64(n))
	b.Tempo = metrics.Round2(sumTempo / float64(n))
}

// Service rolls per-sprint results up into per-booking summaries.
type Service struct {
	store store.Store
}

// NewService creates a booking rollup service.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// CompleteBooking marks a booking done and fills in its summary metrics from
// every sprint sharing the booking's slot and sensor. Sprints without a
// computed result contribute zeroes, so an aborted sprint still counts
// against the athlete's averages.
func (s *Service) CompleteBooking(ctx context.Context, bookingID int64) (*model.Booking, error) {
	db := s.store.DB().WithContext(ctx)

	var b model.Booking
	if err := db.First(&b, bookingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch booking %d: %w", bookingID, err)
	}

	sprints, err := s.store.SprintsForBooking(ctx, b.SlotID, b.SensorID)
	if err != nil {
		return nil, err
	}

	sprintsData := make(model.SprintsData, len(sprints))
	for _, sp := range sprints {
		if sp.Result != nil {
			sprintsData[strconv.Itoa(sp.SprintID)] = *sp.Result
		} else {
			sprintsData[strconv.Itoa(sp.SprintID)] = model.SprintResult{}
		}
	}

	ComputeBookingMetrics(&b, sprintsData)
	b.IsDone = true

	if err := db.Omit(clause.Associations).Save(&b).Error; err != nil {
		return nil, fmt.Errorf("failed to save booking %d: %w", bookingID, err)
	}

	log.Printf("Booking %d completed: power=%.2f energy=%.2f tempo=%.2f over %d sprints",
		b.ID, b.Power, b.Energy, b.Tempo, len(sprintsData))
	return &b, nil
}
