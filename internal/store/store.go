package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gym-telemetry-backend/internal/metrics"
	"gym-telemetry-backend/internal/model"
)

// Store defines the persistence operations of the telemetry core.
type Store interface {
	DB() *gorm.DB
	AppendHits(ctx context.Context, key SprintKey, hits []model.Hit, blinkInterval float64, isLast bool) (*BatchOutcome, error)
	RecalculateSprint(ctx context.Context, slotID int64, sprintID int) error
	RecalculateAllSprints(ctx context.Context, slotID int64) (int, error)
	SlotSprints(ctx context.Context, slotID int64) ([]model.Sprint, error)
	SprintsForBooking(ctx context.Context, slotID int64, sensorID string) ([]model.Sprint, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
	// Row-exclusive locking is postgres-only; sqlite serializes writers
	// at the database level, so tests skip the clause.
	lockRows bool
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{
		db:       db,
		lockRows: db.Dialector.Name() == "postgres",
	}
}

// DB exposes the underlying handle for collaborators outside the hot path.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// AppendHits performs a single read-append-commit attempt for one sprint key.
// The row is acquired under a row-exclusive lock (created lazily if absent),
// the batch appended, and the derived result computed when isLast is set.
// Append, total and result commit atomically or not at all; a conflicting
// concurrent commit surfaces as ErrWriteConflict.
func (s *gormStore) AppendHits(ctx context.Context, key SprintKey, hits []model.Hit, blinkInterval float64, isLast bool) (*BatchOutcome, error) {
	var outcome *BatchOutcome

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sprint, err := s.lockSprint(tx, key)
		if err != nil {
			return err
		}

		sprint.Data.Hits = append(sprint.Data.Hits, hits...)
		sprint.Data.TotalHits = len(sprint.Data.Hits)
		if blinkInterval > 0 {
			// Last write wins, matching the device-side contract.
			sprint.Data.BlinkInterval = blinkInterval
		}

		if isLast {
			result := computeResult(&sprint.Data)
			sprint.Result = &result
		}

		if err := tx.Omit(clause.Associations).Save(sprint).Error; err != nil {
			return classifyCommitErr(err)
		}

		outcome = &BatchOutcome{
			Added:  len(hits),
			Total:  sprint.Data.TotalHits,
			IsLast: isLast,
			Result: sprint.Result,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// lockSprint fetches the sprint row for key under FOR UPDATE semantics,
// creating it with an empty buffer when absent. A racing create loses on the
// unique key and is reported as a write conflict.
func (s *gormStore) lockSprint(tx *gorm.DB, key SprintKey) (*model.Sprint, error) {
	q := tx.Where("slot_id = ? AND sprint_id = ? AND sensor_id = ?", key.SlotID, key.SprintID, key.SensorID)
	if s.lockRows {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var sprint model.Sprint
	err := q.First(&sprint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		sprint = model.Sprint{
			CreatedAt: time.Now().UTC(),
			SlotID:    key.SlotID,
			SensorID:  key.SensorID,
			SprintID:  key.SprintID,
			Data:      model.SprintData{},
		}
		if err := tx.Omit(clause.Associations).Create(&sprint).Error; err != nil {
			return nil, classifyCommitErr(err)
		}
		return &sprint, nil
	}
	if err != nil {
		return nil, err
	}
	return &sprint, nil
}

// RecalculateSprint re-derives the result of one sprint from its current
// buffer contents, under the same per-row lock as ingestion.
func (s *gormStore) RecalculateSprint(ctx context.Context, slotID int64, sprintID int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("slot_id = ? AND sprint_id = ?", slotID, sprintID)
		if s.lockRows {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var sprints []model.Sprint
		if err := q.Find(&sprints).Error; err != nil {
			return fmt.Errorf("failed to fetch sprints for slot %d sprint %d: %w", slotID, sprintID, err)
		}
		for i := range sprints {
			result := computeResult(&sprints[i].Data)
			sprints[i].Result = &result
			if err := tx.Omit(clause.Associations).Save(&sprints[i]).Error; err != nil {
				return classifyCommitErr(err)
			}
		}
		return nil
	})
}

// RecalculateAllSprints re-derives the results of every sprint of a slot and
// returns the number of rows touched.
func (s *gormStore) RecalculateAllSprints(ctx context.Context, slotID int64) (int, error) {
	var count int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("slot_id = ?", slotID)
		if s.lockRows {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var sprints []model.Sprint
		if err := q.Find(&sprints).Error; err != nil {
			return fmt.Errorf("failed to fetch sprints for slot %d: %w", slotID, err)
		}
		for i := range sprints {
			result := computeResult(&sprints[i].Data)
			sprints[i].Result = &result
			if err := tx.Omit(clause.Associations).Save(&sprints[i]).Error; err != nil {
				return classifyCommitErr(err)
			}
		}
		count = len(sprints)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SlotSprints returns every sprint buffer of a slot for reporting.
func (s *gormStore) SlotSprints(ctx context.Context, slotID int64) ([]model.Sprint, error) {
	var sprints []model.Sprint
	err := s.db.WithContext(ctx).
		Where("slot_id = ?", slotID).
		Order("sprint_id, sensor_id").
		Find(&sprints).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sprints for slot %d: %w", slotID, err)
	}
	return sprints, nil
}

// SprintsForBooking returns the sprints a booking's summary rolls up:
// everything sharing the booking's slot and sensor.
func (s *gormStore) SprintsForBooking(ctx context.Context, slotID int64, sensorID string) ([]model.Sprint, error) {
	var sprints []model.Sprint
	err := s.db.WithContext(ctx).
		Where("slot_id = ? AND sensor_id = ?", slotID, sensorID).
		Find(&sprints).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sprints for slot %d sensor %s: %w", slotID, sensorID, err)
	}
	return sprints, nil
}

func computeResult(data *model.SprintData) model.SprintResult {
	blink := data.BlinkInterval
	if blink <= 0 {
		blink = metrics.DefaultBlinkInterval
	}
	return metrics.ComputeSprintMetrics(data.Hits, blink, data.TotalHits)
}

// classifyCommitErr maps errors that indicate a concurrent commit invalidated
// this transaction onto ErrWriteConflict; everything else passes through.
func classifyCommitErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrWriteConflict, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "could not serialize access") {
		return fmt.Errorf("%w: %v", ErrWriteConflict, err)
	}
	return err
}
