package sprint

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gym-telemetry-backend/internal/model"
	"gym-telemetry-backend/internal/store"
)

// maxCommitAttempts bounds the retry loop on write conflicts. One retry is
// enough to absorb a racing lazy create; anything beyond that is surfaced.
const maxCommitAttempts = 2

// ErrConflict is returned when a batch cannot be committed within the retry
// budget. The caller should ask the originating device to resend the batch.
var ErrConflict = errors.New("hit batch conflict")

// Liveness is the registry-side bump the ingestion path performs for every
// batch, independent of the persistence outcome.
type Liveness interface {
	UpdateOnHit(deviceID string)
}

// BatchStore is the persistence surface the aggregator drives.
type BatchStore interface {
	AppendHits(ctx context.Context, key store.SprintKey, hits []model.Hit, blinkInterval float64, isLast bool) (*store.BatchOutcome, error)
	RecalculateSprint(ctx context.Context, slotID int64, sprintID int) error
	RecalculateAllSprints(ctx context.Context, slotID int64) (int, error)
}

// Aggregator serializes streamed hit batches into per-sprint buffers.
type Aggregator struct {
	store    BatchStore
	liveness Liveness
}

// NewAggregator creates an aggregator; liveness may be nil.
func NewAggregator(s BatchStore, liveness Liveness) *Aggregator {
	return &Aggregator{store: s, liveness: liveness}
}

// IngestBatch appends a batch of hits to the buffer of one (slot, sprint,
// sensor) key and, on a terminal batch, derives the sprint result from the
// accumulated stream. A commit invalidated by a concurrent writer is retried
// once from a fresh read, so racing writers merge rather than clobber; after
// the budget is exhausted the batch fails whole with ErrConflict.
func (a *Aggregator) IngestBatch(ctx context.Context, key store.SprintKey, hits []model.Hit, blinkInterval float64, isLast bool) (*store.BatchOutcome, error) {
	if a.liveness != nil {
		a.liveness.UpdateOnHit(key.SensorID)
	}

	var lastErr error
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		outcome, err := a.store.AppendHits(ctx, key, hits, blinkInterval, isLast)
		if err == nil {
			return outcome, nil
		}
		if !errors.Is(err, store.ErrWriteConflict) {
			return nil, err
		}
		lastErr = err
		log.Printf("Commit conflict on slot %d sprint %d sensor %s (attempt %d/%d)",
			key.SlotID, key.SprintID, key.SensorID, attempt, maxCommitAttempts)
	}
	return nil, fmt.Errorf("%w: %v", ErrConflict, lastErr)
}

// RecalculateSprint re-derives the result of one sprint from its current
// buffer. Administrative repair, not part of the hot path.
func (a *Aggregator) RecalculateSprint(ctx context.Context, slotID int64, sprintID int) error {
	return a.store.RecalculateSprint(ctx, slotID, sprintID)
}

// RecalculateAllSprints re-derives the results of every sprint of a slot.
func (a *Aggregator) RecalculateAllSprints(ctx context.Context, slotID int64) (int, error) {
	return a.store.RecalculateAllSprints(ctx, slotID)
}
