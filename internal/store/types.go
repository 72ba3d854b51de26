package store

import (
	"errors"

	"gym-telemetry-backend/internal/model"
)

// SprintKey identifies one sprint buffer row.
type SprintKey struct {
	SlotID   int64
	SprintID int
	SensorID string
}

// BatchOutcome is the result of one successfully committed hit batch.
type BatchOutcome struct {
	Added  int
	Total  int
	IsLast bool
	Result *model.SprintResult
}

// ErrWriteConflict marks a commit invalidated by a concurrent writer on the
// same sprint key. Callers may safely retry the whole batch.
var ErrWriteConflict = errors.New("sprint write conflict")
