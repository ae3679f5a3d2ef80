package sequence

import (
	"errors"
	"fmt"

	"studio-crm/backend/internal/repository"
)

// Engine errors. Callers match them with errors.Is.
var (
	// ErrTaskNotFound is returned when the referenced task does not exist.
	ErrTaskNotFound = errors.New("task not found")
	// ErrEntityNotFound is returned when the referenced quotation does not exist.
	ErrEntityNotFound = errors.New("quotation not found")
	// ErrInvalidInput is returned when initiate arguments are unusable.
	ErrInvalidInput = errors.New("invalid sequence input")
	// ErrInvalidSequenceState means the task's step metadata and the
	// playbook disagree. It is a data integrity fault and must not be retried.
	ErrInvalidSequenceState = errors.New("invalid sequence state")
	// ErrPersistence wraps failures reported by the task store.
	ErrPersistence = errors.New("task store failure")
	// ErrAlreadyAdvanced is returned when a successor was already created
	// for the task.
	ErrAlreadyAdvanced = errors.New("task already advanced")
	// ErrSequenceExists is returned when a sequence was already started for
	// the quotation.
	ErrSequenceExists = errors.New("sequence already started")
	// ErrNotSequential is returned when advancing a task the engine does not own.
	ErrNotSequential = errors.New("task is not part of a sequence")
	// ErrTaskNotCompleted is returned when advancing a task that is still pending.
	ErrTaskNotCompleted = errors.New("task is not completed")
)

// storeError translates a repository error into an engine error.
func storeError(op string, err error, conflict error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrTaskNotFound)
	case conflict != nil && errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%s: %w", op, conflict)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
	}
}
