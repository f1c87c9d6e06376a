package ledger

import (
	"errors"
	"fmt"

	"github.com/metalagman/taskledger/internal/storage"
)

var (
	// ErrTaskNotFound is returned when the requested task does not exist.
	ErrTaskNotFound = errors.New("task not found")
	// ErrParentNotFound is returned when a task is created under a missing parent.
	ErrParentNotFound = errors.New("parent task not found")
	// ErrInvalidField is returned for unknown, read-only or malformed fields.
	ErrInvalidField = errors.New("invalid field")
	// ErrStorageUnavailable is the transient storage failure reported by the port.
	ErrStorageUnavailable = storage.ErrUnavailable
)

// FieldError describes a rejected field path or value.
type FieldError struct {
	Path   string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Path, e.Reason)
}

// Unwrap makes FieldError match ErrInvalidField.
func (e *FieldError) Unwrap() error {
	return ErrInvalidField
}

func fieldErr(path, format string, args ...any) error {
	return &FieldError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Warning kinds.
const (
	WarnUpdateRecord  = "update_record"
	WarnTimelineEvent = "timeline_event"
	WarnProgress      = "progress"
)

// Warning reports a side effect that failed after the primary task write was
// committed: an audit-trail append given up after retries, or an ancestor
// progress recompute.
type Warning struct {
	TaskID string
	// Field is the changed field, empty for writes not tied to one field.
	Field string
	Kind  string
	Err   error
}

func (w Warning) Error() string {
	if w.Field == "" {
		return fmt.Sprintf("task %s: %s: %v", w.TaskID, w.Kind, w.Err)
	}
	return fmt.Sprintf("task %s field %s: %s: %v", w.TaskID, w.Field, w.Kind, w.Err)
}

func (w Warning) Unwrap() error {
	return w.Err
}

func taskNotFound(id string) error {
	return fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
}

func parentNotFound(id string) error {
	return fmt.Errorf("parent %s: %w", id, ErrParentNotFound)
}
