// Package storage defines the persistence contract of the task ledger.
package storage

import (
	"context"
	"errors"

	"github.com/metalagman/taskledger/internal/model"
)

var (
	// ErrNotFound is returned when a task (or the parent of a new task) does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable marks transient failures of the backing store. Callers may retry.
	ErrUnavailable = errors.New("storage unavailable")
)

// Port is the storage contract shared by the in-memory and durable stores.
//
// Implementations must return copies: mutating a returned value never changes
// stored state. Structured values round-trip through JSON, so numbers in
// free-form payloads come back as float64 regardless of the backend.
type Port interface {
	// CreateTask persists a new task. When task.ParentID is set the task id is
	// appended to the parent's children in the same unit of work; if the parent
	// is missing nothing is persisted and ErrNotFound is returned.
	CreateTask(ctx context.Context, task model.Task) error
	// LoadTask returns the task with its children in creation order.
	LoadTask(ctx context.Context, id string) (model.Task, error)
	// SaveTask overwrites the mutable state of an existing task.
	// Identity, hierarchy placement and children are not changed.
	SaveTask(ctx context.Context, task model.Task) error
	// ListTasks returns the page of tasks matching filter selected by
	// filter.Limit and filter.Offset, in creation order, together with the
	// number of all matching tasks.
	ListTasks(ctx context.Context, filter model.TaskFilter) ([]model.Task, int, error)

	// SaveUpdateRecord appends an update record.
	SaveUpdateRecord(ctx context.Context, rec model.UpdateRecord) error
	// ListUpdateRecords returns the records of a task in append order,
	// restricted to one batch when batchID is not empty.
	ListUpdateRecords(ctx context.Context, taskID, batchID string) ([]model.UpdateRecord, error)

	// SaveTimelineEvent appends a timeline event.
	SaveTimelineEvent(ctx context.Context, ev model.TimelineEvent) error
	// QueryTimelineEvents returns events of the given tasks that match filter,
	// ordered by event date and then append order. filter.IncludeSubtasks is
	// ignored: subtree resolution is the caller's job.
	QueryTimelineEvents(ctx context.Context, taskIDs []string, filter model.TimelineFilter) ([]model.TimelineEvent, error)

	Close() error
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable reports whether err is (or wraps) ErrUnavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
