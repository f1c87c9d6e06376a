// Package memstore is the in-memory storage port. State lives only as long
// as the process.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/metalagman/taskledger/internal/model"
	"github.com/metalagman/taskledger/internal/storage"
)

// Store keeps tasks, update records and timeline events in keyed containers.
type Store struct {
	mu      sync.RWMutex
	tasks   map[string]model.Task
	order   []string
	updates []model.UpdateRecord
	events  []model.TimelineEvent
}

var _ storage.Port = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{tasks: make(map[string]model.Task)}
}

// CreateTask stores a task and links it into its parent.
func (s *Store) CreateTask(ctx context.Context, task model.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored, err := clone(task)
	if err != nil {
		return fmt.Errorf("copy task: %w", err)
	}
	stored.Children = []string{}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	if task.ParentID != "" {
		if err := s.linkChildLocked(task.ParentID, task.ID); err != nil {
			return err
		}
	}
	s.tasks[task.ID] = stored
	s.order = append(s.order, task.ID)
	return nil
}

func (s *Store) linkChildLocked(parentID, childID string) error {
	parent, ok := s.tasks[parentID]
	if !ok {
		return fmt.Errorf("parent %s: %w", parentID, storage.ErrNotFound)
	}
	if slices.Contains(parent.Children, childID) {
		return nil
	}
	parent.Children = append(slices.Clone(parent.Children), childID)
	s.tasks[parentID] = parent
	return nil
}

// LoadTask returns a copy of the stored task.
func (s *Store) LoadTask(ctx context.Context, id string) (model.Task, error) {
	if err := ctx.Err(); err != nil {
		return model.Task{}, err
	}
	s.mu.RLock()
	task, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return model.Task{}, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	return clone(task)
}

// SaveTask replaces the mutable fields of an existing task.
func (s *Store) SaveTask(ctx context.Context, task model.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	next, err := clone(task)
	if err != nil {
		return fmt.Errorf("copy task: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[task.ID]
	if !ok {
		return fmt.Errorf("task %s: %w", task.ID, storage.ErrNotFound)
	}
	next.CreatedAt = current.CreatedAt
	next.ParentID = current.ParentID
	next.Level = current.Level
	next.Children = current.Children
	s.tasks[task.ID] = next
	return nil
}

// ListTasks returns a page of matching tasks in creation order and the total match count.
func (s *Store) ListTasks(ctx context.Context, filter model.TaskFilter) ([]model.Task, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []string
	for _, id := range s.order {
		if filter.Match(s.tasks[id]) {
			matched = append(matched, id)
		}
	}
	lo, hi := filter.Window(len(matched))
	out := make([]model.Task, 0, hi-lo)
	for _, id := range matched[lo:hi] {
		cp, err := clone(s.tasks[id])
		if err != nil {
			return nil, 0, fmt.Errorf("copy task: %w", err)
		}
		out = append(out, cp)
	}
	return out, len(matched), nil
}

// SaveUpdateRecord appends rec.
func (s *Store) SaveUpdateRecord(ctx context.Context, rec model.UpdateRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored, err := clone(rec)
	if err != nil {
		return fmt.Errorf("copy update record: %w", err)
	}
	s.mu.Lock()
	s.updates = append(s.updates, stored)
	s.mu.Unlock()
	return nil
}

// ListUpdateRecords returns the records of a task in append order.
func (s *Store) ListUpdateRecords(ctx context.Context, taskID, batchID string) ([]model.UpdateRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.UpdateRecord{}
	for _, rec := range s.updates {
		if rec.TaskID != taskID || (batchID != "" && rec.BatchID != batchID) {
			continue
		}
		cp, err := clone(rec)
		if err != nil {
			return nil, fmt.Errorf("copy update record: %w", err)
		}
		out = append(out, cp)
	}
	return out, nil
}

// SaveTimelineEvent appends ev.
func (s *Store) SaveTimelineEvent(ctx context.Context, ev model.TimelineEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored, err := clone(ev)
	if err != nil {
		return fmt.Errorf("copy timeline event: %w", err)
	}
	s.mu.Lock()
	s.events = append(s.events, stored)
	s.mu.Unlock()
	return nil
}

// QueryTimelineEvents returns matching events ordered by date, then append order.
func (s *Store) QueryTimelineEvents(ctx context.Context, taskIDs []string, filter model.TimelineFilter) ([]model.TimelineEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.TimelineEvent{}
	for _, ev := range s.events {
		if !slices.Contains(taskIDs, ev.TaskID) || !filter.Match(ev) {
			continue
		}
		cp, err := clone(ev)
		if err != nil {
			return nil, fmt.Errorf("copy timeline event: %w", err)
		}
		out = append(out, cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EventDate.Before(out[j].EventDate)
	})
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// clone deep-copies v through JSON so that the in-memory store hands out the
// same value shapes as the SQL store.
func clone[T any](v T) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}
