// Package ledger implements the task-record engine: hierarchical tasks,
// per-field audit history, the task timeline and ancestor progress.
package ledger

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/metalagman/taskledger/internal/model"
	"github.com/metalagman/taskledger/internal/storage"
)

// SystemActor is the actor recorded for changes nobody requested directly.
const SystemActor = "system"

// Service is the task repository. It is safe for concurrent use.
type Service struct {
	store storage.Port
	locks *keyLock

	clock           func() time.Time
	newID           func() string
	policy          ProgressPolicy
	propagateStatus bool
	retry           RetryPolicy
	opTimeout       time.Duration

	stampMu   sync.Mutex
	lastStamp time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithIDGenerator overrides UUID generation for task, record, event and batch ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithProgressPolicy selects how parent progress is derived from children.
func WithProgressPolicy(p ProgressPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithStatusPropagation lets recomputed progress move the parent status.
func WithStatusPropagation(on bool) Option {
	return func(s *Service) { s.propagateStatus = on }
}

// WithRetry sets the retry policy for audit-trail writes.
func WithRetry(p RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithOpTimeout bounds every storage call. Zero leaves the caller's context as is.
func WithOpTimeout(d time.Duration) Option {
	return func(s *Service) { s.opTimeout = d }
}

// NewService returns a Service over store.
func NewService(store storage.Port, opts ...Option) *Service {
	s := &Service{
		store:  store,
		locks:  newKeyLock(),
		clock:  time.Now,
		newID:  uuid.NewString,
		policy: PolicyCompletedFraction,
		retry:  DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result is the outcome of a mutating call.
type Result struct {
	Task model.TaskView `json:"task"`
	// BatchID groups the update records of this call; empty when nothing changed.
	BatchID string `json:"batch_id,omitempty"`
	// Changed lists the field paths whose value changed, in record order.
	Changed []string `json:"changed,omitempty"`
	// Warnings are side effects that failed after the task was committed.
	Warnings []Warning `json:"-"`
}

// CreateTask validates in, stores a new task under parentID (empty for a
// root) and appends its created event.
func (s *Service) CreateTask(ctx context.Context, in NewTask, parentID string) (Result, error) {
	if err := validateNewTask(in); err != nil {
		return Result{}, err
	}
	task, err := s.insertTask(ctx, in, parentID)
	if err != nil {
		return Result{}, err
	}

	actor := in.CreatedBy
	if actor == "" {
		actor = SystemActor
	}
	var assignee any
	if task.AssigneeID != nil {
		assignee = *task.AssigneeID
	}
	var warnings []Warning
	if w := s.appendEvent(ctx, task.ID, model.EventCreated, actor, "Created task: "+task.Title, map[string]any{
		"initial_status": string(task.Status),
		"assignee_id":    assignee,
	}, true); w != nil {
		warnings = append(warnings, *w)
	}
	if task.Status == model.StatusCompleted {
		if w := s.appendCompleted(ctx, task, actor, ""); w != nil {
			warnings = append(warnings, *w)
		}
	}
	log.Debug().Str("task_id", task.ID).Str("parent_id", parentID).Int("level", task.Level).Msg("task created")

	if parentID != "" {
		warnings = append(warnings, s.recomputeAncestors(ctx, parentID)...)
	}
	return Result{Task: model.Enrich(task, s.clock()), Warnings: warnings}, nil
}

func (s *Service) insertTask(ctx context.Context, in NewTask, parentID string) (model.Task, error) {
	level := 0
	if parentID != "" {
		unlock, err := s.locks.Lock(ctx, parentID)
		if err != nil {
			return model.Task{}, err
		}
		defer unlock()

		parent, err := s.loadTask(ctx, parentID)
		if errors.Is(err, ErrTaskNotFound) {
			return model.Task{}, parentNotFound(parentID)
		}
		if err != nil {
			return model.Task{}, err
		}
		level = parent.Level + 1
	}

	task := buildTask(in, s.newID(), parentID, level, s.stamp())
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.store.CreateTask(opCtx, task); err != nil {
		if parentID != "" && storage.IsNotFound(err) {
			return model.Task{}, parentNotFound(parentID)
		}
		return model.Task{}, err
	}
	return task, nil
}

// GetTask returns the enriched task.
func (s *Service) GetTask(ctx context.Context, id string) (model.TaskView, error) {
	task, err := s.loadTask(ctx, id)
	if err != nil {
		return model.TaskView{}, err
	}
	return model.Enrich(task, s.clock()), nil
}

// UpdateTask applies fields (dotted path to value) to the task. Each field
// whose value changes gets one update record and one updated event, all
// sharing a batch id. The task itself is written once.
func (s *Service) UpdateTask(ctx context.Context, id string, fields map[string]any, notes, actorID string) (Result, error) {
	resolved, err := resolveFields(fields)
	if err != nil {
		return Result{}, err
	}
	if actorID == "" {
		actorID = SystemActor
	}

	res, parentID, err := s.applyUpdate(ctx, id, resolved, notes, actorID)
	if err != nil {
		return Result{}, err
	}
	if parentID != "" {
		res.Warnings = append(res.Warnings, s.recomputeAncestors(ctx, parentID)...)
	}
	return res, nil
}

func (s *Service) applyUpdate(
	ctx context.Context,
	id string,
	fields []resolvedField,
	notes, actorID string,
) (Result, string, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return Result{}, "", err
	}
	defer unlock()

	task, err := s.loadTask(ctx, id)
	if err != nil {
		return Result{}, "", err
	}

	now := s.stamp()
	wasCompleted := task.Status == model.StatusCompleted
	changes := applyFields(&task, fields)
	completing := !wasCompleted && task.Status == model.StatusCompleted
	if completing {
		task.CompletedAt = &now
	}
	task.UpdatedAt = now

	var res Result
	if len(changes) > 0 {
		res.BatchID = s.newID()
		res.Warnings = s.recordChanges(ctx, task.ID, changes, notes, actorID, res.BatchID, now)
		for _, c := range changes {
			res.Changed = append(res.Changed, c.path)
		}
	}

	if err := s.saveTask(ctx, task); err != nil {
		return Result{}, "", err
	}
	if completing {
		if w := s.appendCompleted(ctx, task, actorID, notes); w != nil {
			res.Warnings = append(res.Warnings, *w)
		}
	}
	log.Debug().
		Str("task_id", task.ID).
		Str("batch_id", res.BatchID).
		Strs("changed", res.Changed).
		Msg("task updated")

	res.Task = model.Enrich(task, s.clock())
	return res, task.ParentID, nil
}

// GetSubtreeIDs returns id followed by all its descendants in depth-first
// pre-order. Children that no longer exist are skipped and every id is
// visited at most once.
func (s *Service) GetSubtreeIDs(ctx context.Context, id string) ([]string, error) {
	root, err := s.loadTask(ctx, id)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{id: true}
	out := []string{id}
	stack := reversed(root.Children)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true

		task, err := s.loadTask(ctx, cur)
		if errors.Is(err, ErrTaskNotFound) {
			log.Warn().Str("task_id", cur).Str("root_id", id).Msg("skip dangling child reference")
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cur)
		stack = append(stack, reversed(task.Children)...)
	}
	return out, nil
}

// ListTasks returns one page of enriched tasks matching filter in creation
// order, with the total number of matches.
func (s *Service) ListTasks(ctx context.Context, filter model.TaskFilter) (model.TaskPage, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return model.TaskPage{}, fieldErr("limit", "limit and offset must not be negative")
	}
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	tasks, total, err := s.store.ListTasks(opCtx, filter)
	if err != nil {
		return model.TaskPage{}, err
	}
	now := s.clock()
	page := model.TaskPage{
		Tasks:  make([]model.TaskView, 0, len(tasks)),
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	for _, t := range tasks {
		page.Tasks = append(page.Tasks, model.Enrich(t, now))
	}
	return page, nil
}

// ListUpdates returns the update records of a task in append order,
// optionally narrowed to one batch.
func (s *Service) ListUpdates(ctx context.Context, taskID, batchID string) ([]model.UpdateRecord, error) {
	if _, err := s.loadTask(ctx, taskID); err != nil {
		return nil, err
	}
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	return s.store.ListUpdateRecords(opCtx, taskID, batchID)
}

// stamp returns a strictly increasing UTC timestamp so that records and
// events written by one service sort in the order they were produced.
func (s *Service) stamp() time.Time {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()
	now := s.clock().UTC()
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Nanosecond)
	}
	s.lastStamp = now
	return now
}

func (s *Service) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Service) loadTask(ctx context.Context, id string) (model.Task, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	task, err := s.store.LoadTask(opCtx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Task{}, taskNotFound(id)
		}
		return model.Task{}, err
	}
	return task, nil
}

func (s *Service) saveTask(ctx context.Context, task model.Task) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.store.SaveTask(opCtx, task); err != nil {
		if storage.IsNotFound(err) {
			return taskNotFound(task.ID)
		}
		return err
	}
	return nil
}

type fieldChange struct {
	path     string
	oldValue any
	newValue any
}

// applyFields writes every differing value into task and reports the changes
// with their audit values.
func applyFields(task *model.Task, fields []resolvedField) []fieldChange {
	var changes []fieldChange
	for _, f := range fields {
		old := f.def.get(task)
		if sameValue(old, f.value) {
			continue
		}
		changes = append(changes, fieldChange{
			path:     f.path,
			oldValue: auditValue(old),
			newValue: auditValue(f.value),
		})
		f.def.set(task, f.value)
	}
	return changes
}

func reversed(ids []string) []string {
	out := slices.Clone(ids)
	slices.Reverse(out)
	return out
}
