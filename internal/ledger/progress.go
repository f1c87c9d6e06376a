package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/metalagman/taskledger/internal/model"
)

// ProgressPolicy derives a parent's progress from its children.
type ProgressPolicy string

const (
	// PolicyCompletedFraction is round(100 * completed / counted children).
	PolicyCompletedFraction ProgressPolicy = "completed_fraction"
	// PolicyAverage is the mean child progress, completed children counting 100.
	PolicyAverage ProgressPolicy = "average"
	// PolicyWeightedHours is PolicyAverage weighted by estimated hours.
	PolicyWeightedHours ProgressPolicy = "weighted_hours"
)

// ParseProgressPolicy validates a policy name. Empty selects the default.
func ParseProgressPolicy(name string) (ProgressPolicy, error) {
	switch p := ProgressPolicy(name); p {
	case "":
		return PolicyCompletedFraction, nil
	case PolicyCompletedFraction, PolicyAverage, PolicyWeightedHours:
		return p, nil
	}
	return "", fmt.Errorf("unknown progress policy %q", name)
}

const progressNotes = "recomputed from subtasks"

// Aggregate returns the progress of a parent with the given children.
// Cancelled children are not counted; ok is false when no child counts.
func (p ProgressPolicy) Aggregate(children []model.Task) (progress int, ok bool) {
	var total, done float64
	for _, c := range children {
		if c.Status == model.StatusCancelled {
			continue
		}
		weight := 1.0
		if p == PolicyWeightedHours && c.CustomFields.EstimatedHours > 0 {
			weight = c.CustomFields.EstimatedHours
		}
		var value float64
		switch {
		case c.Status == model.StatusCompleted:
			value = 100
		case p != PolicyCompletedFraction:
			value = float64(c.CustomFields.Progress)
		}
		total += weight
		done += weight * value
	}
	if total == 0 {
		return 0, false
	}
	progress = int(math.Round(done / total))
	return min(max(progress, 0), 100), true
}

// recomputeAncestors walks up from id, one ancestor at a time, until a root,
// an unchanged value, a missing task or an already visited id.
func (s *Service) recomputeAncestors(ctx context.Context, id string) []Warning {
	var warnings []Warning
	visited := make(map[string]bool)
	for id != "" && !visited[id] {
		visited[id] = true
		next, changed, ws, err := s.recomputeOne(ctx, id)
		warnings = append(warnings, ws...)
		if err != nil {
			log.Warn().Err(err).Str("task_id", id).Msg("progress recompute failed")
			warnings = append(warnings, Warning{TaskID: id, Field: "custom_fields.progress", Kind: WarnProgress, Err: err})
			break
		}
		if !changed {
			break
		}
		id = next
	}
	return warnings
}

func (s *Service) recomputeOne(ctx context.Context, id string) (string, bool, []Warning, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return "", false, nil, err
	}
	defer unlock()

	task, err := s.loadTask(ctx, id)
	if errors.Is(err, ErrTaskNotFound) {
		log.Debug().Str("task_id", id).Msg("skip progress recompute of missing task")
		return "", false, nil, nil
	}
	if err != nil {
		return "", false, nil, err
	}

	children := make([]model.Task, 0, len(task.Children))
	for _, childID := range task.Children {
		child, err := s.loadTask(ctx, childID)
		if errors.Is(err, ErrTaskNotFound) {
			continue
		}
		if err != nil {
			return "", false, nil, err
		}
		children = append(children, child)
	}
	progress, ok := s.policy.Aggregate(children)
	if !ok {
		return "", false, nil, nil
	}

	fields := []resolvedField{mustResolve("custom_fields.progress", progress)}
	if s.propagateStatus {
		if status, move := propagatedStatus(task.Status, progress); move {
			fields = append(fields, mustResolve("status", status))
		}
	}

	wasCompleted := task.Status == model.StatusCompleted
	changes := applyFields(&task, fields)
	if len(changes) == 0 {
		return "", false, nil, nil
	}
	now := s.stamp()
	completing := !wasCompleted && task.Status == model.StatusCompleted
	if completing {
		task.CompletedAt = &now
	}
	task.UpdatedAt = now

	warnings := s.recordChanges(ctx, task.ID, changes, progressNotes, SystemActor, s.newID(), now)
	if err := s.saveTask(ctx, task); err != nil {
		return "", false, warnings, err
	}
	if completing {
		if w := s.appendCompleted(ctx, task, SystemActor, progressNotes); w != nil {
			warnings = append(warnings, *w)
		}
	}
	log.Debug().Str("task_id", task.ID).Int("progress", progress).Msg("progress recomputed")
	return task.ParentID, true, warnings, nil
}

func propagatedStatus(current model.Status, progress int) (model.Status, bool) {
	switch {
	case progress == 100 && current != model.StatusCompleted && current != model.StatusCancelled:
		return model.StatusCompleted, true
	case progress > 0 && progress < 100 && current == model.StatusTodo:
		return model.StatusInProgress, true
	}
	return current, false
}

func mustResolve(path string, value any) resolvedField {
	def, order, err := lookupField(path)
	if err != nil {
		panic(err)
	}
	v, err := def.parse(value)
	if err != nil {
		panic(err)
	}
	return resolvedField{path: path, order: order, value: v, def: def}
}
