package ledger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/metalagman/taskledger/internal/model"
)

// AddEvent appends a custom event to the task timeline. Unlike the events
// the ledger emits on its own, a failure here is returned to the caller.
func (s *Service) AddEvent(
	ctx context.Context,
	taskID, eventType, userID, description string,
	metadata map[string]any,
	milestone bool,
) (model.TimelineEvent, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return model.TimelineEvent{}, fieldErr("event_type", "must not be empty")
	}
	if _, err := s.loadTask(ctx, taskID); err != nil {
		return model.TimelineEvent{}, err
	}
	if metadata != nil {
		norm, err := normalizeJSON(metadata)
		if err != nil {
			return model.TimelineEvent{}, fieldErr("metadata", "value is not JSON-encodable: %v", err)
		}
		metadata, _ = norm.(map[string]any)
	}
	ev := s.newEvent(taskID, eventType, userID, description, metadata, milestone)
	err := s.withRetry(ctx, "save timeline event", func(ctx context.Context) error {
		return s.store.SaveTimelineEvent(ctx, ev)
	})
	if err != nil {
		return model.TimelineEvent{}, fmt.Errorf("append event: %w", err)
	}
	return ev, nil
}

// GetTimeline returns the events of a task, and of all its descendants when
// filter.IncludeSubtasks is set, sorted ascending by event date.
func (s *Service) GetTimeline(ctx context.Context, id string, filter model.TimelineFilter) ([]model.TimelineEvent, error) {
	ids := []string{id}
	if filter.IncludeSubtasks {
		subtree, err := s.GetSubtreeIDs(ctx, id)
		if err != nil {
			return nil, err
		}
		ids = subtree
	} else if _, err := s.loadTask(ctx, id); err != nil {
		return nil, err
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	events, err := s.store.QueryTimelineEvents(opCtx, ids, filter)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	slices.SortStableFunc(events, func(a, b model.TimelineEvent) int {
		return a.EventDate.Compare(b.EventDate)
	})
	return events, nil
}

func (s *Service) newEvent(
	taskID, eventType, userID, description string,
	metadata map[string]any,
	milestone bool,
) model.TimelineEvent {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return model.TimelineEvent{
		ID:          s.newID(),
		TaskID:      taskID,
		EventType:   eventType,
		EventDate:   s.stamp(),
		UserID:      userID,
		Description: description,
		Metadata:    metadata,
		IsMilestone: milestone,
	}
}

// appendEvent writes a ledger-emitted event. Failures become warnings.
func (s *Service) appendEvent(
	ctx context.Context,
	taskID, eventType, userID, description string,
	metadata map[string]any,
	milestone bool,
) *Warning {
	ev := s.newEvent(taskID, eventType, userID, description, metadata, milestone)
	err := s.withRetry(ctx, "save timeline event", func(ctx context.Context) error {
		return s.store.SaveTimelineEvent(ctx, ev)
	})
	if err != nil {
		log.Error().Err(err).Str("task_id", taskID).Str("event_type", eventType).Msg("timeline event lost")
		return &Warning{TaskID: taskID, Kind: WarnTimelineEvent, Err: err}
	}
	return nil
}

func (s *Service) appendCompleted(ctx context.Context, task model.Task, actorID, notes string) *Warning {
	var completedAt string
	if task.CompletedAt != nil {
		completedAt = task.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return s.appendEvent(ctx, task.ID, model.EventCompleted, actorID, "Completed task: "+task.Title, map[string]any{
		"completion_time": completedAt,
		"notes":           notes,
	}, true)
}
