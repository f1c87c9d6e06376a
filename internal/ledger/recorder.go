package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/metalagman/taskledger/internal/model"
)

var fieldLabels = map[string]string{
	"status":                 "Status",
	"description":            "Description",
	"assignee_id":            "Assignee",
	"due_date":               "Due date",
	"custom_fields.progress": "Progress",
	"custom_fields.priority": "Priority",
}

var updateTypes = map[string]string{
	"status":                 "status",
	"description":            "description",
	"assignee_id":            "assignee",
	"due_date":               "due_date",
	"custom_fields.progress": "progress",
	"notes":                  "notes",
}

const defaultUpdateType = "custom_field"

// FieldLabel returns the human-readable name of a field path.
func FieldLabel(path string) string {
	if label, ok := fieldLabels[path]; ok {
		return label
	}
	return path
}

// UpdateType returns the category of change recorded for a field path.
func UpdateType(path string) string {
	if t, ok := updateTypes[path]; ok {
		return t
	}
	return defaultUpdateType
}

func (s *Service) recordChanges(
	ctx context.Context,
	taskID string,
	changes []fieldChange,
	notes, actorID, batchID string,
	at time.Time,
) []Warning {
	var warnings []Warning
	for _, c := range changes {
		if w := s.recordChange(ctx, taskID, c, notes, actorID, batchID, at); w != nil {
			warnings = append(warnings, *w)
		}
	}
	return warnings
}

// recordChange writes the update record of one field and its updated event.
// A failed record skips the event, so the pair fails as a unit.
func (s *Service) recordChange(
	ctx context.Context,
	taskID string,
	c fieldChange,
	notes, actorID, batchID string,
	at time.Time,
) *Warning {
	rec := model.UpdateRecord{
		ID:         s.newID(),
		TaskID:     taskID,
		FieldName:  c.path,
		UpdateType: UpdateType(c.path),
		OldValue:   c.oldValue,
		NewValue:   c.newValue,
		UpdatedBy:  actorID,
		UpdatedAt:  at,
		Notes:      notes,
		BatchID:    batchID,
	}
	err := s.withRetry(ctx, "save update record", func(ctx context.Context) error {
		return s.store.SaveUpdateRecord(ctx, rec)
	})
	if err != nil {
		log.Error().Err(err).Str("task_id", taskID).Str("field", c.path).Msg("update record lost")
		return &Warning{TaskID: taskID, Field: c.path, Kind: WarnUpdateRecord, Err: err}
	}

	desc := fmt.Sprintf("Updated %s: %s → %s", FieldLabel(c.path), FormatValue(c.oldValue), FormatValue(c.newValue))
	w := s.appendEvent(ctx, taskID, model.EventUpdated, actorID, desc, map[string]any{
		"field_changed": c.path,
		"old_value":     c.oldValue,
		"new_value":     c.newValue,
		"update_type":   rec.UpdateType,
		"batch_id":      batchID,
	}, false)
	if w != nil {
		w.Field = c.path
	}
	return w
}

// FormatValue renders an audit value for descriptions and terminal output.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "(none)"
	case string:
		if val == "" {
			return `""`
		}
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, FormatValue(item))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
