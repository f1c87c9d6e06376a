package model

import (
	"slices"
	"strings"
	"time"
)

// Timeline event types emitted by the ledger. Event types are an open set.
const (
	EventCreated   = "created"
	EventUpdated   = "updated"
	EventCompleted = "completed"
)

// UpdateRecord is one immutable field change of a task.
type UpdateRecord struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	FieldName  string    `json:"field_name"`
	UpdateType string    `json:"update_type"`
	OldValue   any       `json:"old_value"`
	NewValue   any       `json:"new_value"`
	UpdatedBy  string    `json:"updated_by"`
	UpdatedAt  time.Time `json:"updated_at"`
	Notes      string    `json:"notes"`
	BatchID    string    `json:"batch_id"`
}

// TimelineEvent is an immutable entry of a task timeline.
type TimelineEvent struct {
	ID          string         `json:"id"`
	TaskID      string         `json:"task_id"`
	EventType   string         `json:"event_type"`
	EventDate   time.Time      `json:"event_date"`
	UserID      string         `json:"user_id"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	IsMilestone bool           `json:"is_milestone"`
}

// TimelineFilter narrows a timeline query. Zero values disable a filter.
// Start and End are inclusive.
type TimelineFilter struct {
	Start           *time.Time
	End             *time.Time
	EventTypes      []string
	IncludeSubtasks bool
	MilestonesOnly  bool
}

// Match reports whether ev passes the date, type and milestone filters.
func (f TimelineFilter) Match(ev TimelineEvent) bool {
	if f.Start != nil && ev.EventDate.Before(*f.Start) {
		return false
	}
	if f.End != nil && ev.EventDate.After(*f.End) {
		return false
	}
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, ev.EventType) {
		return false
	}
	if f.MilestonesOnly && !ev.IsMilestone {
		return false
	}
	return true
}

// TaskFilter narrows a task listing. Zero values disable a filter.
type TaskFilter struct {
	Status     Status
	AssigneeID string
	// ParentID selects direct children of a task; RootsOnly selects tasks without parent.
	ParentID  string
	RootsOnly bool
	DueAfter  *time.Time
	DueBefore *time.Time
	// Search is matched case-insensitively against title and description.
	Search string
	// Limit caps the page size when positive; Offset skips matching tasks.
	Limit  int
	Offset int
}

// TaskPage is one page of a task listing. Total counts every matching task.
type TaskPage struct {
	Tasks  []TaskView `json:"tasks"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}

// Match reports whether t passes every filter. Limit and Offset are not
// filters; see Window.
func (f TaskFilter) Match(t Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.AssigneeID != "" && (t.AssigneeID == nil || *t.AssigneeID != f.AssigneeID) {
		return false
	}
	if f.ParentID != "" && t.ParentID != f.ParentID {
		return false
	}
	if f.RootsOnly && t.ParentID != "" {
		return false
	}
	if f.DueAfter != nil && (t.DueDate == nil || t.DueDate.Before(*f.DueAfter)) {
		return false
	}
	if f.DueBefore != nil && (t.DueDate == nil || t.DueDate.After(*f.DueBefore)) {
		return false
	}
	return f.MatchSearch(t)
}

// MatchSearch applies only the Search filter, with Unicode case folding.
func (f TaskFilter) MatchSearch(t Task) bool {
	if f.Search == "" {
		return true
	}
	needle := strings.ToLower(f.Search)
	return strings.Contains(strings.ToLower(t.Title), needle) ||
		strings.Contains(strings.ToLower(t.Description), needle)
}

// Window returns the slice bounds of the requested page within total matches.
func (f TaskFilter) Window(total int) (lo, hi int) {
	lo = min(max(f.Offset, 0), total)
	hi = total
	if f.Limit > 0 {
		hi = min(lo+f.Limit, total)
	}
	return lo, hi
}
