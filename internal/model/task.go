// Package model defines the records stored by the task ledger.
package model

import (
	"math"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

// Task statuses.
const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Priority is the custom priority of a task.
type Priority string

// Task priorities.
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Field defaults applied on creation.
const (
	DefaultPriority   = PriorityMedium
	DefaultDifficulty = 5
)

// CustomFields holds the structured per-task attributes.
type CustomFields struct {
	Priority       Priority       `json:"priority"`
	EstimatedHours float64        `json:"estimated_hours"`
	ActualHours    float64        `json:"actual_hours"`
	Progress       int            `json:"progress"`
	Tags           []string       `json:"tags"`
	Category       string         `json:"category"`
	Difficulty     int            `json:"difficulty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// Task is a unit of work, optionally nested under a parent task.
type Task struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Status       Status       `json:"status"`
	AssigneeID   *string      `json:"assignee_id"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	DueDate      *time.Time   `json:"due_date"`
	StartDate    *time.Time   `json:"start_date"`
	CompletedAt  *time.Time   `json:"completed_at"`
	ParentID     string       `json:"parent_id,omitempty"`
	Children     []string     `json:"children"`
	Level        int          `json:"level"`
	CustomFields CustomFields `json:"custom_fields"`
}

// IsRoot reports whether the task has no parent.
func (t Task) IsRoot() bool {
	return t.ParentID == ""
}

// TaskView is a task enriched with fields computed at read time.
type TaskView struct {
	Task
	IsOverdue     bool `json:"is_overdue"`
	DaysRemaining *int `json:"days_remaining"`
}

// Enrich computes the derived fields of t relative to now.
func Enrich(t Task, now time.Time) TaskView {
	view := TaskView{Task: t}
	if t.DueDate == nil {
		return view
	}
	view.IsOverdue = t.Status != StatusCompleted && t.DueDate.Before(now)
	days := int(math.Ceil(t.DueDate.Sub(now).Hours() / 24))
	view.DaysRemaining = &days
	return view
}
