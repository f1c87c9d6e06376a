package ledger

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/metalagman/taskledger/internal/model"
)

const maxTitleLen = 255

// NewTask is the payload of CreateTask. Zero values fall back to defaults.
type NewTask struct {
	Title        string          `json:"title"        validate:"required,max=255"`
	Description  string          `json:"description"`
	Status       model.Status    `json:"status"       validate:"omitempty,oneof=todo in_progress completed cancelled"`
	AssigneeID   *string         `json:"assignee_id"`
	DueDate      *time.Time      `json:"due_date"`
	StartDate    *time.Time      `json:"start_date"`
	CustomFields NewCustomFields `json:"custom_fields"`
	// CreatedBy is recorded as the user of the created event; defaults to SystemActor.
	CreatedBy string `json:"created_by"`
}

// NewCustomFields are the custom fields accepted on creation. Progress and
// actual hours always start at zero.
type NewCustomFields struct {
	Priority       model.Priority `json:"priority"        validate:"omitempty,oneof=low medium high"`
	EstimatedHours float64        `json:"estimated_hours" validate:"gte=0"`
	Tags           []string       `json:"tags"`
	Category       string         `json:"category"`
	Difficulty     int            `json:"difficulty"      validate:"omitempty,min=1,max=10"`
	Extra          map[string]any `json:"extra"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateNewTask(in NewTask) error {
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			_, path, _ := strings.Cut(fe.Namespace(), ".")
			if fe.Param() != "" {
				return fieldErr(path, "violates %s=%s", fe.Tag(), fe.Param())
			}
			return fieldErr(path, "violates %s", fe.Tag())
		}
		return fmt.Errorf("validate task: %w", err)
	}
	if strings.TrimSpace(in.Title) == "" {
		return fieldErr("title", "must not be empty")
	}
	if in.CustomFields.Extra != nil {
		if _, err := normalizeJSON(in.CustomFields.Extra); err != nil {
			return fieldErr(extraPath, "value is not JSON-encodable: %v", err)
		}
	}
	return nil
}

// buildTask applies creation defaults to in.
func buildTask(in NewTask, id, parentID string, level int, now time.Time) model.Task {
	status := in.Status
	if status == "" {
		status = model.StatusTodo
	}
	priority := in.CustomFields.Priority
	if priority == "" {
		priority = model.DefaultPriority
	}
	difficulty := in.CustomFields.Difficulty
	if difficulty == 0 {
		difficulty = model.DefaultDifficulty
	}
	tags := slices.Clone(in.CustomFields.Tags)
	if tags == nil {
		tags = []string{}
	}
	task := model.Task{
		ID:          id,
		Title:       in.Title,
		Description: in.Description,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
		DueDate:     utcPtr(in.DueDate),
		StartDate:   utcPtr(in.StartDate),
		ParentID:    parentID,
		Children:    []string{},
		Level:       level,
		CustomFields: model.CustomFields{
			Priority:       priority,
			EstimatedHours: in.CustomFields.EstimatedHours,
			Tags:           tags,
			Category:       in.CustomFields.Category,
			Difficulty:     difficulty,
			Extra:          in.CustomFields.Extra,
		},
	}
	if in.AssigneeID != nil && *in.AssigneeID != "" {
		assignee := *in.AssigneeID
		task.AssigneeID = &assignee
	}
	if status == model.StatusCompleted {
		completed := now
		task.CompletedAt = &completed
	}
	return task
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
