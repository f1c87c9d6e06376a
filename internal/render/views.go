package render

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/metalagman/taskledger/internal/ledger"
	"github.com/metalagman/taskledger/internal/model"
)

const timeFormat = "2006-01-02 15:04:05"

// TreeNode is one row of a subtree listing.
type TreeNode struct {
	Depth int            `json:"depth"`
	Task  model.TaskView `json:"task"`
}

// Mutation is the outcome of a create or update call.
type Mutation struct {
	Task     model.TaskView `json:"task"`
	BatchID  string         `json:"batch_id,omitempty"`
	Changed  []string       `json:"changed,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

// NewMutation converts a ledger result for output.
func NewMutation(res ledger.Result) Mutation {
	m := Mutation{Task: res.Task, BatchID: res.BatchID, Changed: res.Changed}
	for _, w := range res.Warnings {
		m.Warnings = append(m.Warnings, w.Error())
	}
	return m
}

// Mutation prints the changed task followed by the changed fields and warnings.
func (r *Renderer) Mutation(m Mutation) error {
	if ok, err := r.structured(m); ok {
		return err
	}
	if err := r.Task(m.Task); err != nil {
		return err
	}
	if len(m.Changed) > 0 {
		r.printf("\n%s %s (batch %s)\n", r.styles.faint.Render("changed:"), strings.Join(m.Changed, ", "), m.BatchID)
	}
	for _, w := range m.Warnings {
		r.printf("%s %s\n", r.styles.warning.Render("warning:"), w)
	}
	return nil
}

// Task prints one task with its derived fields.
func (r *Renderer) Task(t model.TaskView) error {
	if ok, err := r.structured(t); ok {
		return err
	}

	r.printf("%s  %s\n", r.styles.title.Render(t.Title), r.status(t.Status))
	r.field("ID", t.ID)
	if t.ParentID != "" {
		r.field("Parent", t.ParentID)
	}
	r.field("Level", fmt.Sprint(t.Level))
	if t.AssigneeID != nil {
		r.field("Assignee", *t.AssigneeID)
	}
	cf := t.CustomFields
	r.field("Priority", string(cf.Priority))
	r.field("Progress", fmt.Sprintf("%d%%", cf.Progress))
	r.field("Difficulty", fmt.Sprint(cf.Difficulty))
	if cf.EstimatedHours > 0 || cf.ActualHours > 0 {
		r.field("Hours", fmt.Sprintf("%s of %s estimated", formatHours(cf.ActualHours), formatHours(cf.EstimatedHours)))
	}
	if cf.Category != "" {
		r.field("Category", cf.Category)
	}
	if len(cf.Tags) > 0 {
		r.field("Tags", strings.Join(cf.Tags, ", "))
	}
	if t.StartDate != nil {
		r.field("Start", t.StartDate.Format(timeFormat))
	}
	if t.DueDate != nil {
		r.field("Due", t.DueDate.Format(timeFormat)+" "+r.dueNote(t))
	}
	r.field("Created", t.CreatedAt.Format(timeFormat))
	r.field("Updated", t.UpdatedAt.Format(timeFormat))
	if t.CompletedAt != nil {
		r.field("Completed", t.CompletedAt.Format(timeFormat))
	}
	if len(t.Children) > 0 {
		r.field("Subtasks", fmt.Sprint(len(t.Children)))
	}
	if len(cf.Extra) > 0 {
		data, err := json.Marshal(cf.Extra)
		if err != nil {
			return fmt.Errorf("encode extra fields: %w", err)
		}
		r.field("Extra", string(data))
	}
	if strings.TrimSpace(t.Description) != "" {
		r.printf("%s", r.markdown(t.Description))
	}
	return nil
}

// Tasks prints one page of a task listing.
func (r *Renderer) Tasks(page model.TaskPage) error {
	if ok, err := r.structured(page); ok {
		return err
	}
	tasks := page.Tasks
	if len(tasks) == 0 {
		if page.Total > 0 {
			r.printf("no tasks on this page (%d total)\n", page.Total)
			return nil
		}
		r.printf("no tasks\n")
		return nil
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "TITLE", "STATUS", "PROGRESS", "PRIORITY", "DUE")
	for _, task := range tasks {
		due := ""
		if task.DueDate != nil {
			due = task.DueDate.Format(time.DateOnly)
			if task.IsOverdue {
				due += " (overdue)"
			}
		}
		t.Row(
			task.ID,
			task.Title,
			string(task.Status),
			fmt.Sprintf("%d%%", task.CustomFields.Progress),
			string(task.CustomFields.Priority),
			due,
		)
	}
	r.printf("%s\n", t.String())
	if len(tasks) < page.Total {
		r.printf("%s\n", r.styles.faint.Render(fmt.Sprintf("showing %d-%d of %d", page.Offset+1, page.Offset+len(tasks), page.Total)))
	}
	return nil
}

// Tree prints a subtree, children indented under their parent.
func (r *Renderer) Tree(nodes []TreeNode) error {
	if ok, err := r.structured(nodes); ok {
		return err
	}
	for _, n := range nodes {
		indent := strings.Repeat("  ", n.Depth)
		r.printf("%s- %s %s %s %s\n",
			indent,
			r.styles.title.Render(n.Task.Title),
			r.status(n.Task.Status),
			r.styles.faint.Render(fmt.Sprintf("%d%%", n.Task.CustomFields.Progress)),
			r.styles.faint.Render(n.Task.ID),
		)
	}
	return nil
}

// Timeline prints events in the given order.
func (r *Renderer) Timeline(events []model.TimelineEvent) error {
	if ok, err := r.structured(events); ok {
		return err
	}
	if len(events) == 0 {
		r.printf("no events\n")
		return nil
	}
	for _, ev := range events {
		marker := " "
		if ev.IsMilestone {
			marker = r.styles.milestone.Render("*")
		}
		r.printf("%s %s %-10s %s %s\n",
			r.styles.faint.Render(ev.EventDate.Format(timeFormat)),
			marker,
			ev.EventType,
			ev.Description,
			r.styles.faint.Render("("+ev.UserID+", "+ev.TaskID+")"),
		)
	}
	return nil
}

// Updates prints update records as a table.
func (r *Renderer) Updates(records []model.UpdateRecord) error {
	if ok, err := r.structured(records); ok {
		return err
	}
	if len(records) == 0 {
		r.printf("no updates\n")
		return nil
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("WHEN", "FIELD", "OLD", "NEW", "BY", "NOTES", "BATCH")
	for _, rec := range records {
		t.Row(
			rec.UpdatedAt.Format(timeFormat),
			ledger.FieldLabel(rec.FieldName),
			ledger.FormatValue(rec.OldValue),
			ledger.FormatValue(rec.NewValue),
			rec.UpdatedBy,
			rec.Notes,
			rec.BatchID,
		)
	}
	r.printf("%s\n", t.String())
	return nil
}

func (r *Renderer) field(label, value string) {
	r.printf("%s %s\n", r.styles.label.Render(label+":"), value)
}

func (r *Renderer) status(s model.Status) string {
	style, ok := r.styles.status[string(s)]
	if !ok {
		return string(s)
	}
	return style.Render("[" + string(s) + "]")
}

func (r *Renderer) dueNote(t model.TaskView) string {
	switch {
	case t.IsOverdue:
		return r.styles.warning.Render("(overdue)")
	case t.DaysRemaining == nil:
		return ""
	case *t.DaysRemaining == 1:
		return "(in 1 day)"
	}
	return fmt.Sprintf("(in %d days)", *t.DaysRemaining)
}

func formatHours(h float64) string {
	return strings.TrimSuffix(fmt.Sprintf("%.2f", h), ".00") + "h"
}
