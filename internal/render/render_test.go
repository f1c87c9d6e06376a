package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/metalagman/taskledger/internal/ledger"
	"github.com/metalagman/taskledger/internal/model"
)

var created = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func sampleTask() model.TaskView {
	due := created.Add(72 * time.Hour)
	days := 3
	return model.TaskView{
		Task: model.Task{
			ID:          "t-1",
			Title:       "Design",
			Description: "Draft the **schema**.",
			Status:      model.StatusInProgress,
			CreatedAt:   created,
			UpdatedAt:   created,
			DueDate:     &due,
			Children:    []string{"t-2"},
			CustomFields: model.CustomFields{
				Priority:   model.PriorityHigh,
				Progress:   40,
				Tags:       []string{"api", "v2"},
				Difficulty: 5,
				Extra:      map[string]any{"sla": "gold"},
			},
		},
		DaysRemaining: &days,
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)
	f, err = ParseFormat("yaml")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)
	_, err = ParseFormat("xml")
	require.Error(t, err)
}

func TestTask_Text(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, New(&buf, FormatText).Task(sampleTask()))

	out := buf.String()
	assert.Contains(t, out, "Design")
	assert.Contains(t, out, "[in_progress]")
	assert.Contains(t, out, "t-1")
	assert.Contains(t, out, "40%")
	assert.Contains(t, out, "api, v2")
	assert.Contains(t, out, "(in 3 days)")
	assert.Contains(t, out, `{"sla":"gold"}`)
	assert.Contains(t, out, "schema")
}

func TestTask_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, New(&buf, FormatJSON).Task(sampleTask()))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "Design", got["title"])
	assert.Equal(t, float64(3), got["days_remaining"])
	cf, ok := got["custom_fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"api", "v2"}, cf["tags"])
}

func TestTask_YAMLUsesJSONKeys(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, New(&buf, FormatYAML).Task(sampleTask()))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "id: t-1\n"), out)
	assert.Contains(t, out, "title: Design\n")
	assert.NotContains(t, out, "{")

	var got map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "in_progress", got["status"])
	assert.Equal(t, 3, got["days_remaining"])
}

func TestTree_IndentsByDepth(t *testing.T) {
	t.Parallel()

	root := sampleTask()
	child := sampleTask()
	child.ID = "t-2"
	child.Title = "Wireframes"

	var buf bytes.Buffer
	require.NoError(t, New(&buf, FormatText).Tree([]TreeNode{{Task: root}, {Depth: 1, Task: child}}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "- "))
	assert.True(t, strings.HasPrefix(lines[1], "  - "))
	assert.Contains(t, lines[1], "Wireframes")
}

func TestTimelineAndUpdates_Text(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := New(&buf, FormatText)
	require.NoError(t, r.Timeline([]model.TimelineEvent{{
		TaskID:      "t-1",
		EventType:   model.EventCompleted,
		EventDate:   created,
		UserID:      "u1",
		Description: "Completed task: Design",
		IsMilestone: true,
	}}))
	require.NoError(t, r.Updates([]model.UpdateRecord{{
		FieldName: "status",
		OldValue:  "todo",
		NewValue:  "completed",
		UpdatedBy: "u1",
		UpdatedAt: created,
		BatchID:   "b-1",
	}}))

	out := buf.String()
	assert.Contains(t, out, "Completed task: Design")
	assert.Contains(t, out, "(u1, t-1)")
	assert.Contains(t, out, "Status")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "b-1")
}

func TestEmptyListings(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := New(&buf, FormatText)
	require.NoError(t, r.Tasks(model.TaskPage{}))
	require.NoError(t, r.Timeline(nil))
	require.NoError(t, r.Updates(nil))
	assert.Equal(t, "no tasks\nno events\nno updates\n", buf.String())

	buf.Reset()
	require.NoError(t, New(&buf, FormatJSON).Tasks(model.TaskPage{Tasks: []model.TaskView{}}))
	assert.JSONEq(t, `{"tasks": [], "total": 0}`, buf.String())
}

func TestTasks_Pages(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := New(&buf, FormatText)
	page := model.TaskPage{Tasks: []model.TaskView{sampleTask()}, Total: 3, Limit: 1, Offset: 1}
	require.NoError(t, r.Tasks(page))
	assert.Contains(t, buf.String(), sampleTask().Title)
	assert.Contains(t, buf.String(), "showing 2-2 of 3")

	buf.Reset()
	require.NoError(t, r.Tasks(model.TaskPage{Tasks: []model.TaskView{}, Total: 3, Offset: 5}))
	assert.Equal(t, "no tasks on this page (3 total)\n", buf.String())

	buf.Reset()
	require.NoError(t, New(&buf, FormatJSON).Tasks(page))
	assert.Contains(t, buf.String(), `"total": 3`)
	assert.Contains(t, buf.String(), `"offset": 1`)
}

func TestMutation_IncludesWarnings(t *testing.T) {
	t.Parallel()

	res := ledger.Result{
		Task:    sampleTask(),
		BatchID: "b-1",
		Changed: []string{"status"},
		Warnings: []ledger.Warning{{
			TaskID: "t-1",
			Field:  "status",
			Kind:   ledger.WarnUpdateRecord,
			Err:    ledger.ErrStorageUnavailable,
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, New(&buf, FormatJSON).Mutation(NewMutation(res)))
	var got Mutation
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "b-1", got.BatchID)
	require.Len(t, got.Warnings, 1)
	assert.Contains(t, got.Warnings[0], "update_record")

	buf.Reset()
	require.NoError(t, New(&buf, FormatText).Mutation(NewMutation(res)))
	assert.Contains(t, buf.String(), "changed: status (batch b-1)")
	assert.Contains(t, buf.String(), "warning:")
}
