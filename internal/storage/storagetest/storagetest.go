// Package storagetest holds the behavior every storage.Port must share.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metalagman/taskledger/internal/model"
	"github.com/metalagman/taskledger/internal/storage"
)

// Factory returns a fresh, empty store. The store is closed by the suite.
type Factory func(t *testing.T) storage.Port

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

func newTask(id, parentID string, level int) model.Task {
	return model.Task{
		ID:        id,
		Title:     "task " + id,
		Status:    model.StatusTodo,
		CreatedAt: base,
		UpdatedAt: base,
		ParentID:  parentID,
		Level:     level,
		Children:  []string{},
		CustomFields: model.CustomFields{
			Priority:   model.PriorityMedium,
			Tags:       []string{},
			Difficulty: model.DefaultDifficulty,
		},
	}
}

// Run executes the conformance suite against stores built by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	open := func(t *testing.T) storage.Port {
		t.Helper()
		store := factory(t)
		t.Cleanup(func() { _ = store.Close() })
		return store
	}

	t.Run("CreateAndLoadRoundTrip", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		due := at(60 * 24)
		assignee := "u1"
		task := newTask("t1", "", 0)
		task.Description = "first"
		task.AssigneeID = &assignee
		task.DueDate = &due
		task.CustomFields.Tags = []string{"a", "b", "c"}
		task.CustomFields.EstimatedHours = 2.5
		task.CustomFields.Extra = map[string]any{"sprint": map[string]any{"name": "s1", "points": 3}}
		require.NoError(t, store.CreateTask(ctx, task))

		got, err := store.LoadTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "first", got.Description)
		require.NotNil(t, got.AssigneeID)
		assert.Equal(t, "u1", *got.AssigneeID)
		require.NotNil(t, got.DueDate)
		assert.True(t, got.DueDate.Equal(due))
		assert.True(t, got.CreatedAt.Equal(base))
		assert.Equal(t, []string{"a", "b", "c"}, got.CustomFields.Tags)
		assert.InDelta(t, 2.5, got.CustomFields.EstimatedHours, 0.0001)
		assert.Equal(t, map[string]any{"sprint": map[string]any{"name": "s1", "points": float64(3)}}, got.CustomFields.Extra)
		assert.Empty(t, got.Children)
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("LoadMissingTask", func(t *testing.T) {
		store := open(t)
		_, err := store.LoadTask(context.Background(), "missing")
		require.Error(t, err)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ChildrenKeepCreationOrder", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		require.NoError(t, store.CreateTask(ctx, newTask("root", "", 0)))
		for _, id := range []string{"c1", "c2", "c3"} {
			require.NoError(t, store.CreateTask(ctx, newTask(id, "root", 1)))
		}
		root, err := store.LoadTask(ctx, "root")
		require.NoError(t, err)
		assert.Equal(t, []string{"c1", "c2", "c3"}, root.Children)

		child, err := store.LoadTask(ctx, "c2")
		require.NoError(t, err)
		assert.Equal(t, "root", child.ParentID)
		assert.Equal(t, 1, child.Level)
	})

	t.Run("CreateUnderMissingParentPersistsNothing", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		err := store.CreateTask(ctx, newTask("orphan", "ghost", 1))
		require.Error(t, err)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		_, err = store.LoadTask(ctx, "orphan")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		tasks, total, err := store.ListTasks(ctx, model.TaskFilter{})
		require.NoError(t, err)
		assert.Empty(t, tasks)
		assert.Zero(t, total)
	})

	t.Run("SaveTaskKeepsHierarchy", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		require.NoError(t, store.CreateTask(ctx, newTask("root", "", 0)))
		require.NoError(t, store.CreateTask(ctx, newTask("child", "root", 1)))

		root, err := store.LoadTask(ctx, "root")
		require.NoError(t, err)
		done := at(5)
		root.Status = model.StatusCompleted
		root.CompletedAt = &done
		root.UpdatedAt = done
		root.CustomFields.Progress = 100
		root.Children = nil
		root.Level = 7
		require.NoError(t, store.SaveTask(ctx, root))

		got, err := store.LoadTask(ctx, "root")
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, got.CompletedAt.Equal(done))
		assert.Equal(t, 100, got.CustomFields.Progress)
		assert.Equal(t, []string{"child"}, got.Children)
		assert.Equal(t, 0, got.Level)
	})

	t.Run("SaveMissingTask", func(t *testing.T) {
		store := open(t)
		err := store.SaveTask(context.Background(), newTask("nope", "", 0))
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ReturnedValuesAreCopies", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		task := newTask("t1", "", 0)
		task.CustomFields.Tags = []string{"x"}
		require.NoError(t, store.CreateTask(ctx, task))
		task.CustomFields.Tags[0] = "mutated"

		got, err := store.LoadTask(ctx, "t1")
		require.NoError(t, err)
		got.CustomFields.Tags[0] = "changed"

		again, err := store.LoadTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, []string{"x"}, again.CustomFields.Tags)
	})

	t.Run("ListTasksFilters", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		alice := "alice"
		dueSoon := at(60)
		dueLate := at(60 * 48)

		root := newTask("root", "", 0)
		root.Title = "Quarterly planning"
		require.NoError(t, store.CreateTask(ctx, root))

		a := newTask("a", "root", 1)
		a.Title = "Draft 100% budget"
		a.AssigneeID = &alice
		a.DueDate = &dueSoon
		require.NoError(t, store.CreateTask(ctx, a))

		b := newTask("b", "root", 1)
		b.Description = "Review the PLAN with finance"
		b.Status = model.StatusInProgress
		b.DueDate = &dueLate
		require.NoError(t, store.CreateTask(ctx, b))

		ids := func(filter model.TaskFilter) []string {
			t.Helper()
			tasks, _, err := store.ListTasks(ctx, filter)
			require.NoError(t, err)
			out := []string{}
			for _, task := range tasks {
				out = append(out, task.ID)
			}
			return out
		}

		assert.Equal(t, []string{"root", "a", "b"}, ids(model.TaskFilter{}))
		assert.Equal(t, []string{"root"}, ids(model.TaskFilter{RootsOnly: true}))
		assert.Equal(t, []string{"a", "b"}, ids(model.TaskFilter{ParentID: "root"}))
		assert.Equal(t, []string{"b"}, ids(model.TaskFilter{Status: model.StatusInProgress}))
		assert.Equal(t, []string{"a"}, ids(model.TaskFilter{AssigneeID: "alice"}))
		assert.Equal(t, []string{"root", "b"}, ids(model.TaskFilter{Search: "plan"}))
		assert.Equal(t, []string{"a"}, ids(model.TaskFilter{Search: "100%"}))
		end := at(60 * 24)
		assert.Equal(t, []string{"a"}, ids(model.TaskFilter{DueBefore: &end}))
		assert.Equal(t, []string{"b"}, ids(model.TaskFilter{DueAfter: &end}))

		tasks, _, err := store.ListTasks(ctx, model.TaskFilter{RootsOnly: true})
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, []string{"a", "b"}, tasks[0].Children)
	})

	t.Run("ListTasksSearchFoldsUnicode", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		fr := newTask("fr", "", 0)
		fr.Title = "Écrire le rapport"
		require.NoError(t, store.CreateTask(ctx, fr))
		de := newTask("de", "", 0)
		de.Description = "ÜBERPRÜFUNG der Zahlen"
		require.NoError(t, store.CreateTask(ctx, de))
		require.NoError(t, store.CreateTask(ctx, newTask("plain", "", 0)))

		for search, want := range map[string][]string{
			"écrire":      {"fr"},
			"ÉCRIRE":      {"fr"},
			"überprüfung": {"de"},
			"r":           {"fr", "de"},
		} {
			tasks, total, err := store.ListTasks(ctx, model.TaskFilter{Search: search})
			require.NoError(t, err)
			got := []string{}
			for _, task := range tasks {
				got = append(got, task.ID)
			}
			assert.Equal(t, want, got, "search %q", search)
			assert.Equal(t, len(want), total, "search %q", search)
		}
	})

	t.Run("ListTasksPages", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		for _, id := range []string{"p1", "p2", "p3", "p4", "p5"} {
			task := newTask(id, "", 0)
			task.Title = "page " + id
			require.NoError(t, store.CreateTask(ctx, task))
		}
		odd := newTask("x", "", 0)
		odd.Title = "unrelated"
		require.NoError(t, store.CreateTask(ctx, odd))

		page := func(filter model.TaskFilter) ([]string, int) {
			t.Helper()
			tasks, total, err := store.ListTasks(ctx, filter)
			require.NoError(t, err)
			out := []string{}
			for _, task := range tasks {
				out = append(out, task.ID)
			}
			return out, total
		}

		got, total := page(model.TaskFilter{Limit: 2})
		assert.Equal(t, []string{"p1", "p2"}, got)
		assert.Equal(t, 6, total)

		got, total = page(model.TaskFilter{Limit: 2, Offset: 4})
		assert.Equal(t, []string{"p5", "x"}, got)
		assert.Equal(t, 6, total)

		got, total = page(model.TaskFilter{Offset: 5})
		assert.Equal(t, []string{"x"}, got)
		assert.Equal(t, 6, total)

		got, total = page(model.TaskFilter{Limit: 3, Offset: 10})
		assert.Empty(t, got)
		assert.Equal(t, 6, total)

		got, total = page(model.TaskFilter{Search: "PAGE", Limit: 2, Offset: 2})
		assert.Equal(t, []string{"p3", "p4"}, got)
		assert.Equal(t, 5, total)
	})

	t.Run("UpdateRecordsKeepValuesAndOrder", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		records := []model.UpdateRecord{
			{ID: "r1", TaskID: "t1", FieldName: "status", UpdateType: "status", OldValue: "todo", NewValue: "completed", UpdatedBy: "u1", UpdatedAt: at(1), Notes: "done", BatchID: "b1"},
			{ID: "r2", TaskID: "t1", FieldName: "custom_fields.tags", UpdateType: "custom_field", OldValue: []any{}, NewValue: []any{"a", "b"}, UpdatedBy: "u1", UpdatedAt: at(1), BatchID: "b1"},
			{ID: "r3", TaskID: "t1", FieldName: "custom_fields.progress", UpdateType: "progress", OldValue: 0, NewValue: 50, UpdatedBy: "system", UpdatedAt: at(2), BatchID: "b2"},
			{ID: "r4", TaskID: "t2", FieldName: "assignee_id", UpdateType: "assignee", OldValue: nil, NewValue: "u2", UpdatedBy: "u1", UpdatedAt: at(3), BatchID: "b3"},
		}
		for _, rec := range records {
			require.NoError(t, store.SaveUpdateRecord(ctx, rec))
		}

		all, err := store.ListUpdateRecords(ctx, "t1", "")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "r1", all[0].ID)
		assert.Equal(t, "todo", all[0].OldValue)
		assert.Equal(t, "completed", all[0].NewValue)
		assert.Equal(t, []any{"a", "b"}, all[1].NewValue)
		assert.Equal(t, float64(50), all[2].NewValue)
		assert.True(t, all[2].UpdatedAt.Equal(at(2)))

		batch, err := store.ListUpdateRecords(ctx, "t1", "b1")
		require.NoError(t, err)
		assert.Len(t, batch, 2)

		other, err := store.ListUpdateRecords(ctx, "t2", "")
		require.NoError(t, err)
		require.Len(t, other, 1)
		assert.Nil(t, other[0].OldValue)
	})

	t.Run("TimelineQueryFiltersAndSorts", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		events := []model.TimelineEvent{
			{ID: "e3", TaskID: "t1", EventType: model.EventCompleted, EventDate: at(30), UserID: "u1", IsMilestone: true},
			{ID: "e1", TaskID: "t1", EventType: model.EventCreated, EventDate: at(0), UserID: "system", IsMilestone: true,
				Metadata: map[string]any{"initial_status": "todo"}},
			{ID: "e2", TaskID: "t1", EventType: model.EventUpdated, EventDate: at(10), UserID: "u1",
				Metadata: map[string]any{"old_value": 0, "new_value": []any{"x"}}},
			{ID: "e2b", TaskID: "t1", EventType: model.EventUpdated, EventDate: at(10), UserID: "u1"},
			{ID: "e4", TaskID: "t2", EventType: model.EventCreated, EventDate: at(5), UserID: "system", IsMilestone: true},
			{ID: "e5", TaskID: "t3", EventType: model.EventCreated, EventDate: at(1), UserID: "system", IsMilestone: true},
		}
		for _, ev := range events {
			require.NoError(t, store.SaveTimelineEvent(ctx, ev))
		}

		ids := func(taskIDs []string, filter model.TimelineFilter) []string {
			t.Helper()
			got, err := store.QueryTimelineEvents(ctx, taskIDs, filter)
			require.NoError(t, err)
			out := []string{}
			for _, ev := range got {
				out = append(out, ev.ID)
			}
			return out
		}

		assert.Equal(t, []string{"e1", "e2", "e2b", "e3"}, ids([]string{"t1"}, model.TimelineFilter{}))
		assert.Equal(t, []string{"e1", "e4", "e2", "e2b", "e3"}, ids([]string{"t1", "t2"}, model.TimelineFilter{}))

		start, end := at(5), at(10)
		assert.Equal(t, []string{"e4", "e2", "e2b"}, ids([]string{"t1", "t2"}, model.TimelineFilter{Start: &start, End: &end}))
		assert.Equal(t, []string{"e1", "e4"}, ids([]string{"t1", "t2"}, model.TimelineFilter{EventTypes: []string{model.EventCreated}}))
		assert.Equal(t, []string{"e1", "e3"}, ids([]string{"t1"}, model.TimelineFilter{MilestonesOnly: true}))
		assert.Empty(t, ids(nil, model.TimelineFilter{}))

		got, err := store.QueryTimelineEvents(ctx, []string{"t1"}, model.TimelineFilter{EventTypes: []string{model.EventUpdated}})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, map[string]any{"old_value": float64(0), "new_value": []any{"x"}}, got[0].Metadata)
		assert.False(t, got[0].IsMilestone)
	})
}
