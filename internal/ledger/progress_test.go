package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metalagman/taskledger/internal/model"
)

func childTask(status model.Status, progress int, hours float64) model.Task {
	return model.Task{
		Status:       status,
		CustomFields: model.CustomFields{Progress: progress, EstimatedHours: hours},
	}
}

func TestProgressPolicy_Aggregate(t *testing.T) {
	t.Parallel()

	children := []model.Task{
		childTask(model.StatusCompleted, 0, 1),
		childTask(model.StatusInProgress, 50, 3),
		childTask(model.StatusTodo, 0, 0),
		childTask(model.StatusCancelled, 10, 8),
	}

	tests := []struct {
		policy ProgressPolicy
		want   int
	}{
		{policy: PolicyCompletedFraction, want: 33},
		{policy: PolicyAverage, want: 50},
		// weights 1, 3 and 1 (no estimate): (100 + 150 + 0) / 5
		{policy: PolicyWeightedHours, want: 50},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			t.Parallel()

			got, ok := tt.policy.Aggregate(children)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProgressPolicy_AggregateWithoutCountedChildren(t *testing.T) {
	t.Parallel()

	_, ok := PolicyCompletedFraction.Aggregate(nil)
	assert.False(t, ok)
	_, ok = PolicyAverage.Aggregate([]model.Task{childTask(model.StatusCancelled, 0, 0)})
	assert.False(t, ok)
}

func TestParseProgressPolicy(t *testing.T) {
	t.Parallel()

	p, err := ParseProgressPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyCompletedFraction, p)

	p, err = ParseProgressPolicy("weighted_hours")
	require.NoError(t, err)
	assert.Equal(t, PolicyWeightedHours, p)

	_, err = ParseProgressPolicy("median")
	require.Error(t, err)
}

func TestRecomputeAncestors_WalksToRoot(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	ctx := context.Background()

	root := mustCreate(t, svc, "root", "")
	mid := mustCreate(t, svc, "mid", root.ID)
	leafA := mustCreate(t, svc, "leaf a", mid.ID)
	mustCreate(t, svc, "leaf b", mid.ID)

	_, err := svc.UpdateTask(ctx, leafA.ID, map[string]any{"status": "completed"}, "", "u1")
	require.NoError(t, err)

	gotMid, err := svc.GetTask(ctx, mid.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, gotMid.CustomFields.Progress)

	// mid is not completed, so root stays at 0 under completed_fraction.
	gotRoot, err := svc.GetTask(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, gotRoot.CustomFields.Progress)
}

func TestRecomputeAncestors_AveragePropagatesPartialProgress(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil, WithProgressPolicy(PolicyAverage))
	ctx := context.Background()

	root := mustCreate(t, svc, "root", "")
	mid := mustCreate(t, svc, "mid", root.ID)
	leaf := mustCreate(t, svc, "leaf", mid.ID)

	_, err := svc.UpdateTask(ctx, leaf.ID, map[string]any{"custom_fields.progress": 60}, "", "u1")
	require.NoError(t, err)

	gotMid, err := svc.GetTask(ctx, mid.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, gotMid.CustomFields.Progress)
	gotRoot, err := svc.GetTask(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, gotRoot.CustomFields.Progress)

	records, err := svc.ListUpdates(ctx, root.ID, "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, progressNotes, records[0].Notes)
	assert.Equal(t, SystemActor, records[0].UpdatedBy)
}

func TestRecomputeAncestors_CancelledChildrenExcluded(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	ctx := context.Background()

	parent := mustCreate(t, svc, "parent", "")
	done := mustCreate(t, svc, "done", parent.ID)
	dropped := mustCreate(t, svc, "dropped", parent.ID)

	_, err := svc.UpdateTask(ctx, done.ID, map[string]any{"status": "completed"}, "", "u1")
	require.NoError(t, err)
	got, err := svc.GetTask(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.CustomFields.Progress)

	_, err = svc.UpdateTask(ctx, dropped.ID, map[string]any{"status": "cancelled"}, "", "u1")
	require.NoError(t, err)
	got, err = svc.GetTask(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.CustomFields.Progress)
}

func TestRecomputeAncestors_NewChildLowersProgress(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	ctx := context.Background()

	parent := mustCreate(t, svc, "parent", "")
	first := mustCreate(t, svc, "first", parent.ID)
	_, err := svc.UpdateTask(ctx, first.ID, map[string]any{"status": "completed"}, "", "u1")
	require.NoError(t, err)

	mustCreate(t, svc, "second", parent.ID)
	got, err := svc.GetTask(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.CustomFields.Progress)
}

func TestRecomputeAncestors_StatusPropagation(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil, WithStatusPropagation(true))
	ctx := context.Background()

	parent := mustCreate(t, svc, "parent", "")
	a := mustCreate(t, svc, "a", parent.ID)
	b := mustCreate(t, svc, "b", parent.ID)

	_, err := svc.UpdateTask(ctx, a.ID, map[string]any{"status": "completed"}, "", "u1")
	require.NoError(t, err)
	got, err := svc.GetTask(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, got.Status)
	assert.Nil(t, got.CompletedAt)

	_, err = svc.UpdateTask(ctx, b.ID, map[string]any{"status": "completed"}, "", "u1")
	require.NoError(t, err)
	got, err = svc.GetTask(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	completed, err := svc.GetTimeline(ctx, parent.ID, model.TimelineFilter{EventTypes: []string{model.EventCompleted}})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, SystemActor, completed[0].UserID)
}

func TestPropagatedStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		current  model.Status
		progress int
		want     model.Status
		move     bool
	}{
		{current: model.StatusTodo, progress: 0, want: model.StatusTodo},
		{current: model.StatusTodo, progress: 10, want: model.StatusInProgress, move: true},
		{current: model.StatusInProgress, progress: 10, want: model.StatusInProgress},
		{current: model.StatusInProgress, progress: 100, want: model.StatusCompleted, move: true},
		{current: model.StatusCancelled, progress: 100, want: model.StatusCancelled},
		{current: model.StatusCompleted, progress: 40, want: model.StatusCompleted},
	}
	for _, tt := range tests {
		got, move := propagatedStatus(tt.current, tt.progress)
		assert.Equal(t, tt.want, got, "%s at %d", tt.current, tt.progress)
		assert.Equal(t, tt.move, move, "%s at %d", tt.current, tt.progress)
	}
}
