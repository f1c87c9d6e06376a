package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metalagman/taskledger/internal/config"
	"github.com/metalagman/taskledger/internal/model"
	"github.com/metalagman/taskledger/internal/render"
)

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func mustRunJSON(t *testing.T, v any, args ...string) {
	t.Helper()
	out, err := run(t, append([]string{"-o", "json"}, args...)...)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), v), out)
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{
		"status=completed",
		"custom_fields.progress=40",
		"custom_fields.tags=[\"a\",\"b\"]",
		"assignee_id=null",
		"title=\"2026\"",
		"description=a=b",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"status":                 "completed",
		"custom_fields.progress": float64(40),
		"custom_fields.tags":     []any{"a", "b"},
		"assignee_id":            nil,
		"title":                  "2026",
		"description":            "a=b",
	}, got)

	_, err = parseAssignments([]string{"missing"})
	require.Error(t, err)
	_, err = parseAssignments([]string{"=value"})
	require.Error(t, err)
}

func TestOptionalTime(t *testing.T) {
	got, err := optionalTime("")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = optionalTime("2026-03-10")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 10, got.Day())

	_, err = optionalTime("next week")
	require.Error(t, err)
}

func TestResolveConfigPath(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "repo")
	assert.Equal(t, filepath.Join(root, config.Dir, "config.yaml"), resolveConfigPath(root, ""))
	assert.Equal(t, filepath.Join(root, "custom.yaml"), resolveConfigPath(root, "custom.yaml"))
	abs := filepath.Join(string(filepath.Separator), "etc", "taskledger.yaml")
	assert.Equal(t, abs, resolveConfigPath(root, abs))
}

func TestLoadConfig_ResolvesSQLitePath(t *testing.T) {
	root := t.TempDir()

	cfg, err := loadConfig(root, defaultConfigPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, config.Dir, "taskledger.db"), cfg.Storage.DSN)

	_, err = loadConfig(root, "missing.yaml")
	require.Error(t, err)
}

func TestInit_WritesConfig(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	out, err := run(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "initialized successfully")

	data, err := os.ReadFile(filepath.Join(dir, config.Dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultYAML, string(data))
	assert.FileExists(t, filepath.Join(dir, config.Dir, "taskledger.db"))

	// A second run keeps the existing config.
	_, err = run(t, "init")
	require.NoError(t, err)
}

func TestTaskCommands_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	_, err := run(t, "init")
	require.NoError(t, err)

	var root render.Mutation
	mustRunJSON(t, &root, "task", "create", "Release", "--estimate", "10", "--tag", "release")
	require.NotEmpty(t, root.Task.ID)
	assert.Equal(t, 0, root.Task.Level)

	var child render.Mutation
	mustRunJSON(t, &child, "task", "create", "Write notes", "--parent", root.Task.ID, "--priority", "high", "--due", "2026-03-10")
	assert.Equal(t, 1, child.Task.Level)
	assert.Equal(t, root.Task.ID, child.Task.ParentID)

	var updated render.Mutation
	mustRunJSON(t, &updated, "task", "update", child.Task.ID,
		"--set", "status=completed",
		"--set", "custom_fields.progress=100",
		"--notes", "done",
		"--actor", "u1",
	)
	assert.Equal(t, model.StatusCompleted, updated.Task.Status)
	assert.ElementsMatch(t, []string{"status", "custom_fields.progress"}, updated.Changed)
	assert.NotEmpty(t, updated.BatchID)
	assert.Empty(t, updated.Warnings)

	var parent model.TaskView
	mustRunJSON(t, &parent, "task", "get", root.Task.ID)
	assert.Equal(t, 100, parent.CustomFields.Progress)

	var records []model.UpdateRecord
	mustRunJSON(t, &records, "task", "history", child.Task.ID, "--batch", updated.BatchID)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, "u1", rec.UpdatedBy)
		assert.Equal(t, "done", rec.Notes)
	}

	var events []model.TimelineEvent
	mustRunJSON(t, &events, "task", "timeline", root.Task.ID, "--subtasks", "--milestones")
	var types []string
	for _, ev := range events {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []string{model.EventCreated, model.EventCreated, model.EventCompleted}, types)

	var nodes []render.TreeNode
	mustRunJSON(t, &nodes, "task", "tree", root.Task.ID)
	require.Len(t, nodes, 2)
	assert.Equal(t, 0, nodes[0].Depth)
	assert.Equal(t, 1, nodes[1].Depth)

	var listed model.TaskPage
	mustRunJSON(t, &listed, "task", "list", "--roots")
	require.Len(t, listed.Tasks, 1)
	assert.Equal(t, root.Task.ID, listed.Tasks[0].ID)
	assert.Equal(t, 1, listed.Total)

	var paged model.TaskPage
	mustRunJSON(t, &paged, "task", "list", "--limit", "1", "--offset", "1")
	require.Len(t, paged.Tasks, 1)
	assert.Equal(t, child.Task.ID, paged.Tasks[0].ID)
	assert.Equal(t, 2, paged.Total)

	var added []model.TimelineEvent
	mustRunJSON(t, &added, "task", "event", root.Task.ID, "--type", "commented", "--description", "ship it", "--meta", "votes=3")
	require.Len(t, added, 1)
	assert.Equal(t, "commented", added[0].EventType)
	assert.Equal(t, float64(3), added[0].Metadata["votes"])
}

func TestTaskCommands_Errors(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	_, err := run(t, "init")
	require.NoError(t, err)

	_, err = run(t, "task", "get", "missing")
	require.ErrorContains(t, err, "task not found")

	_, err = run(t, "task", "create", "Orphan", "--parent", "missing")
	require.ErrorContains(t, err, "parent task not found")

	_, err = run(t, "task", "update", "missing")
	require.ErrorContains(t, err, "nothing to update")

	_, err = run(t, "task", "list", "--status", "done")
	require.ErrorContains(t, err, "unknown status")

	_, err = run(t, "task", "list", "--limit", "-1")
	require.ErrorContains(t, err, "must not be negative")

	_, err = run(t, "-o", "xml", "task", "list")
	require.Error(t, err)
}
