package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/metalagman/taskledger/internal/config"
	"github.com/metalagman/taskledger/internal/ledger"
)

func startService(t *testing.T, cfg config.Config) (*ledger.Service, *fxtest.App) {
	t.Helper()
	var svc *ledger.Service
	app := fxtest.New(t,
		fx.NopLogger,
		fx.Supply(cfg),
		Module,
		fx.Populate(&svc),
	)
	app.RequireStart()
	return svc, app
}

func TestModule_Memory(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Storage.Driver = config.DriverMemory
	svc, app := startService(t, cfg)
	defer app.RequireStop()

	res, err := svc.CreateTask(context.Background(), ledger.NewTask{Title: "wired"}, "")
	require.NoError(t, err)
	got, err := svc.GetTask(context.Background(), res.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, "wired", got.Title)
}

func TestModule_SQLitePersistsAcrossRestarts(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "nested", "ledger.db")
	ctx := context.Background()

	svc, app := startService(t, cfg)
	res, err := svc.CreateTask(ctx, ledger.NewTask{Title: "durable"}, "")
	require.NoError(t, err)
	_, err = svc.UpdateTask(ctx, res.Task.ID, map[string]any{"custom_fields.tags": []any{"a", "b", "c"}}, "", "u1")
	require.NoError(t, err)
	app.RequireStop()

	svc, app = startService(t, cfg)
	defer app.RequireStop()
	got, err := svc.GetTask(ctx, res.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, "durable", got.Title)
	assert.Equal(t, []string{"a", "b", "c"}, got.CustomFields.Tags)
}

func TestNewService_RejectsUnknownPolicy(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Progress.Policy = "median"
	_, err := NewService(cfg, nil)
	require.Error(t, err)
}
