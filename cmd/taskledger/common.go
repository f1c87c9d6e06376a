package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/metalagman/taskledger/internal/app"
	"github.com/metalagman/taskledger/internal/ledger"
	"github.com/metalagman/taskledger/internal/render"
)

type serviceFunc func(ctx context.Context, svc *ledger.Service, out *render.Renderer) error

// withService starts the application graph, runs fn and stops the graph.
// A nil fn only opens and closes the storage.
func withService(cmd *cobra.Command, opts *rootOptions, fn serviceFunc) error {
	format, err := render.ParseFormat(opts.output)
	if err != nil {
		return err
	}
	repoRoot, err := workDir()
	if err != nil {
		return fmt.Errorf("get working dir: %w", err)
	}
	cfg, err := loadConfig(repoRoot, opts.configPath)
	if err != nil {
		return err
	}

	var svc *ledger.Service
	fxApp := fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		app.Module,
		fx.Populate(&svc),
	)
	if err := fxApp.Err(); err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := fxApp.Start(ctx); err != nil {
		return fmt.Errorf("start app: %w", err)
	}
	defer func() {
		if err := fxApp.Stop(context.Background()); err != nil {
			log.Error().Err(err).Msg("stop app")
		}
	}()

	if fn == nil {
		return nil
	}
	return fn(ctx, svc, render.New(cmd.OutOrStdout(), format))
}

func logWarnings(res ledger.Result) {
	for _, w := range res.Warnings {
		log.Warn().Str("task_id", w.TaskID).Str("field", w.Field).Str("kind", w.Kind).Err(w.Err).Msg("side effect failed")
	}
}
