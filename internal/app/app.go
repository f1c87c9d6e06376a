// Package app wires configuration, storage and the ledger service with fx.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"go.uber.org/fx"

	"github.com/metalagman/taskledger/internal/config"
	"github.com/metalagman/taskledger/internal/db"
	"github.com/metalagman/taskledger/internal/ledger"
	"github.com/metalagman/taskledger/internal/storage"
	"github.com/metalagman/taskledger/internal/storage/memstore"
	"github.com/metalagman/taskledger/internal/storage/sqlstore"
)

// Module provides storage.Port and *ledger.Service from a supplied config.Config.
var Module = fx.Module("taskledger",
	fx.Provide(NewStore, NewService),
)

// NewStore opens the storage port selected by cfg and closes it on stop.
func NewStore(lc fx.Lifecycle, cfg config.Config) (storage.Port, error) {
	store, err := openStore(context.Background(), cfg.Storage)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			if err := store.Close(); err != nil {
				return fmt.Errorf("close store: %w", err)
			}
			return nil
		},
	})
	log.Debug().Str("driver", cfg.Storage.Driver).Msg("storage opened")
	return store, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Port, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memstore.New(), nil
	case config.DriverSQLite:
		if err := ensureDir(cfg.DSN); err != nil {
			return nil, err
		}
		handle, err := db.Open(ctx, db.DriverSQLite, cfg.DSN, db.Options{})
		if err != nil {
			return nil, err
		}
		return sqlstore.New(handle, sqlstore.DialectSQLite), nil
	case config.DriverPostgres:
		handle, err := db.Open(ctx, db.DriverPostgres, cfg.DSN, db.Options{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		return sqlstore.New(handle, sqlstore.DialectPostgres), nil
	}
	return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
}

func ensureDir(dsn string) error {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}
	return nil
}

// NewService builds the ledger service from cfg.
func NewService(cfg config.Config, store storage.Port) (*ledger.Service, error) {
	policy, err := ledger.ParseProgressPolicy(cfg.Progress.Policy)
	if err != nil {
		return nil, fmt.Errorf("progress.policy: %w", err)
	}
	return ledger.NewService(store,
		ledger.WithProgressPolicy(policy),
		ledger.WithStatusPropagation(cfg.Progress.PropagateStatus),
		ledger.WithRetry(ledger.RetryPolicy{
			Attempts: cfg.Audit.RetryAttempts,
			Backoff:  cfg.Audit.RetryBackoff,
		}),
		ledger.WithOpTimeout(cfg.Storage.OpTimeout),
	), nil
}
