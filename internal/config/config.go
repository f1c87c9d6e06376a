// Package config provides configuration loading and management for taskledger.
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Dir is the per-project directory holding the config file and SQLite database.
const Dir = ".taskledger"

// Config is the root configuration.
type Config struct {
	Storage  StorageConfig  `json:"storage"  mapstructure:"storage"`
	Progress ProgressConfig `json:"progress" mapstructure:"progress"`
	Audit    AuditConfig    `json:"audit"    mapstructure:"audit"`
}

// StorageConfig selects the storage port and tunes its connections.
// DSN is a file path for sqlite and a connection string for postgres.
type StorageConfig struct {
	Driver          string        `json:"driver"                      mapstructure:"driver"`
	DSN             string        `json:"dsn,omitempty"               mapstructure:"dsn"`
	OpTimeout       time.Duration `json:"op_timeout,omitempty"        mapstructure:"op_timeout"`
	MaxOpenConns    int           `json:"max_open_conns,omitempty"    mapstructure:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty"    mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" mapstructure:"conn_max_lifetime"`
}

// ProgressConfig controls how parent progress follows its subtasks.
type ProgressConfig struct {
	Policy          string `json:"policy"           mapstructure:"policy"`
	PropagateStatus bool   `json:"propagate_status" mapstructure:"propagate_status"`
}

// AuditConfig bounds retries of update-record and timeline writes.
type AuditConfig struct {
	RetryAttempts int           `json:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `json:"retry_backoff"  mapstructure:"retry_backoff"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Driver:    DriverSQLite,
			DSN:       filepath.Join(Dir, "taskledger.db"),
			OpTimeout: 5 * time.Second,
		},
		Progress: ProgressConfig{
			Policy: "completed_fraction",
		},
		Audit: AuditConfig{
			RetryAttempts: 3,
			RetryBackoff:  50 * time.Millisecond,
		},
	}
}

// Validate checks cross-field constraints the schema cannot express.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver: unsupported driver %q", c.Storage.Driver)
	}
	if c.Storage.OpTimeout < 0 {
		return fmt.Errorf("storage.op_timeout must be >= 0")
	}
	if c.Audit.RetryAttempts < 1 {
		return fmt.Errorf("audit.retry_attempts must be > 0")
	}
	if c.Audit.RetryBackoff < 0 {
		return fmt.Errorf("audit.retry_backoff must be >= 0")
	}
	return nil
}

// DefaultYAML is written by `taskledger init`.
const DefaultYAML = `storage:
  driver: sqlite
  dsn: .taskledger/taskledger.db
  op_timeout: 5s
progress:
  policy: completed_fraction
  propagate_status: false
audit:
  retry_attempts: 3
  retry_backoff: 50ms
`
