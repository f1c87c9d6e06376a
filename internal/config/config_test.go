package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_DefaultYAMLMatchesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, DefaultYAML), true)
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("config = %+v, want %+v", cfg, Default())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "nope.yaml")
	cfg, err := Load(missing, false)
	if err != nil {
		t.Fatalf("load optional config: %v", err)
	}
	if cfg.Storage.Driver != DriverSQLite {
		t.Fatalf("storage.driver = %q, want %q", cfg.Storage.Driver, DriverSQLite)
	}

	if _, err := Load(missing, true); err == nil {
		t.Fatal("expected error for missing required config")
	}
}

func TestLoad_ParsesValues(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `storage:
  driver: postgres
  dsn: postgres://ledger@localhost/ledger?sslmode=disable
  op_timeout: 2s
  max_open_conns: 8
  conn_max_lifetime: 30m
progress:
  policy: weighted_hours
  propagate_status: true
audit:
  retry_attempts: 5
  retry_backoff: 10ms
`)
	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Storage.Driver != DriverPostgres {
		t.Fatalf("storage.driver = %q, want %q", cfg.Storage.Driver, DriverPostgres)
	}
	if cfg.Storage.OpTimeout != 2*time.Second {
		t.Fatalf("storage.op_timeout = %v, want 2s", cfg.Storage.OpTimeout)
	}
	if cfg.Storage.MaxOpenConns != 8 {
		t.Fatalf("storage.max_open_conns = %d, want 8", cfg.Storage.MaxOpenConns)
	}
	if cfg.Storage.ConnMaxLifetime != 30*time.Minute {
		t.Fatalf("storage.conn_max_lifetime = %v, want 30m", cfg.Storage.ConnMaxLifetime)
	}
	if cfg.Progress.Policy != "weighted_hours" || !cfg.Progress.PropagateStatus {
		t.Fatalf("progress = %+v", cfg.Progress)
	}
	if cfg.Audit.RetryAttempts != 5 || cfg.Audit.RetryBackoff != 10*time.Millisecond {
		t.Fatalf("audit = %+v", cfg.Audit)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("TASKLEDGER_STORAGE_DRIVER", "memory")
	t.Setenv("TASKLEDGER_AUDIT_RETRY_BACKOFF", "1s")

	cfg, err := Load(writeConfig(t, DefaultYAML), true)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Storage.Driver != DriverMemory {
		t.Fatalf("storage.driver = %q, want %q", cfg.Storage.Driver, DriverMemory)
	}
	if cfg.Audit.RetryBackoff != time.Second {
		t.Fatalf("audit.retry_backoff = %v, want 1s", cfg.Audit.RetryBackoff)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	if err := LoadEnvFile(filepath.Join(dir, ".env")); err != nil {
		t.Fatalf("missing env file: %v", err)
	}

	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TASKLEDGER_PROGRESS_POLICY=average\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("TASKLEDGER_PROGRESS_POLICY", "")
	os.Unsetenv("TASKLEDGER_PROGRESS_POLICY")
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("load env file: %v", err)
	}

	cfg, err := Load("", false)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Progress.Policy != "average" {
		t.Fatalf("progress.policy = %q, want %q", cfg.Progress.Policy, "average")
	}
}

func TestLoad_RejectsInvalidFiles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "unknown key", content: "storage:\n  engine: sqlite\n", wantErr: "engine"},
		{name: "unknown driver", content: "storage:\n  driver: mysql\n", wantErr: "storage.driver"},
		{name: "bad policy", content: "progress:\n  policy: median\n", wantErr: "progress.policy"},
		{name: "bad duration", content: "audit:\n  retry_backoff: soon\n", wantErr: "audit.retry_backoff"},
		{name: "zero retries", content: "audit:\n  retry_attempts: 0\n", wantErr: "audit.retry_attempts"},
		{name: "postgres without dsn", content: "storage:\n  driver: postgres\n  dsn: \"\"\n", wantErr: "storage.dsn"},
		{name: "not yaml", content: "storage: [", wantErr: "parse yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Load(writeConfig(t, tt.content), true)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, ""), true)
	if err != nil {
		t.Fatalf("load empty config: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("config = %+v, want defaults", cfg)
	}
}

func TestValidateSettings_ReportsEveryViolation(t *testing.T) {
	t.Parallel()

	err := ValidateSettings(map[string]any{
		"storage": map[string]any{"engine": "sqlite", "driver": "mysql"},
		"extra":   true,
	})
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("error = %v, want *SchemaError", err)
	}
	var paths []string
	for _, v := range schemaErr.Violations {
		path, _, _ := strings.Cut(v, ": ")
		paths = append(paths, path)
	}
	want := []string{"extra", "storage.driver", "storage.engine"}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Fatalf("violation paths = %v, want %v", paths, want)
	}

	if err := ValidateSettings(map[string]any{}); err != nil {
		t.Fatalf("empty settings: %v", err)
	}
}
