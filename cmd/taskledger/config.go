package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/metalagman/taskledger/internal/config"
)

var defaultConfigPath = filepath.Join(config.Dir, "config.yaml")

func resolveConfigPath(repoRoot, path string) string {
	if path == "" {
		path = defaultConfigPath
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(repoRoot, path)
	}
	return path
}

// loadConfig reads .env and the config file relative to repoRoot. Only an
// explicitly chosen config file has to exist.
func loadConfig(repoRoot, path string) (config.Config, error) {
	if err := config.LoadEnvFile(filepath.Join(repoRoot, ".env")); err != nil {
		return config.Config{}, err
	}
	required := path != "" && path != defaultConfigPath
	cfg, err := config.Load(resolveConfigPath(repoRoot, path), required)
	if err != nil {
		return config.Config{}, err
	}
	if cfg.Storage.Driver == config.DriverSQLite && isRelativeFile(cfg.Storage.DSN) {
		cfg.Storage.DSN = filepath.Join(repoRoot, cfg.Storage.DSN)
	}
	return cfg, nil
}

func isRelativeFile(dsn string) bool {
	return dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") && !filepath.IsAbs(dsn)
}

func workDir() (string, error) {
	return os.Getwd()
}
