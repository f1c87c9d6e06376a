package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. TASKLEDGER_STORAGE_DRIVER.
const EnvPrefix = "TASKLEDGER"

// Load reads the YAML file at path over the defaults and applies environment
// overrides. A missing file is only an error when required is set.
func Load(path string, required bool) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := validateFile(data); err != nil {
				return Config{}, fmt.Errorf("config %s: %w", path, err)
			}
			v.SetConfigType("yaml")
			if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist) && !required:
		default:
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is ignored.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func validateFile(data []byte) error {
	var settings map[string]any
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if settings == nil {
		settings = map[string]any{}
	}
	return ValidateSettings(settings)
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.dsn", d.Storage.DSN)
	v.SetDefault("storage.op_timeout", d.Storage.OpTimeout)
	v.SetDefault("storage.max_open_conns", d.Storage.MaxOpenConns)
	v.SetDefault("storage.max_idle_conns", d.Storage.MaxIdleConns)
	v.SetDefault("storage.conn_max_lifetime", d.Storage.ConnMaxLifetime)
	v.SetDefault("progress.policy", d.Progress.Policy)
	v.SetDefault("progress.propagate_status", d.Progress.PropagateStatus)
	v.SetDefault("audit.retry_attempts", d.Audit.RetryAttempts)
	v.SetDefault("audit.retry_backoff", d.Audit.RetryBackoff)
}
