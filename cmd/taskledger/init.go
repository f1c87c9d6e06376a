package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/metalagman/taskledger/internal/config"
)

func initCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a taskledger project",
		Long:  "Initialize a taskledger project by creating the .taskledger directory and installing a default config.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repoRoot, err := workDir()
			if err != nil {
				return fmt.Errorf("get working dir: %w", err)
			}

			ledgerDir := filepath.Join(repoRoot, config.Dir)
			log.Info().Str("dir", ledgerDir).Msg("creating taskledger directory")
			if err := os.MkdirAll(ledgerDir, 0o755); err != nil {
				return fmt.Errorf("create taskledger dir: %w", err)
			}

			configPath := resolveConfigPath(repoRoot, opts.configPath)
			if _, err := os.Stat(configPath); err == nil {
				log.Info().Str("path", configPath).Msg("config already exists, skipping")
			} else if errors.Is(err, fs.ErrNotExist) {
				log.Info().Str("path", configPath).Msg("installing default config")
				if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
					return fmt.Errorf("create config dir: %w", err)
				}
				if err := os.WriteFile(configPath, []byte(config.DefaultYAML), 0o644); err != nil {
					return fmt.Errorf("write default config: %w", err)
				}
			} else {
				return fmt.Errorf("stat config: %w", err)
			}

			// Opening the store once applies the migrations.
			if err := withService(cmd, opts, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "taskledger initialized successfully")
			return nil
		},
	}
}
