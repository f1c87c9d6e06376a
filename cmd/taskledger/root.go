package main

import (
	"github.com/spf13/cobra"

	"github.com/metalagman/taskledger/internal/logging"
)

type rootOptions struct {
	configPath string
	debug      bool
	logJSON    bool
	output     string
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "taskledger",
		Short:         "taskledger tracks hierarchical tasks with a full change history",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logging.Setup(cmd.ErrOrStderr(), opts.debug, opts.logJSON)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "config file path")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "write logs as JSON lines")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "output format: text, json or yaml")

	cmd.AddCommand(initCmd(opts))
	cmd.AddCommand(taskCmd(opts))
	return cmd
}
