// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/taskmill/taskmill/internal/config"
	"github.com/taskmill/taskmill/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// serviceName tags every log line.
const serviceName = "taskmill"

// NewRootCmd creates the root command for the Taskmill CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taskmill",
		Short: "Taskmill - user accounts and authentication",
		Long: `Taskmill serves user registration, email confirmation, login with
rotating refresh tokens, and password reset over HTTP.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewMailWorkerCmd())

	return cmd
}

// loadConfig layers defaults, the --config file (or the XDG config file),
// TASKMILL_ environment variables and the changed flags of cmd named in
// flagKeys.
func loadConfig(cmd *cobra.Command, flagKeys map[string]string) (config.Config, error) {
	file := configFile
	if file == "" {
		var err error
		if file, err = xdg.DefaultConfigFile(); err != nil {
			return config.Config{}, err
		}
	}
	loader := config.Loader{
		File:     file,
		Flags:    cmd.Flags(),
		FlagKeys: flagKeys,
	}
	return loader.Load()
}
