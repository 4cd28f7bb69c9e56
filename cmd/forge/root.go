// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/services/forge/config"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
)

// serviceName labels logs, telemetry, and the startup banner.
const serviceName = "aleutian-forge"

// Exit codes are stable for scripts.
const (
	exitOK     = 0
	exitError  = 1
	exitUsage  = 2
	exitDeps   = 3
	exitConfig = 4
)

// errConfig marks configuration the process refuses to start with.
var errConfig = errors.New("configuration rejected")

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "AleutianForge coding platform server and operator tools",
	Long: `Forge serves lint, execute, test, generate, and code-graph tools over
HTTP and MCP, and bundles the operator commands that go with them:
token minting, schema management, and graph exports.

Configuration comes from the environment; see the deployment docs for
the full variable list.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// parsedOK flips once cobra has resolved a runnable command and
// validated its flags and arguments. Errors raised before that point
// are usage errors.
var parsedOK bool

func init() {
	rootCmd.PersistentPreRun = func(*cobra.Command, []string) { parsedOK = true }
	rootCmd.AddCommand(serveCmd, tokenCmd, schemaCmd, graphCmd, versionCmd)
}

func execute() error {
	parsedOK = false
	err := rootCmd.Execute()
	if err != nil && !parsedOK {
		return fault.Wrap(fault.KindInvalidInput, "invalid usage", err)
	}
	return err
}

// exitCode maps an error to the process exit status: 0 success, 2
// invalid arguments, 3 backing dependency unavailable, 4 configuration
// rejected, 1 anything else.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, errConfig) {
		return exitConfig
	}
	switch fault.KindOf(err) {
	case fault.KindInvalidInput:
		return exitUsage
	case fault.KindDependencyUnavailable, fault.KindBusy, fault.KindTimeout:
		return exitDeps
	default:
		return exitError
	}
}

// loadConfig reads and validates the environment configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConfig, err)
	}
	return cfg, nil
}

// cliLogger returns a quiet logger for one-shot commands: stderr stays
// free for ux output, file logging still applies when configured.
func cliLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Log.Level),
		LogDir:  cfg.Log.Dir,
		Service: serviceName,
		JSON:    true,
		Quiet:   true,
	})
}

// dialGraph builds a plain graph client for operator commands. No
// cache or breakers; queries go straight to the database.
func dialGraph(cfg *config.Config, log *logging.Logger) (*graph.Client, error) {
	executor, err := graph.NewDriverExecutor(cfg.Graph)
	if err != nil {
		return nil, err
	}
	return graph.NewClient(executor, graph.Options{
		Database: cfg.Graph.Database,
		RowLimit: cfg.Graph.RowLimit,
		Logger:   log,
	}), nil
}
