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
	"context"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianForge/pkg/ux"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage the graph schema",
}

var schemaApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply uniqueness constraints and indexes to the graph",
	Long: `Creates the constraints and indexes the forge tools rely on. The
statements are idempotent; re-running against an up-to-date database
is a no-op. The serve command applies the same schema at startup, so
this exists for provisioning a database before first boot.`,
	Args: cobra.NoArgs,
	RunE: runSchemaApply,
}

func init() {
	schemaCmd.AddCommand(schemaApplyCmd)
}

func runSchemaApply(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := cliLogger(cfg)
	defer log.Close()

	client, err := dialGraph(cfg, log)
	if err != nil {
		return err
	}
	defer client.Close(context.Background())

	return ux.WithSpinner("Applying graph schema", func() error {
		return client.ApplySchema(cmd.Context())
	})
}
