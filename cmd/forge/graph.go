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
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianForge/cmd/forge/gcs"
	"github.com/AleutianAI/AleutianForge/pkg/ux"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Operate on the code graph",
}

var (
	exportOut    string
	exportBucket string
	exportCreds  string
	exportPrefix string

	graphExportCmd = &cobra.Command{
		Use:   "export",
		Short: "Dump the graph to a JSON file",
		Long: `Streams every node and relationship into a JSON document, suitable
for backups or moving a graph between environments. With --gcs-bucket
the dump is also uploaded to Google Cloud Storage.`,
		Args: cobra.NoArgs,
		RunE: runGraphExport,
	}
)

func init() {
	graphExportCmd.Flags().StringVar(&exportOut, "out", "dump.json", "destination file for the JSON dump")
	graphExportCmd.Flags().StringVar(&exportBucket, "gcs-bucket", "", "GCS bucket to upload the dump to")
	graphExportCmd.Flags().StringVar(&exportCreds, "gcs-credentials", "", "service-account key file for the upload")
	graphExportCmd.Flags().StringVar(&exportPrefix, "gcs-prefix", "", "object name prefix inside the bucket")
	graphCmd.AddCommand(graphExportCmd)
}

func runGraphExport(cmd *cobra.Command, _ []string) error {
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

	f, err := os.Create(exportOut)
	if err != nil {
		return fault.Wrap(fault.KindInvalidInput, "creating export file", err)
	}
	err = ux.WithSpinner("Exporting graph to "+exportOut, func() error {
		return client.Export(cmd.Context(), f)
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	if exportBucket == "" {
		return nil
	}

	uploader, err := gcs.NewClient(cmd.Context(), exportBucket, exportCreds)
	if err != nil {
		return err
	}
	defer uploader.Close()

	object := path.Join(exportPrefix, filepath.Base(exportOut))
	return ux.WithSpinner(fmt.Sprintf("Uploading gs://%s/%s", exportBucket, object), func() error {
		return uploader.Upload(cmd.Context(), exportOut, object)
	})
}
