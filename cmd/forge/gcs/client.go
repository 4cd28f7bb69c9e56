// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gcs uploads graph exports to Google Cloud Storage.
package gcs

import (
	"context"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

// Client uploads local files into one bucket.
type Client struct {
	storage *storage.Client
	bucket  string
}

// NewClient builds an uploader for bucket. credentialsPath selects a
// service-account key file; empty falls back to application default
// credentials.
func NewClient(ctx context.Context, bucket, credentialsPath string) (*Client, error) {
	if bucket == "" {
		return nil, fault.New(fault.KindInvalidInput, "bucket name is required")
	}

	var opts []option.ClientOption
	if credentialsPath != "" {
		if _, err := os.Stat(credentialsPath); err != nil {
			return nil, fault.Wrap(fault.KindInvalidInput, "credentials file", err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	sc, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidInput, "creating storage client", err)
	}
	return &Client{storage: sc, bucket: bucket}, nil
}

// Upload streams the file at localPath into the bucket as objectName.
func (c *Client) Upload(ctx context.Context, localPath, objectName string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fault.Wrap(fault.KindInvalidInput, "opening export file", err)
	}
	defer f.Close()

	w := c.storage.Bucket(c.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = "application/json"
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fault.Wrap(fault.KindDependencyUnavailable, "streaming object", err)
	}
	// Close commits the object; most upload errors surface here.
	if err := w.Close(); err != nil {
		return fault.Wrap(fault.KindDependencyUnavailable, "committing object", err)
	}
	return nil
}

// Close releases the underlying storage client.
func (c *Client) Close() error {
	return c.storage.Close()
}
