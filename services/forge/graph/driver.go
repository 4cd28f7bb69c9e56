// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jconf "github.com/neo4j/neo4j-go-driver/v5/neo4j/config"

	"github.com/AleutianAI/AleutianForge/services/forge/config"
)

// driverExecutor adapts the neo4j driver to the Executor seam. It
// performs no retry and trips no breaker; the Client layers those.
type driverExecutor struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewDriverExecutor opens a pooled driver against the configured
// endpoint. Driver-internal transaction retry is disabled; the retry
// policy lives one layer up where it can cooperate with the breakers.
func NewDriverExecutor(cfg config.Graph) (Executor, error) {
	auth := neo4j.NoAuth()
	if cfg.User != "" {
		auth = neo4j.BasicAuth(cfg.User, cfg.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4jconf.Config) {
		c.MaxConnectionPoolSize = cfg.PoolMax
		c.ConnectionAcquisitionTimeout = cfg.AcquireTimeout
		c.MaxConnectionLifetime = cfg.ConnLifetime
		c.SocketKeepalive = true
		c.MaxTransactionRetryTime = 0
		c.UserAgent = "aleutian-forge"
	})
	if err != nil {
		return nil, classifyErr(err)
	}

	return &driverExecutor{driver: driver, database: cfg.Database}, nil
}

func (e *driverExecutor) Read(ctx context.Context, query string, params map[string]any) (*Result, error) {
	session := e.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: e.database,
	})
	defer session.Close(ctx)

	res, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return runStatement(ctx, tx, query, params)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Result), nil
}

func (e *driverExecutor) Write(ctx context.Context, query string, params map[string]any) (*Result, error) {
	session := e.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: e.database,
	})
	defer session.Close(ctx)

	res, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return runStatement(ctx, tx, query, params)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Result), nil
}

func (e *driverExecutor) WriteTx(ctx context.Context, fn func(tx Tx) error) error {
	session := e.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: e.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := fn(&managedTx{tx: tx}); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

func (e *driverExecutor) VerifyConnectivity(ctx context.Context) error {
	return e.driver.VerifyConnectivity(ctx)
}

func (e *driverExecutor) Close(ctx context.Context) error {
	return e.driver.Close(ctx)
}

// managedTx exposes a managed driver transaction through the Tx seam.
type managedTx struct {
	tx neo4j.ManagedTransaction
}

func (m *managedTx) Run(ctx context.Context, query string, params map[string]any) (*Result, error) {
	return runStatement(ctx, m.tx, query, params)
}

// runStatement executes one statement and materializes normalized rows
// plus write counters.
func runStatement(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) (*Result, error) {
	cursor, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}

	records, err := cursor.Collect(ctx)
	if err != nil {
		return nil, err
	}

	summary, err := cursor.Consume(ctx)
	if err != nil {
		return nil, err
	}

	rows := make(Rows, 0, len(records))
	for _, rec := range records {
		rows = append(rows, normalizeRecord(rec.Keys, rec.Values))
	}

	counters := summary.Counters()
	return &Result{
		Rows: rows,
		Counters: Counters{
			NodesCreated:         counters.NodesCreated(),
			NodesDeleted:         counters.NodesDeleted(),
			RelationshipsCreated: counters.RelationshipsCreated(),
			RelationshipsDeleted: counters.RelationshipsDeleted(),
			PropertiesSet:        counters.PropertiesSet(),
			LabelsAdded:          counters.LabelsAdded(),
		},
	}, nil
}
