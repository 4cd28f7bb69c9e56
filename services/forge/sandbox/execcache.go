// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

// ResultCache stores execution results keyed by code hash, language and
// resource limits. Entries expire through Badger's native TTL, so identical
// submissions skip the sandbox entirely while the entry lives.
type ResultCache struct {
	db  *badger.DB
	ttl time.Duration
	log *logging.Logger
}

// NewResultCache opens the cache database. An empty dir selects an in-memory
// store that vanishes on close.
func NewResultCache(dir string, ttl time.Duration, log *logging.Logger) (*ResultCache, error) {
	if log == nil {
		log = logging.New(logging.Config{Quiet: true})
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fault.Wrap(fault.KindInternal, "creating execution cache directory", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "opening execution cache", err)
	}
	return &ResultCache{db: db, ttl: ttl, log: log}, nil
}

// Get returns the cached result for key, or ok=false on miss or any decode
// problem. Cache failures never fail an execution.
func (c *ResultCache) Get(key []byte) (*Result, bool) {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.log.Warn("execution cache read failed", "error", err)
		}
		return nil, false
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		c.log.Warn("execution cache entry corrupt", "error", err)
		return nil, false
	}
	return &res, true
}

// Put stores res under key with the cache TTL. Best effort.
func (c *ResultCache) Put(key []byte, res *Result) {
	stored := *res
	stored.CacheHit = false
	raw, err := json.Marshal(&stored)
	if err != nil {
		c.log.Warn("execution cache encode failed", "error", err)
		return
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, raw).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		c.log.Warn("execution cache write failed", "error", err)
	}
}

// Close flushes and closes the underlying database.
func (c *ResultCache) Close() error {
	if err := c.db.Close(); err != nil {
		return fault.Wrap(fault.KindInternal, "closing execution cache", err)
	}
	return nil
}

// cacheKey binds a result to the exact code, language and limits that
// produced it. Changing any limit must miss.
func cacheKey(code, language string, timeout time.Duration, memBytes uint64) []byte {
	h := sha256.Sum256([]byte(code))
	var limits [16]byte
	binary.BigEndian.PutUint64(limits[0:8], uint64(timeout))
	binary.BigEndian.PutUint64(limits[8:16], memBytes)
	return []byte(fmt.Sprintf("exec:%s:%s:%s", hex.EncodeToString(h[:]), language, hex.EncodeToString(limits[:])))
}
