// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit persists security-relevant events without slowing the
// request path. Record hands the event to a buffered worker and
// returns; a full buffer drops the event (counted and logged) rather
// than blocking a request on the audit trail. Every event also goes to
// the structured log, so a dropped or unpersisted event is degraded,
// not lost.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
)

// Backend is the slice of the graph client the audit trail uses.
type Backend interface {
	ExecuteWrite(ctx context.Context, query string, params map[string]any) error
	ExecuteRead(ctx context.Context, query string, params map[string]any) (graph.Rows, error)
}

// defaultBufferSize bounds the queue between request handlers and the
// persistence worker.
const defaultBufferSize = 1024

// writeTimeout bounds one persistence attempt.
const writeTimeout = 10 * time.Second

// envelope carries either an event or a flush marker through the
// worker queue, so Flush completes exactly when everything enqueued
// before it has settled.
type envelope struct {
	event Event
	flush chan struct{}
}

// Writer is the audit trail. Safe for concurrent use.
type Writer struct {
	backend Backend
	log     *logging.Logger
	events  chan envelope

	written  atomic.Int64
	dropped  atomic.Int64
	degraded atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewWriter starts the persistence worker. A nil backend runs the
// trail in log-only mode.
func NewWriter(backend Backend, bufferSize int, log *logging.Logger) *Writer {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if log == nil {
		log = logging.Default()
	}
	w := &Writer{
		backend: backend,
		log:     log,
		events:  make(chan envelope, bufferSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Record enqueues an event. It never blocks: when the buffer is full
// the event survives only in the log.
func (w *Writer) Record(e Event) {
	w.logEvent(e)

	select {
	case <-w.stop:
		w.dropped.Add(1)
		return
	default:
	}
	select {
	case w.events <- envelope{event: e}:
	default:
		w.dropped.Add(1)
		w.log.Warn("audit buffer full; event not persisted", "event_id", e.ID, "type", string(e.Type))
	}
}

// Flush blocks until every previously recorded event has been handled
// or ctx expires.
func (w *Writer) Flush(ctx context.Context) error {
	marker := make(chan struct{})
	select {
	case w.events <- envelope{flush: marker}:
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-marker:
		return nil
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the buffer and stops the worker.
func (w *Writer) Close(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stop) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats describes trail health for the status endpoint.
type Stats struct {
	Buffered int   `json:"buffered"`
	Written  int64 `json:"written"`
	Dropped  int64 `json:"dropped"`
	Degraded int64 `json:"degraded"`
}

// Stats returns trail counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Buffered: len(w.events),
		Written:  w.written.Load(),
		Dropped:  w.dropped.Load(),
		Degraded: w.degraded.Load(),
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for {
		select {
		case env := <-w.events:
			w.handle(env)
		case <-w.stop:
			for {
				select {
				case env := <-w.events:
					w.handle(env)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) handle(env envelope) {
	if env.flush != nil {
		close(env.flush)
		return
	}
	w.persist(env.event)
}

// persist writes one event. Failures degrade to log-only; the event
// was already logged by Record.
func (w *Writer) persist(e Event) {
	if w.backend == nil {
		w.degraded.Add(1)
		return
	}

	attrsJSON := "{}"
	if len(e.Attributes) > 0 {
		b, err := json.Marshal(e.Attributes)
		if err != nil {
			w.log.Warn("audit attributes not encodable", "event_id", e.ID, "error", err)
		} else {
			attrsJSON = string(b)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	err := w.backend.ExecuteWrite(ctx, `
		CREATE (e:AuditEvent {
			id: $id, type: $type, timestamp: $timestamp, user_id: $user_id,
			severity: $severity, correlation_id: $correlation_id, attributes: $attributes
		})`,
		map[string]any{
			"id":             e.ID,
			"type":           string(e.Type),
			"timestamp":      e.Timestamp.UnixMilli(),
			"user_id":        e.UserID,
			"severity":       string(e.Severity),
			"correlation_id": e.CorrelationID,
			"attributes":     attrsJSON,
		})
	if err != nil {
		w.degraded.Add(1)
		w.log.Error("audit event not persisted", "event_id", e.ID, "error", err)
		return
	}
	w.written.Add(1)
}

// logEvent mirrors the event into the structured log.
func (w *Writer) logEvent(e Event) {
	w.log.Info("audit",
		"event_id", e.ID,
		"type", string(e.Type),
		"user_id", e.UserID,
		"severity", string(e.Severity),
		"correlation_id", e.CorrelationID,
	)
}
