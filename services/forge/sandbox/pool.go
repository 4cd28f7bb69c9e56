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
	"context"
	"runtime"
	"sync/atomic"

	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

// Pool bounds concurrent executions. Workers caps the number of child
// processes alive at once; admission caps at twice that so a short burst
// queues instead of failing, while anything beyond the queue is rejected
// immediately rather than held open.
type Pool struct {
	workers int
	admit   *semaphore
	run     *semaphore

	admitted int64
	rejected int64
}

// NewPool sizes the pool to workers, or min(NumCPU, 4) when workers <= 0.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers > 4 {
			workers = 4
		}
	}
	return &Pool{
		workers: workers,
		admit:   newSemaphore(workers * 2),
		run:     newSemaphore(workers),
	}
}

// Workers returns the number of concurrent execution slots.
func (p *Pool) Workers() int { return p.workers }

// enter claims an execution slot. It fails fast with a busy fault when the
// admission queue is full, otherwise it waits for a worker slot or for ctx.
// The returned release must be called exactly once.
func (p *Pool) enter(ctx context.Context) (release func(), err error) {
	if !p.admit.tryAcquire() {
		atomic.AddInt64(&p.rejected, 1)
		return nil, fault.New(fault.KindBusy, "execution queue full")
	}
	if err := p.run.acquire(ctx); err != nil {
		p.admit.release()
		return nil, fault.Wrap(fault.KindTimeout, "waiting for execution slot", err)
	}
	atomic.AddInt64(&p.admitted, 1)
	return func() {
		p.run.release()
		p.admit.release()
	}, nil
}

// PoolStats is a point-in-time view of pool occupancy.
type PoolStats struct {
	Workers  int   `json:"workers"`
	Running  int   `json:"running"`
	Queued   int   `json:"queued"`
	Admitted int64 `json:"admitted"`
	Rejected int64 `json:"rejected"`
}

func (p *Pool) Stats() PoolStats {
	running := p.run.inUse()
	queued := p.admit.inUse() - running
	if queued < 0 {
		queued = 0
	}
	return PoolStats{
		Workers:  p.workers,
		Running:  running,
		Queued:   queued,
		Admitted: atomic.LoadInt64(&p.admitted),
		Rejected: atomic.LoadInt64(&p.rejected),
	}
}
