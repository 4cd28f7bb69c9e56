// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package breaker

import (
	"sort"
	"sync"
)

// Registry tracks named breakers so the status endpoint can report all
// of them without each subsystem handing its breakers around.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Register adds a breaker under its name, replacing any previous
// breaker with the same name.
func (r *Registry) Register(b *Breaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[b.Name()] = b
}

// Get returns the breaker with the given name, or nil.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// Snapshot returns stats for every registered breaker, ordered by name
// so status output is stable.
func (r *Registry) Snapshot() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]Stats, 0, len(r.breakers))
	for _, b := range r.breakers {
		stats = append(stats, b.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}
