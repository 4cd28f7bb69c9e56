// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompts

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

// debounceWindow batches editor save bursts into one reload.
const debounceWindow = 250 * time.Millisecond

// LoadOverlay reads every *.yaml / *.yml file in dir and publishes the
// merged catalog. A file that fails to parse is skipped with a warning;
// the catalog never loses its builtins to a bad overlay.
func (c *Catalog) LoadOverlay(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fault.Wrap(fault.KindInvalidInput, "reading prompt overlay directory", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	// Deterministic precedence when two files define the same id.
	sort.Strings(names)

	overlay := make(map[string]Prompt)
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			c.log.Warn("skipping unreadable prompt file", "path", path, "error", err)
			continue
		}
		loaded, err := parsePromptFile(data)
		if err != nil {
			c.log.Warn("skipping malformed prompt file", "path", path, "error", err)
			continue
		}
		for _, p := range loaded {
			if verr := c.validator.ValidateIdentifier(p.ID); verr != nil {
				c.log.Warn("skipping prompt with invalid id", "path", path, "id", p.ID)
				continue
			}
			overlay[p.ID] = p
		}
	}

	c.swap(overlay)
	c.reloads.Add(1)
	c.log.Info("prompt overlay loaded", "dir", dir, "overlay", len(overlay), "total", c.Len())
	return nil
}

// Watcher hot-reloads the overlay directory.
type Watcher struct {
	catalog *Catalog
	dir     string
	fsw     *fsnotify.Watcher

	stopOnce sync.Once
	done     chan struct{}
}

// Watch performs an initial load of dir and then reloads on changes,
// debounced. Stop the returned watcher on shutdown.
func (c *Catalog) Watch(dir string) (*Watcher, error) {
	if err := c.LoadOverlay(dir); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "creating prompt watcher", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fault.Wrap(fault.KindInvalidInput, "watching prompt overlay directory", err)
	}

	w := &Watcher{
		catalog: c,
		dir:     dir,
		fsw:     fsw,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Stop ends watching. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
}

func (w *Watcher) run() {
	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevant(event.Name) {
				continue
			}
			// Restart the debounce window on every event in a burst.
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				pending = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceWindow)
			}
		case <-pending:
			timer = nil
			pending = nil
			if err := w.catalog.LoadOverlay(w.dir); err != nil {
				w.catalog.log.Warn("prompt overlay reload failed", "error", err)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.catalog.log.Warn("prompt watcher error", "error", err)
		}
	}
}

func relevant(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
