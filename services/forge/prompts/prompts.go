// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompts serves the reusable prompt catalog. A compiled-in set is
// always available; an optional overlay directory adds or replaces entries
// and can be hot-reloaded. Readers see an immutable snapshot, so a reload
// never tears a response.
package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
	"github.com/AleutianAI/AleutianForge/services/forge/validation"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Prompt is one reusable instruction template.
type Prompt struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
	Body  string `json:"body" yaml:"body"`
}

type snapshot struct {
	byID map[string]Prompt
	list []Prompt // sorted by id
}

// Catalog holds the merged prompt set. Safe for concurrent use.
type Catalog struct {
	log       *logging.Logger
	validator *validation.Validator

	// builtins is immutable after NewCatalog; reloads merge on top of it.
	builtins map[string]Prompt

	snap    atomic.Pointer[snapshot]
	reloads atomic.Int64
}

// NewCatalog builds a catalog from the compiled-in prompts. A malformed
// builtin is a build defect, so it fails instead of degrading.
func NewCatalog(log *logging.Logger) (*Catalog, error) {
	if log == nil {
		log = logging.New(logging.Config{Quiet: true})
	}
	c := &Catalog{
		log:       log,
		validator: validation.NewDefault(),
		builtins:  make(map[string]Prompt),
	}

	err := fs.WalkDir(builtinFS, "builtin", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := builtinFS.ReadFile(path)
		if err != nil {
			return err
		}
		loaded, err := parsePromptFile(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for _, p := range loaded {
			if verr := c.validator.ValidateIdentifier(p.ID); verr != nil {
				return fmt.Errorf("%s: prompt id %q: %w", path, p.ID, verr)
			}
			c.builtins[p.ID] = p
		}
		return nil
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "loading builtin prompts", err)
	}

	c.swap(nil)
	return c, nil
}

// List returns all prompts sorted by id. The slice is shared and must not
// be mutated.
func (c *Catalog) List() []Prompt {
	return c.snap.Load().list
}

// Get returns the prompt with the given id.
func (c *Catalog) Get(id string) (Prompt, error) {
	p, ok := c.snap.Load().byID[id]
	if !ok {
		return Prompt{}, fault.Newf(fault.KindNotFound, "prompt %q not found", id)
	}
	return p, nil
}

// Len reports the number of prompts in the current snapshot.
func (c *Catalog) Len() int {
	return len(c.snap.Load().list)
}

// Reloads reports how many overlay loads have been applied.
func (c *Catalog) Reloads() int64 {
	return c.reloads.Load()
}

// swap publishes builtins merged with overlay. Overlay wins on id collision.
func (c *Catalog) swap(overlay map[string]Prompt) {
	merged := make(map[string]Prompt, len(c.builtins)+len(overlay))
	for id, p := range c.builtins {
		merged[id] = p
	}
	for id, p := range overlay {
		merged[id] = p
	}
	list := make([]Prompt, 0, len(merged))
	for _, p := range merged {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	c.snap.Store(&snapshot{byID: merged, list: list})
}

// parsePromptFile accepts either a single prompt document or a list.
func parsePromptFile(data []byte) ([]Prompt, error) {
	var one Prompt
	if err := yaml.Unmarshal(data, &one); err == nil && one.ID != "" {
		return []Prompt{one}, nil
	}
	var many []Prompt
	if err := yaml.Unmarshal(data, &many); err != nil {
		return nil, fmt.Errorf("not a prompt document: %w", err)
	}
	for _, p := range many {
		if p.ID == "" {
			return nil, fmt.Errorf("prompt entry missing id")
		}
	}
	return many, nil
}
