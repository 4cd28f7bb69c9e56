// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools implements the code-lifecycle tools and the registry both
// transports serve them from. Every tool decodes and validates its own
// input, so HTTP and MCP callers go through the same gate.
package tools

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/services/forge/audit"
	"github.com/AleutianAI/AleutianForge/services/forge/auth"
	"github.com/AleutianAI/AleutianForge/services/forge/config"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
	"github.com/AleutianAI/AleutianForge/services/forge/prompts"
	"github.com/AleutianAI/AleutianForge/services/forge/sandbox"
	"github.com/AleutianAI/AleutianForge/services/forge/validation"
)

// Tool ids. These are the wire names on both transports.
const (
	IDLint        = "lint_code"
	IDExecute     = "execute_code"
	IDRunTests    = "run_tests"
	IDGenerate    = "generate_code"
	IDGraphUpsert = "graph_upsert"
	IDGraphQuery  = "graph_query"
	IDListPrompts = "list_prompts"
	IDGetPrompt   = "get_prompt"
)

// Handler executes one tool call. raw is the JSON argument document;
// the result must be JSON-encodable.
type Handler func(ctx context.Context, raw json.RawMessage) (any, error)

// Tool is one registry entry.
type Tool struct {
	ID          string
	Description string

	// Schema is the JSON schema of the argument document, served
	// verbatim to MCP clients.
	Schema json.RawMessage

	// Permission gates the call on both transports. Empty means the
	// tool is open to unauthenticated callers.
	Permission auth.Permission

	Handler Handler
}

// Deps carries the shared services the tools run on.
type Deps struct {
	Config    config.Exec
	Graph     *graph.Client
	Validator *validation.Validator
	Runner    *sandbox.Runner
	Audit     *audit.Writer
	Prompts   *prompts.Catalog
	Log       *logging.Logger
}

// Registry is the frozen tool table. Built once at startup; immutable
// afterwards so both transports can read it without locks.
type Registry struct {
	byID  map[string]Tool
	order []string
}

// NewRegistry wires every tool. Nil deps are a programming error surfaced
// at startup, not at call time.
func NewRegistry(deps Deps) (*Registry, error) {
	if deps.Graph == nil || deps.Validator == nil || deps.Runner == nil ||
		deps.Audit == nil || deps.Prompts == nil {
		return nil, fault.New(fault.KindInternal, "tool registry requires graph, validator, runner, audit, and prompts")
	}
	if deps.Log == nil {
		deps.Log = logging.New(logging.Config{Quiet: true})
	}

	r := &Registry{byID: make(map[string]Tool)}

	lint := newLintTool(deps)
	exec := newExecuteTool(deps)
	testrun := newTestTool(deps, exec)
	gen := newGenerateTool(deps)
	gt := newGraphTool(deps)

	r.add(Tool{
		ID:          IDLint,
		Description: "Parse code, extract functions/classes/imports, compute complexity, and run the external analyzer.",
		Schema:      json.RawMessage(lintSchema),
		Permission:  auth.PermToolsLint,
		Handler:     lint.handle,
	})
	r.add(Tool{
		ID:          IDExecute,
		Description: "Execute a code snippet in the sandbox and return its output.",
		Schema:      json.RawMessage(executeSchema),
		Permission:  auth.PermToolsExecute,
		Handler:     exec.handle,
	})
	r.add(Tool{
		ID:          IDRunTests,
		Description: "Run a test module in the sandbox (pytest, falling back to unittest).",
		Schema:      json.RawMessage(runTestsSchema),
		Permission:  auth.PermToolsTest,
		Handler:     testrun.handle,
	})
	r.add(Tool{
		ID:          IDGenerate,
		Description: "Render a code template with the given context.",
		Schema:      json.RawMessage(generateSchema),
		Permission:  auth.PermToolsGenerate,
		Handler:     gen.handle,
	})
	r.add(Tool{
		ID:          IDGraphUpsert,
		Description: "Upsert nodes and relationships into the code graph atomically.",
		Schema:      json.RawMessage(graphUpsertSchema),
		Permission:  auth.PermGraphUpsert,
		Handler:     gt.handleUpsert,
	})
	r.add(Tool{
		ID:          IDGraphQuery,
		Description: "Run a read-only Cypher query against the code graph.",
		Schema:      json.RawMessage(graphQuerySchema),
		Permission:  auth.PermGraphQuery,
		Handler:     gt.handleQuery,
	})
	r.add(Tool{
		ID:          IDListPrompts,
		Description: "List the available prompt templates.",
		Schema:      json.RawMessage(listPromptsSchema),
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			return deps.Prompts.List(), nil
		},
	})
	r.add(Tool{
		ID:          IDGetPrompt,
		Description: "Fetch one prompt template by id.",
		Schema:      json.RawMessage(getPromptSchema),
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			req, err := decode[getPromptRequest](raw)
			if err != nil {
				return nil, err
			}
			return deps.Prompts.Get(req.ID)
		},
	})

	return r, nil
}

func (r *Registry) add(t Tool) {
	if _, dup := r.byID[t.ID]; dup {
		panic("tools: duplicate tool id " + t.ID)
	}
	r.byID[t.ID] = t
	r.order = append(r.order, t.ID)
}

// Get returns the tool with the given id.
func (r *Registry) Get(id string) (Tool, bool) {
	t, ok := r.byID[id]
	return t, ok
}

// List returns every tool in registration order.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Call dispatches to a tool by id.
func (r *Registry) Call(ctx context.Context, id string, raw json.RawMessage) (any, error) {
	t, ok := r.byID[id]
	if !ok {
		return nil, fault.Newf(fault.KindNotFound, "tool %q not found", id)
	}
	return t.Handler(ctx, raw)
}

type getPromptRequest struct {
	ID string `json:"id" validate:"required"`
}

// requestValidate checks struct tags on decoded tool arguments.
var requestValidate = validator.New()

// decode strictly unmarshals raw into T and applies its validate tags.
// Unknown fields are rejected so schema drift surfaces immediately.
func decode[T any](raw json.RawMessage) (*T, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	req := new(T)
	if err := dec.Decode(req); err != nil {
		return nil, fault.Wrap(fault.KindInvalidInput, "malformed tool arguments", err)
	}
	if err := requestValidate.Struct(req); err != nil {
		return nil, fault.Wrap(fault.KindInvalidInput, "invalid tool arguments", err)
	}
	return req, nil
}
