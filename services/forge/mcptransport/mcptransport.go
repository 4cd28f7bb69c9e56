// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mcptransport exposes the tool registry over the Model
// Context Protocol. Tools are advertised with the registry's raw JSON
// schemas, and tool failures return as in-band tool errors carrying
// the same code/message/details body the HTTP envelope uses, so a
// client sees identical semantics on either transport.
//
// Authentication happens in the HTTP pipeline before the handler is
// reached; this package reads the verified identity from the request
// context and enforces per-call permissions against the same table
// the HTTP routes use.
package mcptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/services/forge/audit"
	"github.com/AleutianAI/AleutianForge/services/forge/auth"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
	"github.com/AleutianAI/AleutianForge/services/forge/tools"
)

// serverName identifies this MCP server to clients during initialize.
const serverName = "aleutian-forge"

// Options configures the transport. Registry and Audit are required.
type Options struct {
	Registry *tools.Registry
	Audit    *audit.Writer
	Log      *logging.Logger
	Version  string
}

// Transport bridges the tool registry to an MCP server instance.
type Transport struct {
	registry *tools.Registry
	audit    *audit.Writer
	log      *logging.Logger
	mcp      *server.MCPServer
}

// New builds the MCP server and registers every registry tool on it.
func New(opts Options) (*Transport, error) {
	if opts.Registry == nil || opts.Audit == nil {
		return nil, fault.New(fault.KindInternal, "mcp transport requires registry and audit")
	}
	log := opts.Log
	if log == nil {
		log = logging.Default()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	t := &Transport{
		registry: opts.Registry,
		audit:    opts.Audit,
		log:      log,
	}
	t.mcp = server.NewMCPServer(serverName, version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithLogging(),
	)
	for _, tool := range opts.Registry.List() {
		t.mcp.AddTool(
			mcp.NewToolWithRawSchema(tool.ID, tool.Description, tool.Schema),
			t.wrap(tool),
		)
	}
	return t, nil
}

// Handler returns the streamable-HTTP handler to mount. Clients that
// do not negotiate the protocol (missing Accept headers, no session)
// receive the transport's own protocol errors.
func (t *Transport) Handler() http.Handler {
	return server.NewStreamableHTTPServer(t.mcp)
}

// wrap adapts one registry tool to an MCP handler: permission check,
// argument re-encoding, call, JSON result. Failures never surface as
// protocol errors; they become tool errors the model can read.
func (t *Transport) wrap(tool tools.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := t.authorize(ctx, tool); err != nil {
			return toolError(err), nil
		}

		var raw json.RawMessage
		if args := req.GetArguments(); len(args) > 0 {
			encoded, err := json.Marshal(args)
			if err != nil {
				return toolError(fault.Wrap(fault.KindInvalidInput,
					"arguments not encodable", err)), nil
			}
			raw = encoded
		}

		out, err := t.registry.Call(ctx, tool.ID, raw)
		if err != nil {
			return toolError(err), nil
		}
		payload, err := json.Marshal(out)
		if err != nil {
			t.log.Error("tool result not encodable", "tool", tool.ID, "error", err)
			return toolError(fault.New(fault.KindInternal, "internal error")), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}

// authorize enforces the tool's permission against the identity the
// HTTP pipeline bound into the context. Tools with no permission are
// open, mirroring the HTTP route table.
func (t *Transport) authorize(ctx context.Context, tool tools.Tool) error {
	if tool.Permission == "" {
		return nil
	}
	claims, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return fault.New(fault.KindUnauthenticated, "authentication required")
	}

	resource, action, _ := strings.Cut(string(tool.Permission), ":")
	correlation := audit.CorrelationFromContext(ctx)
	if err := auth.Require(claims.Roles, tool.Permission); err != nil {
		t.audit.Record(audit.Authorization(claims.Subject, correlation,
			resource, action, false,
			map[string]any{"roles": claims.Roles, "transport": "mcp"}))
		return err
	}
	t.audit.Record(audit.Authorization(claims.Subject, correlation,
		resource, action, true, map[string]any{"transport": "mcp"}))
	return nil
}

// toolError renders a failure as an in-band tool error whose text is
// the standard error body, fault kind included.
func toolError(err error) *mcp.CallToolResult {
	body := fault.EnvelopeFor(err, "").Error
	payload, mErr := json.Marshal(body)
	if mErr != nil {
		return mcp.NewToolResultError(fault.MessageOf(err))
	}
	return mcp.NewToolResultError(string(payload))
}
