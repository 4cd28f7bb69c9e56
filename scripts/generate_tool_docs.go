// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// generate_tool_docs renders a markdown reference for the forge tool
// registry: one inventory table plus the JSON argument schema of every
// tool, straight from the registry source of truth so docs cannot
// drift from the code.
//
// Usage:
//
//	go run scripts/generate_tool_docs.go > docs/TOOLS.md
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/services/forge/audit"
	"github.com/AleutianAI/AleutianForge/services/forge/config"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
	"github.com/AleutianAI/AleutianForge/services/forge/prompts"
	"github.com/AleutianAI/AleutianForge/services/forge/sandbox"
	"github.com/AleutianAI/AleutianForge/services/forge/tools"
	"github.com/AleutianAI/AleutianForge/services/forge/validation"
)

func main() {
	registry, err := metadataRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "building registry: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("# Forge Tool Reference")
	fmt.Println()
	fmt.Printf("Generated %s by `scripts/generate_tool_docs.go`. Do not edit by hand.\n",
		time.Now().UTC().Format("2006-01-02"))
	fmt.Println()

	list := registry.List()

	fmt.Println("## Inventory")
	fmt.Println()
	fmt.Println("| Tool | Permission | Description |")
	fmt.Println("|------|------------|-------------|")
	openCount := 0
	for _, t := range list {
		perm := string(t.Permission)
		if perm == "" {
			perm = "_open_"
			openCount++
		}
		fmt.Printf("| `%s` | %s | %s |\n", t.ID, perm, t.Description)
	}
	fmt.Println()

	fmt.Println("## Argument schemas")
	fmt.Println()
	fmt.Println("Each tool validates its JSON argument document against the schema")
	fmt.Println("below; both the HTTP routes and the MCP session serve it verbatim.")
	fmt.Println()
	for _, t := range list {
		fmt.Printf("### `%s`\n\n", t.ID)
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, t.Schema, "", "  "); err != nil {
			fmt.Fprintf(os.Stderr, "schema for %s is not valid JSON: %v\n", t.ID, err)
			os.Exit(1)
		}
		fmt.Println("```json")
		fmt.Println(pretty.String())
		fmt.Println("```")
		fmt.Println()
	}

	fmt.Println("## Summary")
	fmt.Println()
	fmt.Printf("- %d tools registered\n", len(list))
	fmt.Printf("- %d open to unauthenticated callers\n", openCount)
	fmt.Printf("- %d require a permission\n", len(list)-openCount)
}

// metadataRegistry wires a registry with inert dependencies. Nothing
// here touches a database or spawns a process; the registry is only
// read for IDs, descriptions, permissions, and schemas.
func metadataRegistry() (*tools.Registry, error) {
	log := logging.New(logging.Config{Quiet: true})

	catalog, err := prompts.NewCatalog(log)
	if err != nil {
		return nil, err
	}
	client := graph.NewClient(nil, graph.Options{Logger: log})

	return tools.NewRegistry(tools.Deps{
		Config:    config.Exec{},
		Graph:     client,
		Validator: validation.NewDefault(),
		Runner:    sandbox.NewRunner(config.Exec{}, nil, log),
		Audit:     audit.NewWriter(client, 0, log),
		Prompts:   catalog,
		Log:       log,
	})
}
