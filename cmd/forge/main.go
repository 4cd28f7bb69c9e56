// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command forge runs the AleutianForge coding platform: an HTTP and
// MCP server exposing lint, execute, test, generate, and graph tools,
// plus operator subcommands for tokens, schema, and graph exports.
package main

import (
	"os"

	"github.com/AleutianAI/AleutianForge/pkg/ux"
)

// version is stamped at build time via
// -ldflags "-X main.version=v1.2.3". The default marks local builds.
var version = "dev"

func main() {
	if err := execute(); err != nil {
		ux.Error(err.Error())
		os.Exit(exitCode(err))
	}
}
