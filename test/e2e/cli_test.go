// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package e2e

import (
	"bytes"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signingKey is long and varied enough for the production strength
// checks, so tests can run under either ENV.
const signingKey = "0123456789abcdefABCDEF0123456789-e2e-entropy"

// cleanEnv returns the host environment with every forge variable
// removed, so host configuration cannot leak into assertions.
func cleanEnv() []string {
	exact := []string{
		"BIND_ADDR", "PORT", "ENV", "ALLOWED_ORIGINS", "BODY_MAX_BYTES",
		"CONN_LIFETIME_S", "INSECURE_MEMORY", "ANALYZER_PATH", "PROMPTS_DIR",
	}
	prefixes := []string{
		"AUTH_", "RATE_LIMIT_", "GRAPH_", "POOL_", "EXEC_", "CACHE_",
		"BREAKER_", "LOG_", "OTEL_",
	}

	env := make([]string, 0, len(os.Environ()))
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		drop := false
		for _, v := range exact {
			if name == v {
				drop = true
				break
			}
		}
		for _, p := range prefixes {
			if strings.HasPrefix(name, p) {
				drop = true
				break
			}
		}
		if !drop {
			env = append(env, kv)
		}
	}
	return env
}

func TestVersionPrintsBuildInfo(t *testing.T) {
	out, err := exec.Command(forgeBinary, "version").CombinedOutput()

	require.NoError(t, err)
	assert.Contains(t, string(out), "forge ")
}

func TestUnknownCommandExitsUsage(t *testing.T) {
	err := exec.Command(forgeBinary, "frobnicate").Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.ExitCode())
}

func TestUnknownFlagExitsUsage(t *testing.T) {
	err := exec.Command(forgeBinary, "version", "--bogus").Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.ExitCode())
}

func TestTokenIssuePipesCleanly(t *testing.T) {
	cmd := exec.Command(forgeBinary, "token", "issue",
		"--user", "e2e", "--roles", "developer")
	cmd.Env = append(cleanEnv(),
		"ENV=development",
		"AUTH_SIGNING_KEY="+signingKey,
		"INSECURE_MEMORY=true",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	require.NoError(t, cmd.Run(), "stderr: %s", stderr.String())

	// Exactly one stdout line, and it is the token.
	lines := strings.Split(strings.TrimRight(stdout.String(), "\n"), "\n")
	require.Len(t, lines, 1)
	assert.Len(t, strings.Split(lines[0], "."), 3, "expected a compact JWS")
}

func TestTokenIssueRejectsUnknownRoleWithUsageExit(t *testing.T) {
	cmd := exec.Command(forgeBinary, "token", "issue",
		"--user", "e2e", "--roles", "superuser")
	cmd.Env = append(cleanEnv(),
		"ENV=development",
		"AUTH_SIGNING_KEY="+signingKey,
		"INSECURE_MEMORY=true",
	)

	err := cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.ExitCode())
}

func TestServeRejectsMissingSigningKeyInProduction(t *testing.T) {
	cmd := exec.Command(forgeBinary, "serve")
	cmd.Env = append(cleanEnv(), "ENV=production")

	err := cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 4, exitErr.ExitCode())
}

func TestServeRejectsMalformedPort(t *testing.T) {
	cmd := exec.Command(forgeBinary, "serve")
	cmd.Env = append(cleanEnv(),
		"ENV=development",
		"AUTH_SIGNING_KEY="+signingKey,
		"PORT=eight-thousand",
	)

	err := cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 4, exitErr.ExitCode())
}
