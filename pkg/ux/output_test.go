// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Output helpers share package state, so these tests never run in
// parallel and always restore what they touch.

func captureOutput(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	SetWriters(&out, &errOut)
	t.Cleanup(func() { SetWriters(os.Stdout, os.Stderr) })
	return &out, &errOut
}

func inMode(t *testing.T, m Mode) {
	t.Helper()
	prev := ActiveMode()
	SetMode(m)
	t.Cleanup(func() { SetMode(prev) })
}

func TestPlainSuccessPrefixesOK(t *testing.T) {
	out, _ := captureOutput(t)
	inMode(t, ModePlain)

	Success("schema applied")

	assert.Equal(t, "OK: schema applied\n", out.String())
}

func TestPlainWarningAndErrorGoToStderr(t *testing.T) {
	out, errOut := captureOutput(t)
	inMode(t, ModePlain)

	Warning("analyzer missing")
	Error("graph unreachable")

	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "WARN: analyzer missing")
	assert.Contains(t, errOut.String(), "ERROR: graph unreachable")
}

func TestPlainDropsDecoration(t *testing.T) {
	out, errOut := captureOutput(t)
	inMode(t, ModePlain)

	Title("AleutianForge")
	Muted("press ctrl-c to stop")

	assert.Empty(t, out.String())
	assert.Empty(t, errOut.String())
}

func TestPlainKeyValueAndBox(t *testing.T) {
	out, _ := captureOutput(t)
	inMode(t, ModePlain)

	KeyValue("version", "1.2.0")
	Box("export", "1204 nodes")

	assert.Contains(t, out.String(), "version: 1.2.0\n")
	assert.Contains(t, out.String(), "export: 1204 nodes\n")
}

func TestStyledSuccessCarriesIcon(t *testing.T) {
	out, _ := captureOutput(t)
	inMode(t, ModeStyled)

	Success("token issued")

	assert.Contains(t, out.String(), string(IconSuccess))
	assert.Contains(t, out.String(), "token issued")
}

func TestStyledInfoUsesGutter(t *testing.T) {
	out, _ := captureOutput(t)
	inMode(t, ModeStyled)

	Info("warming revocation index")

	assert.Contains(t, out.String(), "│")
	assert.Contains(t, out.String(), "warming revocation index")
}

func TestStyledErrorStaysOnStderr(t *testing.T) {
	out, errOut := captureOutput(t)
	inMode(t, ModeStyled)

	Error("config rejected")

	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "config rejected")
}

func TestBannerPlainIsOneLine(t *testing.T) {
	out, _ := captureOutput(t)
	inMode(t, ModePlain)

	Banner("aleutian-forge", "1.2.0", "development", ":8443")

	require.Equal(t, 1, strings.Count(out.String(), "\n"))
	assert.Equal(t, "aleutian-forge 1.2.0 env=development addr=:8443\n", out.String())
}

func TestBannerStyledNamesServiceAndAddress(t *testing.T) {
	out, _ := captureOutput(t)
	inMode(t, ModeStyled)

	Banner("aleutian-forge", "1.2.0", "production", ":8443")

	assert.Contains(t, out.String(), "aleutian-forge 1.2.0")
	assert.Contains(t, out.String(), ":8443")
}

func TestDetectModeHonorsNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	assert.Equal(t, ModePlain, DetectMode())
}

func TestSetModeOverridesDetection(t *testing.T) {
	inMode(t, ModeStyled)
	assert.Equal(t, ModeStyled, ActiveMode())

	SetMode(ModePlain)
	assert.Equal(t, ModePlain, ActiveMode())
}
