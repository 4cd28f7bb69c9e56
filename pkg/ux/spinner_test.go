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
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpinnerPlainPrintsMessageOnce(t *testing.T) {
	out, _ := captureOutput(t)
	inMode(t, ModePlain)

	s := NewSpinner("exporting graph")
	s.Start()
	s.Start()
	s.Stop()

	assert.Equal(t, 1, strings.Count(out.String(), "PROGRESS: exporting graph"))
}

func TestSpinnerStopWithoutStartIsNoop(t *testing.T) {
	_, _ = captureOutput(t)
	inMode(t, ModePlain)

	s := NewSpinner("idle")
	s.Stop()
}

func TestSpinnerStyledAnimatesAndClears(t *testing.T) {
	out, _ := captureOutput(t)
	inMode(t, ModeStyled)

	s := NewSpinner("applying schema")
	s.Start()
	time.Sleep(200 * time.Millisecond)
	s.UpdateMessage("still applying")
	time.Sleep(120 * time.Millisecond)
	s.Stop()

	assert.Contains(t, out.String(), "applying schema")
	assert.Contains(t, out.String(), "still applying")
	assert.Contains(t, out.String(), "\r\033[K")
}

func TestWithSpinnerReportsSuccess(t *testing.T) {
	out, _ := captureOutput(t)
	inMode(t, ModePlain)

	err := WithSpinner("warming index", func() error { return nil })

	require.NoError(t, err)
	assert.Contains(t, out.String(), "PROGRESS: warming index")
	assert.Contains(t, out.String(), "OK: warming index")
}

func TestWithSpinnerReportsFailure(t *testing.T) {
	_, errOut := captureOutput(t)
	inMode(t, ModePlain)

	boom := errors.New("connection refused")
	err := WithSpinner("warming index", func() error { return boom })

	require.ErrorIs(t, err, boom)
	assert.Contains(t, errOut.String(), "ERROR: warming index: connection refused")
}
