// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders styled terminal output for the forge CLI.
//
// Output has two modes: styled, with the Aleutian palette and icons,
// and plain, a prefix-tagged line form for scripts and logs. Plain is
// selected automatically when stdout is not a terminal or NO_COLOR is
// set; SetMode overrides the detection.
package ux

import (
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

// Mode selects the output rendering style.
type Mode int

const (
	// ModeStyled renders colors, icons, and boxes.
	ModeStyled Mode = iota

	// ModePlain renders prefix-tagged plain lines.
	ModePlain
)

var (
	modeMu     sync.RWMutex
	activeMode = DetectMode()
)

// DetectMode returns ModePlain when stdout is not a terminal or the
// NO_COLOR convention is in effect.
func DetectMode() Mode {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return ModePlain
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return ModePlain
	}
	return ModeStyled
}

// SetMode overrides the detected mode.
func SetMode(m Mode) {
	modeMu.Lock()
	defer modeMu.Unlock()
	activeMode = m
}

// ActiveMode reports the mode the output helpers will use.
func ActiveMode() Mode {
	modeMu.RLock()
	defer modeMu.RUnlock()
	return activeMode
}

func plain() bool { return ActiveMode() == ModePlain }
