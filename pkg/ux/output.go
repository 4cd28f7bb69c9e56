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
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text, borders

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
	ErrorBox  lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides themed status glyphs.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBullet  Icon = "•"
)

// Render returns the icon with its semantic color.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return Styles.Muted.Render(string(i))
	}
}

var (
	writerMu sync.Mutex
	stdout   io.Writer = os.Stdout
	stderr   io.Writer = os.Stderr
)

// SetWriters redirects output, primarily for tests. A nil writer keeps
// the current one.
func SetWriters(out, err io.Writer) {
	writerMu.Lock()
	defer writerMu.Unlock()
	if out != nil {
		stdout = out
	}
	if err != nil {
		stderr = err
	}
}

func writeOut(s string) {
	writerMu.Lock()
	defer writerMu.Unlock()
	fmt.Fprintln(stdout, s)
}

func writeErr(s string) {
	writerMu.Lock()
	defer writerMu.Unlock()
	fmt.Fprintln(stderr, s)
}

// Title prints a styled heading. Plain mode drops it; headings carry
// no information a script needs.
func Title(text string) {
	if plain() {
		return
	}
	writeOut(Styles.Title.Render(text))
}

// Success prints a success line.
func Success(text string) {
	if plain() {
		writeOut("OK: " + text)
		return
	}
	writeOut(fmt.Sprintf("%s %s", IconSuccess.Render(), Styles.Success.Render(text)))
}

// Warning prints a warning line. Plain mode routes it to stderr.
func Warning(text string) {
	if plain() {
		writeErr("WARN: " + text)
		return
	}
	writeOut(fmt.Sprintf("%s %s", IconWarning.Render(), Styles.Warning.Render(text)))
}

// Error prints an error line on stderr.
func Error(text string) {
	if plain() {
		writeErr("ERROR: " + text)
		return
	}
	writeErr(fmt.Sprintf("%s %s", IconError.Render(), Styles.Error.Render(text)))
}

// Info prints an informational line.
func Info(text string) {
	if plain() {
		writeOut(text)
		return
	}
	writeOut(fmt.Sprintf("%s %s", Styles.Muted.Render("│"), text))
}

// Muted prints secondary text. Plain mode drops it.
func Muted(text string) {
	if plain() {
		return
	}
	writeOut(Styles.Muted.Render(text))
}

// KeyValue prints an aligned key/value row.
func KeyValue(key, value string) {
	if plain() {
		writeOut(key + ": " + value)
		return
	}
	writeOut(fmt.Sprintf("  %s %s", Styles.Muted.Render(fmt.Sprintf("%-14s", key)), value))
}

// Box prints content in a rounded box under a title.
func Box(title, content string) {
	if plain() {
		writeOut(title + ": " + content)
		return
	}
	writeOut(Styles.Box.Width(60).Render(Styles.Title.Render(title) + "\n" + content))
}

// Banner prints the startup identity block for the server.
func Banner(service, version, env, addr string) {
	if plain() {
		writeOut(fmt.Sprintf("%s %s env=%s addr=%s", service, version, env, addr))
		return
	}
	content := fmt.Sprintf("%s %s\n%s %s",
		Styles.Muted.Render("env   "), env,
		Styles.Muted.Render("listen"), addr)
	writeOut(Styles.Box.Width(60).Render(Styles.Title.Render(service+" "+version) + "\n" + content))
}
