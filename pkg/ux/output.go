// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides styled operator output for the botdeploy CLI.
//
// Everything printed for a human goes through this package so that the
// personality level (see personality.go) is honoured in one place. Machine
// mode strips styling and uses stable OK:/WARN:/ERROR: prefixes.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Palette: deep ocean teals and arctic waters.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Key       lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Key:       lipgloss.NewStyle().Foreground(ColorTealPrimary).Width(18),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconSkipped Icon = "–"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
	IconAnchor  Icon = "⚓"
)

// Render returns the icon with its status color.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending, IconSkipped:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// =============================================================================
// Destinations
// =============================================================================

var (
	outMu     sync.Mutex
	stdoutDst io.Writer = os.Stdout
	stderrDst io.Writer = os.Stderr
)

// SetOutput redirects normal and diagnostic output. Nil restores the
// process streams.
func SetOutput(out, errOut io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	stdoutDst, stderrDst = out, errOut
}

// Stdout returns the current normal output destination.
func Stdout() io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	return stdoutDst
}

// Stderr returns the current diagnostic output destination.
func Stderr() io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	return stderrDst
}

func printOut(format string, args ...any) {
	fmt.Fprintf(Stdout(), format, args...)
}

func printErr(format string, args ...any) {
	fmt.Fprintf(Stderr(), format, args...)
}

// =============================================================================
// Messages
// =============================================================================

// Title prints a styled heading. Suppressed in machine mode.
func Title(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	printOut("%s\n", Styles.Title.Render(text))
}

// Success prints a success message.
func Success(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		printOut("OK: %s\n", text)
	case PersonalityMinimal:
		printOut("%s %s\n", IconSuccess.Render(), text)
	default:
		printOut("%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message.
func Warning(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		printErr("WARN: %s\n", text)
	case PersonalityMinimal:
		printOut("%s %s\n", IconWarning.Render(), text)
	default:
		printOut("%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message.
func Error(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		printErr("ERROR: %s\n", text)
	case PersonalityMinimal:
		printErr("%s %s\n", IconError.Render(), text)
	default:
		printErr("%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational message.
func Info(text string) {
	if GetPersonality().Level == PersonalityMachine {
		printOut("%s\n", text)
		return
	}
	printOut("%s %s\n", Styles.Muted.Render("│"), text)
}

// Muted prints secondary text. Suppressed in machine mode.
func Muted(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	printOut("%s\n", Styles.Muted.Render(text))
}

// Step prints one workflow step with its status icon and an optional
// detail such as a duration.
func Step(name string, status Icon, detail string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		printOut("STEP\t%s\t%s\t%s\n", machineStatus(status), name, detail)
	case PersonalityMinimal:
		printOut("%s %s\n", status.Render(), name)
	default:
		if detail != "" {
			printOut("%s %s %s\n", status.Render(), name, Styles.Muted.Render("("+detail+")"))
		} else {
			printOut("%s %s\n", status.Render(), name)
		}
	}
}

func machineStatus(i Icon) string {
	switch i {
	case IconSuccess:
		return "ok"
	case IconWarning:
		return "warn"
	case IconError:
		return "failed"
	case IconSkipped:
		return "skipped"
	default:
		return "pending"
	}
}

// =============================================================================
// Blocks
// =============================================================================

// KV is one row of a key/value block.
type KV struct {
	Key   string
	Value string
}

// Box prints a titled box.
func Box(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		printOut("%s:\n%s\n", title, content)
		return
	}
	printOut("%s\n", Styles.Box.Width(boxWidth).Render(Styles.Title.Render(title)+"\n"+content))
}

// WarningBox prints a box styled as a warning.
func WarningBox(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		printErr("WARN %s: %s\n", title, content)
		return
	}
	printOut("%s\n", Styles.WarningBox.Width(boxWidth).Render(Styles.Warning.Bold(true).Render(title)+"\n"+content))
}

// ErrorBox prints a box styled as an error, typically with a log tail.
func ErrorBox(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		printErr("ERROR %s:\n%s\n", title, content)
		return
	}
	printErr("%s\n", Styles.ErrorBox.Width(boxWidth).Render(Styles.Error.Bold(true).Render(title)+"\n"+content))
}

const boxWidth = 72

// KeyValues renders rows as aligned "key value" lines. Machine mode uses
// key=value.
func KeyValues(rows []KV) string {
	var b strings.Builder
	machine := GetPersonality().Level == PersonalityMachine
	for i, r := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		if machine {
			fmt.Fprintf(&b, "%s=%s", r.Key, r.Value)
			continue
		}
		b.WriteString(Styles.Key.Render(r.Key))
		b.WriteString(r.Value)
	}
	return b.String()
}

// SummaryBox prints rows inside a titled box.
func SummaryBox(title string, rows []KV) {
	Box(title, KeyValues(rows))
}

// Bullets renders items as a bulleted list.
func Bullets(items []string) string {
	prefix := IconBullet.Render() + " "
	if GetPersonality().Level == PersonalityMachine {
		prefix = "- "
	}
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = prefix + it
	}
	return strings.Join(lines, "\n")
}
