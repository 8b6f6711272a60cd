// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the prover CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#2C4A54")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box lipgloss.Style

	DiffAdd    lipgloss.Style
	DiffRemove lipgloss.Style
	DiffHunk   lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),

	DiffAdd:    lipgloss.NewStyle().Foreground(ColorSuccess),
	DiffRemove: lipgloss.NewStyle().Foreground(ColorError),
	DiffHunk:   lipgloss.NewStyle().Foreground(ColorTealPrimary),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconInfo    Icon = "•"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
)

func (i Icon) style() lipgloss.Style {
	switch i {
	case IconSuccess:
		return Styles.Success
	case IconWarning:
		return Styles.Warning
	case IconError:
		return Styles.Error
	case IconPending:
		return Styles.Muted
	default:
		return lipgloss.NewStyle()
	}
}

// Severity names accepted by Printer.Diagnostic.
const (
	SeverityError       = "error"
	SeverityWarning     = "warning"
	SeverityInformation = "information"
)

// SeverityIcon maps a severity name to its icon. Unknown names get IconInfo.
func SeverityIcon(severity string) Icon {
	switch severity {
	case SeverityError:
		return IconError
	case SeverityWarning:
		return IconWarning
	default:
		return IconInfo
	}
}

// Printer writes styled lines to w. With color off, styles are dropped and
// the text is written unchanged.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter creates a Printer.
func NewPrinter(w io.Writer, color bool) *Printer {
	return &Printer{w: w, color: color}
}

// IsTerminal reports whether f is a terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Color reports whether styles are applied.
func (p *Printer) Color() bool { return p.color }

func (p *Printer) render(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

// Icon renders i in its style.
func (p *Printer) Icon(i Icon) string {
	return p.render(i.style(), string(i))
}

// Title prints a styled title.
func (p *Printer) Title(text string) {
	fmt.Fprintln(p.w, p.render(Styles.Title, text))
}

// Success prints a success message with checkmark.
func (p *Printer) Success(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.Icon(IconSuccess), p.render(Styles.Success, text))
}

// Warning prints a warning message.
func (p *Printer) Warning(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.Icon(IconWarning), p.render(Styles.Warning, text))
}

// Error prints an error message.
func (p *Printer) Error(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.Icon(IconError), p.render(Styles.Error, text))
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.render(Styles.Muted, "│"), text)
}

// Muted prints secondary text.
func (p *Printer) Muted(text string) {
	fmt.Fprintln(p.w, p.render(Styles.Muted, text))
}

// Diagnostic prints one prover message as "icon location: text". Multi-line
// text is indented under the first line.
func (p *Printer) Diagnostic(severity, location, text string) {
	icon := SeverityIcon(severity)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	fmt.Fprintf(p.w, "%s %s %s\n", p.Icon(icon), p.render(Styles.Bold, location+":"), lines[0])
	for _, l := range lines[1:] {
		fmt.Fprintf(p.w, "    %s\n", l)
	}
}

// Box prints content under title in a rounded box. Without color the box
// is replaced by a "title:" header.
func (p *Printer) Box(title, content string) {
	if !p.color {
		fmt.Fprintf(p.w, "%s:\n%s\n", title, content)
		return
	}
	fmt.Fprintln(p.w, Styles.Box.Render(Styles.Title.Render(title)+"\n"+content))
}

// Summary prints error, warning and information counts.
func (p *Printer) Summary(errors, warnings, infos int) {
	fmt.Fprintf(p.w, "\n%s %s  %s %s  %s %s\n",
		p.render(Styles.Error, fmt.Sprintf("%d", errors)), p.render(Styles.Muted, plural(errors, "error")),
		p.render(Styles.Warning, fmt.Sprintf("%d", warnings)), p.render(Styles.Muted, plural(warnings, "warning")),
		p.render(Styles.Bold, fmt.Sprintf("%d", infos)), p.render(Styles.Muted, plural(infos, "message")),
	)
}

// Diff prints unified diff text, coloring added, removed and hunk lines.
func (p *Printer) Diff(unified string) {
	for _, line := range strings.SplitAfter(unified, "\n") {
		if line == "" {
			continue
		}
		body := strings.TrimSuffix(line, "\n")
		switch {
		case strings.HasPrefix(body, "+++"), strings.HasPrefix(body, "---"):
			body = p.render(Styles.Bold, body)
		case strings.HasPrefix(body, "@@"):
			body = p.render(Styles.DiffHunk, body)
		case strings.HasPrefix(body, "+"):
			body = p.render(Styles.DiffAdd, body)
		case strings.HasPrefix(body, "-"):
			body = p.render(Styles.DiffRemove, body)
		}
		fmt.Fprintln(p.w, body)
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
