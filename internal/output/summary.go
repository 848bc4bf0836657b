// SPDX-License-Identifier: Apache-2.0

// Package output renders alert summaries for the terminal.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	aqtable "github.com/aquasecurity/table"
	"github.com/aquasecurity/tml"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/vulnops/vulnpipe/internal/model"
)

const maxMessageWords = 16

// IsOutputToTerminal returns true if the writer is stdout connected to a
// character device (TTY).
func IsOutputToTerminal(output io.Writer) bool {
	return output == os.Stdout && term.IsTerminal(int(os.Stdout.Fd()))
}

// WriteAlertSummary renders the day's alerts as a table grouped under a
// severity summary line. When isTerminal is true, headers and severities
// use ANSI styling.
func WriteAlertSummary(w io.Writer, alerts []model.Alert, isTerminal bool) {
	writeTitle(w, alerts, isTerminal)

	tw := newTableWriter(w, isTerminal)
	tw.SetHeaders("Type", "Scope", "Severity", "Metric", "Message")
	for _, a := range alerts {
		severity := a.Severity
		if isTerminal {
			severity = colorizeSeverity(severity)
		}
		tw.AddRow(
			a.Type,
			a.Scope,
			severity,
			fmt.Sprintf("%.2f", a.MetricValue),
			truncateWords(a.Message, maxMessageWords),
		)
	}
	tw.Render()
}

func writeTitle(w io.Writer, alerts []model.Alert, isTerminal bool) {
	title := fmt.Sprintf("Alerts (Total: %d)", len(alerts))
	if isTerminal {
		_ = tml.Fprintf(w, "<underline><bold>%s</bold></underline>\n", title)
	} else {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, strings.Repeat("=", utf8.RuneCountInString(title)))
	}
	fmt.Fprintln(w, severitySummary(alerts))
	fmt.Fprintln(w)
}

// newTableWriter creates a table writer with borders, auto-merge, and row
// separators. When isTerminal is true, header and line styles use ANSI
// formatting.
func newTableWriter(w io.Writer, isTerminal bool) *aqtable.Table {
	tw := aqtable.New(w)
	if isTerminal {
		tw.SetHeaderStyle(aqtable.StyleBold)
		tw.SetLineStyle(aqtable.StyleDim)
	}
	tw.SetBorders(true)
	tw.SetAutoMerge(true)
	tw.SetRowLines(true)
	return tw
}

// severitySummary returns a line like:
// Total: 5 (LOW: 0, MEDIUM: 1, HIGH: 3, CRITICAL: 1)
func severitySummary(alerts []model.Alert) string {
	counts := map[string]int{}
	for _, a := range alerts {
		counts[strings.ToLower(a.Severity)]++
	}
	return fmt.Sprintf("Total: %d (LOW: %d, MEDIUM: %d, HIGH: %d, CRITICAL: %d)",
		len(alerts), counts["low"], counts["medium"], counts["high"], counts["critical"])
}

var severityColors = map[string]func(a ...any) string{
	"low":      color.New(color.FgBlue).SprintFunc(),
	"medium":   color.New(color.FgYellow).SprintFunc(),
	"high":     color.New(color.FgHiRed).SprintFunc(),
	"critical": color.New(color.FgRed).SprintFunc(),
}

func colorizeSeverity(severity string) string {
	if fn, ok := severityColors[strings.ToLower(severity)]; ok {
		return fn(severity)
	}
	return severity
}

// truncateWords limits text to maxWords words, appending "..." if truncated.
func truncateWords(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
