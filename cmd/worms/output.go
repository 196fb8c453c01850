// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/worms/services/worms/search"
)

// Palette: deep ocean teals.
var (
	colorTealBright = lipgloss.Color("#2CD7C7")
	colorTealDeep   = lipgloss.Color("#16858E")
	colorSlate      = lipgloss.Color("#2C4A54")
	colorWarning    = lipgloss.Color("#F4D03F")
	colorError      = lipgloss.Color("#E74C3C")
)

var styles = struct {
	Title   lipgloss.Style
	Muted   lipgloss.Style
	Header  lipgloss.Style
	Cell    lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Border  lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(colorTealBright),
	Muted:   lipgloss.NewStyle().Foreground(colorSlate),
	Header:  lipgloss.NewStyle().Bold(true).Foreground(colorTealBright).Padding(0, 1),
	Cell:    lipgloss.NewStyle().Padding(0, 1),
	Success: lipgloss.NewStyle().Foreground(colorTealBright),
	Warning: lipgloss.NewStyle().Foreground(colorWarning),
	Error:   lipgloss.NewStyle().Foreground(colorError),
	Border:  lipgloss.NewStyle().Foreground(colorTealDeep),
}

const (
	iconSuccess = "✓"
	iconWarning = "⚠"
	iconError   = "✗"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// =============================================================================
// Result Report
// =============================================================================

// report is the printable summary of a search.
type report struct {
	RunID     string   `json:"run_id"`
	Criteria  string   `json:"criteria"`
	Sizes     []int    `json:"sizes"`
	Total     int      `json:"total"`
	Hits      int      `json:"hits"`
	ElapsedMS int64    `json:"elapsed_ms"`
	Rows      []hitRow `json:"rows"`
}

type hitRow struct {
	Rank    int      `json:"rank"`
	Score   float64  `json:"score"`
	Indices []int    `json:"indices"`
	Splices []string `json:"splices,omitempty"`
}

// buildReport summarizes the best top hits of w; top <= 0 keeps all.
func buildReport(w *search.Worms, top int, withSplices bool, elapsed time.Duration) (report, error) {
	d := w.Detail()
	r := report{
		RunID:     d.RunID,
		Criteria:  w.Criteria().Name(),
		Sizes:     d.Sizes,
		Total:     d.Total,
		Hits:      w.Len(),
		ElapsedMS: elapsed.Milliseconds(),
	}
	n := w.Len()
	if top > 0 && top < n {
		n = top
	}
	for i := range n {
		indices, score, _ := w.At(i)
		row := hitRow{Rank: i + 1, Score: score, Indices: indices}
		if withSplices {
			splices, err := w.Splices(i)
			if err != nil {
				return report{}, err
			}
			for _, s := range splices {
				row.Splices = append(row.Splices, s.String())
			}
		}
		r.Rows = append(r.Rows, row)
	}
	return r, nil
}

func writeJSON(w io.Writer, r report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// renderReport formats r as a title line and a bordered table.
func renderReport(r report) string {
	var b strings.Builder
	b.WriteString(styles.Title.Render(fmt.Sprintf("%s: %d of %d chains", r.Criteria, r.Hits, r.Total)))
	b.WriteString(styles.Muted.Render(fmt.Sprintf("  sizes %v  run %s  %dms", r.Sizes, r.RunID, r.ElapsedMS)))
	b.WriteByte('\n')
	if len(r.Rows) == 0 {
		b.WriteString(styles.Warning.Render(iconWarning + " no chain scored below the threshold"))
		return b.String()
	}

	headers := []string{"#", "score", "choices"}
	withSplices := len(r.Rows[0].Splices) > 0
	if withSplices {
		headers = append(headers, "splices")
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.Border).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.Header
			}
			return styles.Cell
		})
	for _, row := range r.Rows {
		cells := []string{
			strconv.Itoa(row.Rank),
			strconv.FormatFloat(row.Score, 'f', 4, 64),
			formatIndices(row.Indices),
		}
		if withSplices {
			cells = append(cells, strings.Join(row.Splices, "\n"))
		}
		t.Row(cells...)
	}
	b.WriteString(t.Render())
	if r.Hits > len(r.Rows) {
		b.WriteByte('\n')
		b.WriteString(styles.Muted.Render(fmt.Sprintf("%d more not shown", r.Hits-len(r.Rows))))
	}
	return b.String()
}

func formatIndices(indices []int) string {
	parts := make([]string, len(indices))
	for i, v := range indices {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}

// =============================================================================
// Progress
// =============================================================================

// progressReporter draws a bar on a terminal and otherwise logs progress
// at most every few seconds. Update is called from one goroutine.
type progressReporter struct {
	out       io.Writer
	tty       bool
	bar       progress.Model
	sometimes rate.Sometimes
	logger    *slog.Logger
}

func newProgressReporter(out io.Writer, logger *slog.Logger) *progressReporter {
	return &progressReporter{
		out:       out,
		tty:       isTerminal(out),
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		sometimes: rate.Sometimes{First: 1, Interval: 5 * time.Second},
		logger:    logger,
	}
}

// Update reports done of total jobs finished.
func (p *progressReporter) Update(done, total int) {
	if total <= 0 {
		return
	}
	if p.tty {
		fmt.Fprintf(p.out, "\r%s %d/%d jobs", p.bar.ViewAs(float64(done)/float64(total)), done, total)
		if done == total {
			fmt.Fprintln(p.out)
		}
		return
	}
	p.sometimes.Do(func() {
		p.logger.Info("search progress", slog.Int("jobs_done", done), slog.Int("jobs", total))
	})
}
