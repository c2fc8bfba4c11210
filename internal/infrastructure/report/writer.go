package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"golang.org/x/term"

	"github.com/felixgeelhaar/prcover/internal/application"
	"github.com/felixgeelhaar/prcover/internal/domain"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/markdown"
)

// Writer renders an Analysis for the terminal or for machines.
type Writer struct{}

func (Writer) Write(w io.Writer, a application.Analysis, format application.OutputFormat) error {
	switch format {
	case application.OutputJSON:
		payload := struct {
			application.Analysis
			Summary struct {
				Pass       bool    `json:"pass"`
				Percentage float64 `json:"percentage"`
			} `json:"summary"`
		}{Analysis: a}
		payload.Summary.Pass = a.Outcome.Passed()
		payload.Summary.Percentage = domain.Round1(a.Result.Percentage())
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	case application.OutputBrief:
		return writeBrief(w, a)
	case application.OutputText, "":
		return writeText(w, a)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func writeText(w io.Writer, a application.Analysis) error {
	result := a.Result
	colorize := colorEnabled(w)
	passStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#16A34A")).Bold(true)
	failStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#DC2626")).Bold(true)

	outcome := string(a.Outcome)
	if colorize {
		if a.Outcome.Passed() {
			outcome = passStyle.Render(outcome)
		} else {
			outcome = failStyle.Render(outcome)
		}
	}
	fmt.Fprintf(w, "Changed-line coverage: %.1f%% (%d/%d lines)\n",
		domain.Round1(result.Percentage()), result.TotalCovered(), result.TotalCountable())
	fmt.Fprintf(w, "Threshold: %.1f%% (must be exceeded)\n", a.Threshold)
	fmt.Fprintf(w, "Gate: %s\n", outcome)
	if threshold, err := domain.NewThreshold(a.Threshold); err == nil && !a.Outcome.Passed() {
		fmt.Fprintf(w, "Shortfall: %.1f points below %s\n", threshold.Shortfall(result.Percentage()), threshold)
	}

	files := result.Files()
	if len(files) > 0 {
		fmt.Fprintln(w)
		table := tablewriter.NewWriter(w)
		table.Header([]string{"File", "Covered", "Lines", "Coverage", "Uncovered lines"})
		table.Configure(func(cfg *tablewriter.Config) {
			cfg.Row.Alignment.Global = tw.AlignRight
			cfg.Row.Alignment.PerColumn = []tw.Align{tw.AlignLeft, tw.AlignRight, tw.AlignRight, tw.AlignRight, tw.AlignLeft}
		})
		maxPath := maxPathWidth(w)
		var data [][]string
		for _, f := range files {
			uncovered, percent := "-", "-"
			if len(f.Uncovered) > 0 {
				uncovered = markdown.LineRanges(f.Uncovered)
			}
			if f.Total > 0 {
				percent = fmt.Sprintf("%.1f%%", f.Stat().Percent())
			}
			data = append(data, []string{
				truncatePath(f.Path, maxPath),
				strconv.Itoa(f.Covered),
				strconv.Itoa(f.Total),
				percent,
				uncovered,
			})
		}
		if err := table.Bulk(data); err != nil {
			return err
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	if len(a.Untracked) > 0 {
		fmt.Fprintln(w, "\nChanged files without coverage data:")
		for _, path := range a.Untracked {
			fmt.Fprintf(w, "  - %s\n", path)
		}
	}
	return nil
}

func colorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}

// maxPathWidth returns the widest path that keeps the table on one
// terminal line, or 0 when w is not a terminal.
func maxPathWidth(w io.Writer) int {
	file, ok := w.(*os.File)
	if !ok || !isatty.IsTerminal(file.Fd()) {
		return 0
	}
	width, _, err := term.GetSize(int(file.Fd()))
	if err != nil || width <= 0 {
		width = 80
	}
	// Counts, percentage, line list and borders.
	const fixedColumns = 60
	if width-fixedColumns < 20 {
		return 20
	}
	return width - fixedColumns
}

// truncatePath keeps the tail of long paths, where the file name is.
func truncatePath(path string, max int) string {
	if max <= 0 || len(path) <= max {
		return path
	}
	return "..." + path[len(path)-max+3:]
}

// writeBrief outputs a single-line summary optimized for LLM/agent consumption.
// Format: STATUS | XX.X% of changed lines | covered/total | threshold XX.X% [| uncovered: file:lines; ...]
func writeBrief(w io.Writer, a application.Analysis) error {
	result := a.Result
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s | %.1f%% of changed lines | %d/%d covered | threshold %.1f%%",
		a.Outcome, domain.Round1(result.Percentage()), result.TotalCovered(), result.TotalCountable(), a.Threshold))

	var uncovered []string
	for _, f := range result.Files() {
		if len(f.Uncovered) > 0 {
			uncovered = append(uncovered, f.Path+":"+strings.ReplaceAll(markdown.LineRanges(f.Uncovered), " ", ""))
		}
	}
	if len(uncovered) > 0 {
		sb.WriteString(" | uncovered: ")
		sb.WriteString(strings.Join(uncovered, "; "))
	}
	if len(a.Untracked) > 0 {
		sb.WriteString(fmt.Sprintf(" | %d files without coverage", len(a.Untracked)))
	}

	sb.WriteString("\n")
	_, err := w.Write([]byte(sb.String()))
	return err
}
