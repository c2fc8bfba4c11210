// Package markdown renders pull request comments.
package markdown

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/prcover/internal/application"
	"github.com/felixgeelhaar/prcover/internal/domain"
)

// CommentMarker identifies prcover comments for updates.
const CommentMarker = "<!-- prcover-coverage-report -->"

// DefaultMaxFiles caps the file table so comments stay below platform
// size limits.
const DefaultMaxFiles = 50

// Formatter implements application.CommentFormatter.
type Formatter struct {
	MaxFiles int
}

// NewFormatter creates a Formatter with the default file cap.
func NewFormatter() *Formatter {
	return &Formatter{MaxFiles: DefaultMaxFiles}
}

// Marker returns the hidden comment marker.
func (f *Formatter) Marker() string {
	return CommentMarker
}

// FormatComment renders the analysis as a markdown comment.
func (f *Formatter) FormatComment(a application.Analysis) string {
	var b strings.Builder
	result := a.Result

	b.WriteString(CommentMarker)
	b.WriteString("\n")
	icon := "✅"
	if !a.Outcome.Passed() {
		icon = "❌"
	}
	fmt.Fprintf(&b, "## %s Coverage of changed lines: %.1f%%\n\n", icon, domain.Round1(result.Percentage()))
	fmt.Fprintf(&b, "**%s**: %d of %d changed, instrumented lines covered (threshold %.1f%%).\n\n",
		a.Outcome, result.TotalCovered(), result.TotalCountable(), a.Threshold)

	files := result.Files()
	if len(files) == 0 {
		b.WriteString("No changed lines are covered by the coverage report.\n")
	} else {
		b.WriteString("| File | Covered | Lines | Uncovered lines |\n")
		b.WriteString("|------|--------:|------:|-----------------|\n")
		limit := f.MaxFiles
		if limit <= 0 {
			limit = DefaultMaxFiles
		}
		for i, file := range files {
			if i == limit {
				fmt.Fprintf(&b, "\n_%d more files not shown._\n", len(files)-limit)
				break
			}
			uncovered := "-"
			if len(file.Uncovered) > 0 {
				uncovered = LineRanges(file.Uncovered)
			}
			fmt.Fprintf(&b, "| `%s` | %d | %d | %s |\n", file.Path, file.Covered, file.Total, uncovered)
		}
	}

	if len(a.Untracked) > 0 {
		b.WriteString("\n<details>\n<summary>Changed files without coverage data</summary>\n\n")
		for _, path := range a.Untracked {
			fmt.Fprintf(&b, "- `%s`\n", path)
		}
		b.WriteString("\n</details>\n")
	}

	b.WriteString("\n---\n*Generated by prcover*\n")
	return b.String()
}

// LineRanges renders ascending line numbers compactly, e.g. "3-5, 9".
func LineRanges(lines []int) string {
	var parts []string
	for i := 0; i < len(lines); {
		j := i
		for j+1 < len(lines) && lines[j+1] == lines[j]+1 {
			j++
		}
		if i == j {
			parts = append(parts, strconv.Itoa(lines[i]))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", lines[i], lines[j]))
		}
		i = j + 1
	}
	return strings.Join(parts, ", ")
}

var _ application.CommentFormatter = (*Formatter)(nil)
