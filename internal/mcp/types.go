// Package mcp provides the Model Context Protocol server for prcover.
package mcp

import (
	"context"

	"github.com/felixgeelhaar/prcover/internal/application"
	"github.com/felixgeelhaar/prcover/internal/domain"
)

// Service defines the application operations needed by MCP.
// This interface allows for easy mocking in tests.
type Service interface {
	Evaluate(ctx context.Context, opts application.LoadOptions) (application.Analysis, error)
	LoadConfig(opts application.LoadOptions) (application.Config, error)
}

// CoverageParser parses an in-memory coverage document. name is a
// format detection hint.
type CoverageParser interface {
	ParseBytes(name string, content []byte, format application.Format) (domain.CoverageReport, error)
	SupportedFormats() []application.Format
}

// Config holds MCP server configuration.
type Config struct {
	ConfigPath string // Path to .prcover.yaml; empty uses the default lookup
}

// ToolOutput is the JSON document every tool returns.
type ToolOutput struct {
	Passed          bool                `json:"passed"`
	Outcome         domain.GateOutcome  `json:"outcome"`
	Percentage      float64             `json:"percentage"`
	Threshold       float64             `json:"threshold"`
	TotalCountable  int                 `json:"totalCountable"`
	TotalCovered    int                 `json:"totalCovered"`
	UncoveredByFile map[string][]int    `json:"uncoveredByFile"`
	Files           []domain.FileResult `json:"files"`
	Untracked       []string            `json:"untracked,omitempty"`
	Summary         string              `json:"summary"`
}

func newToolOutput(a application.Analysis) ToolOutput {
	return ToolOutput{
		Passed:          a.Outcome.Passed(),
		Outcome:         a.Outcome,
		Percentage:      a.Result.Percentage(),
		Threshold:       a.Threshold,
		TotalCountable:  a.Result.TotalCountable(),
		TotalCovered:    a.Result.TotalCovered(),
		UncoveredByFile: a.Result.UncoveredByFile(),
		Files:           a.Result.Files(),
		Untracked:       a.Untracked,
		Summary:         generateSummary(a),
	}
}
