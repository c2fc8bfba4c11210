package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/felixgeelhaar/prcover/internal/application"
	"github.com/felixgeelhaar/prcover/internal/domain"
)

const defaultThreshold = 80.0

// handleReconcile implements the reconcile tool.
func (s *Server) handleReconcile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	diffText, err := req.RequireString("diff")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	coverageText, err := req.RequireString("coverage")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	threshold := req.GetFloat("threshold", defaultThreshold)
	if _, err := domain.NewThreshold(threshold); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid threshold %v: %v", threshold, err)), nil
	}
	format := application.Format(req.GetString("format", string(application.FormatAuto)))

	modified, err := s.parser.Parse(diffText)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("parse diff: %v", err)), nil
	}
	report, err := s.coverage.ParseBytes("", []byte(coverageText), format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("parse coverage: %v", err)), nil
	}

	result := domain.Reconcile(modified, report)
	analysis := application.Analysis{
		Result:    result,
		Outcome:   domain.Evaluate(result, threshold),
		Threshold: threshold,
	}
	for _, path := range modified.Paths() {
		if _, ok := report[path]; !ok {
			analysis.Untracked = append(analysis.Untracked, path)
		}
	}
	s.logger.Debug().Float64("percentage", result.Percentage()).Msg("reconcile tool")
	return jsonResult(newToolOutput(analysis))
}

// handleAnalyze implements the analyze tool.
func (s *Server) handleAnalyze(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	overrides := map[string]any{}
	if v := req.GetString("coverage", ""); v != "" {
		overrides["coverage"] = v
	}
	if v := req.GetString("diff", ""); v != "" {
		overrides["diff"] = v
	}
	if args := req.GetArguments(); args["threshold"] != nil {
		overrides["threshold"] = req.GetFloat("threshold", defaultThreshold)
	}

	analysis, err := s.svc.Evaluate(ctx, application.LoadOptions{
		ConfigPath: coalesce(req.GetString("config_path", ""), s.config.ConfigPath),
		Overrides:  overrides,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("analysis failed: %v", err)), nil
	}
	return jsonResult(newToolOutput(analysis))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// generateSummary creates a one-line human readable verdict.
func generateSummary(a application.Analysis) string {
	r := a.Result
	if r.TotalCountable() == 0 {
		return fmt.Sprintf("%s: no instrumented lines changed (threshold %.1f%%)", a.Outcome, a.Threshold)
	}
	return fmt.Sprintf("%s: %.1f%% of changed lines covered (%d/%d), threshold %.1f%%, %d uncovered",
		a.Outcome, domain.Round1(r.Percentage()), r.TotalCovered(), r.TotalCountable(), a.Threshold, r.UncoveredCount())
}

// coalesce returns value if non-empty, otherwise fallback.
func coalesce(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
