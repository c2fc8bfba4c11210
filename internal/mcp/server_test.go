package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/prcover/internal/application"
	"github.com/felixgeelhaar/prcover/internal/domain"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/diff"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/parsers"
)

type mockService struct {
	analysis application.Analysis
	cfg      application.Config
	err      error
	opts     application.LoadOptions
}

func (m *mockService) Evaluate(ctx context.Context, opts application.LoadOptions) (application.Analysis, error) {
	m.opts = opts
	return m.analysis, m.err
}

func (m *mockService) LoadConfig(opts application.LoadOptions) (application.Config, error) {
	m.opts = opts
	return m.cfg, m.err
}

const sampleDiff = `diff --git a/src/app.go b/src/app.go
--- a/src/app.go
+++ b/src/app.go
@@ -1,2 +1,5 @@
 package app
+func a() {}
+func b() {}
+// note
 var x = 1
`

const sampleLCOV = `SF:src/app.go
DA:2,3
DA:3,0
end_of_record
`

func newTestServer(svc Service) *Server {
	return New(svc, diff.Parser{}, parsers.NewRegistry(), Config{ConfigPath: "ci/.prcover.yaml"}, zerolog.Nop())
}

func callTool(t *testing.T, s *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	tool := s.MCPServer().GetTool(name)
	require.NotNil(t, tool, "tool %s should exist", name)
	res, err := tool.Handler(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	require.NoError(t, err, "tool failures are reported in the result, not as errors")
	return res
}

func decodeOutput(t *testing.T, res *mcp.CallToolResult) ToolOutput {
	t.Helper()
	require.False(t, res.IsError, "unexpected tool error: %v", res.Content)
	var out ToolOutput
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].(mcp.TextContent).Text), &out))
	return out
}

func TestReconcileTool(t *testing.T) {
	res := callTool(t, newTestServer(&mockService{}), "reconcile", map[string]any{
		"diff":      sampleDiff,
		"coverage":  sampleLCOV,
		"threshold": 40.0,
	})

	out := decodeOutput(t, res)
	assert.True(t, out.Passed)
	assert.Equal(t, domain.GatePass, out.Outcome)
	assert.Equal(t, 50.0, out.Percentage)
	assert.Equal(t, 2, out.TotalCountable)
	assert.Equal(t, map[string][]int{"src/app.go": {3}}, out.UncoveredByFile)
	assert.Contains(t, out.Summary, "50.0% of changed lines covered (1/2)")
}

func TestReconcileToolListsRegisteredFormats(t *testing.T) {
	tool := newTestServer(&mockService{}).MCPServer().GetTool("reconcile")
	require.NotNil(t, tool)

	format, ok := tool.Tool.InputSchema.Properties["format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"auto", "clover", "cobertura", "go", "lcov"}, format["enum"])
}

func TestReconcileToolBoundaryFails(t *testing.T) {
	res := callTool(t, newTestServer(&mockService{}), "reconcile", map[string]any{
		"diff":      sampleDiff,
		"coverage":  sampleLCOV,
		"threshold": 50.0,
		"format":    "lcov",
	})

	out := decodeOutput(t, res)
	assert.False(t, out.Passed, "coverage equal to the threshold fails")
}

func TestReconcileToolErrors(t *testing.T) {
	cases := map[string]struct {
		args map[string]any
		want string
	}{
		"missing diff":     {map[string]any{"coverage": sampleLCOV}, "diff"},
		"missing coverage": {map[string]any{"diff": sampleDiff}, "coverage"},
		"bad threshold":    {map[string]any{"diff": sampleDiff, "coverage": sampleLCOV, "threshold": 120.0}, "invalid threshold"},
		"malformed diff":   {map[string]any{"diff": "@@ -1 +1,3 @@\n+a\n", "coverage": sampleLCOV}, "parse diff"},
		"malformed clover": {map[string]any{"diff": sampleDiff, "coverage": "<coverage><project>", "format": "clover"}, "parse coverage"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res := callTool(t, newTestServer(&mockService{}), "reconcile", tc.args)
			assert.True(t, res.IsError)
			assert.Contains(t, res.Content[0].(mcp.TextContent).Text, tc.want)
		})
	}
}

func TestAnalyzeToolForwardsOverrides(t *testing.T) {
	result := domain.Reconcile(domain.ModifiedLineSet{"a.go": {1}}, domain.CoverageReport{"a.go": {1: 1}})
	svc := &mockService{analysis: application.Analysis{Result: result, Outcome: domain.GatePass, Threshold: 70}}

	res := callTool(t, newTestServer(svc), "analyze", map[string]any{
		"coverage":  "build/lcov.info",
		"threshold": 70.0,
	})

	out := decodeOutput(t, res)
	assert.True(t, out.Passed)
	assert.Equal(t, "ci/.prcover.yaml", svc.opts.ConfigPath)
	assert.Equal(t, map[string]any{"coverage": "build/lcov.info", "threshold": 70.0}, svc.opts.Overrides)
}

func TestAnalyzeToolReportsServiceError(t *testing.T) {
	svc := &mockService{err: application.ErrConfigNotFound}

	res := callTool(t, newTestServer(svc), "analyze", nil)

	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].(mcp.TextContent).Text, "config not found")
}

func TestConfigResourceOmitsCredentials(t *testing.T) {
	svc := &mockService{cfg: application.Config{
		Threshold: 80,
		Platform:  application.PlatformGitHub,
		GitHub:    application.GitHubConfig{Owner: "acme", Repository: "shop", Token: "ghp_secret"},
	}}
	s := newTestServer(svc)

	contents, err := s.handleConfigResource(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: configResourceURI},
	})

	require.NoError(t, err)
	require.Len(t, contents, 1)
	text := contents[0].(mcp.TextResourceContents).Text
	assert.Contains(t, text, `"repository": "acme/shop"`)
	assert.NotContains(t, text, "ghp_secret")
	assert.Equal(t, "ci/.prcover.yaml", svc.opts.ConfigPath)
}

func TestConfigResourceError(t *testing.T) {
	s := newTestServer(&mockService{err: errors.New("boom")})

	_, err := s.handleConfigResource(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: configResourceURI},
	})

	assert.Error(t, err)
}
