package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/felixgeelhaar/prcover/internal/application"
)

const configResourceURI = "prcover://config"

// configView is the configuration as exposed to clients. Tokens and
// passwords are never included.
type configView struct {
	Threshold     float64  `json:"threshold"`
	Diff          string   `json:"diff,omitempty"`
	Base          string   `json:"base,omitempty"`
	Coverage      string   `json:"coverage,omitempty"`
	Format        string   `json:"format"`
	StripPrefixes []string `json:"stripPrefixes,omitempty"`
	Exclude       []string `json:"exclude,omitempty"`
	Platform      string   `json:"platform,omitempty"`
	PullRequest   int      `json:"pullRequest,omitempty"`
	FailAtOrBelow float64  `json:"reportFailAtOrBelow"`
	ReportTitle   string   `json:"reportTitle,omitempty"`
	Repository    string   `json:"repository,omitempty"`
}

func newConfigView(cfg application.Config) configView {
	view := configView{
		Threshold:     cfg.Threshold,
		Diff:          cfg.Diff,
		Base:          cfg.Base,
		Coverage:      cfg.Coverage,
		Format:        string(cfg.Format),
		StripPrefixes: cfg.StripPrefixes,
		Exclude:       cfg.Exclude,
		Platform:      string(cfg.Platform),
		PullRequest:   cfg.PullRequest,
		FailAtOrBelow: cfg.Report.FailAtOrBelow,
		ReportTitle:   cfg.Report.Title,
	}
	switch cfg.Platform {
	case application.PlatformBitbucket:
		view.Repository = cfg.Bitbucket.Workspace + "/" + cfg.Bitbucket.Repository
	case application.PlatformGitHub:
		view.Repository = cfg.GitHub.Owner + "/" + cfg.GitHub.Repository
	case application.PlatformGitLab:
		view.Repository = cfg.GitLab.Project
	}
	return view
}

// handleConfigResource returns the effective configuration.
func (s *Server) handleConfigResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	cfg, err := s.svc.LoadConfig(application.LoadOptions{ConfigPath: s.config.ConfigPath})
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	data, err := json.MarshalIndent(newConfigView(cfg), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
