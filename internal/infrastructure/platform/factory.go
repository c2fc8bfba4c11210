// Package platform builds the hosting platform client selected by the
// configuration.
package platform

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/felixgeelhaar/prcover/internal/application"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/bitbucket"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/github"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/gitlab"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/httpapi"
)

// Factory returns an application.PlatformFactory whose clients log to
// logger.
func Factory(logger zerolog.Logger) application.PlatformFactory {
	return func(cfg application.Config) (application.Platform, error) {
		return New(cfg, logger)
	}
}

// New creates the client for cfg.Platform using the HTTP settings of cfg.
func New(cfg application.Config, logger zerolog.Logger) (application.Platform, error) {
	opts := httpapi.Options{
		Timeout:       cfg.HTTP.Timeout,
		RatePerSecond: cfg.HTTP.RatePerSecond,
		Logger:        logger.With().Str("platform", string(cfg.Platform)).Logger(),
	}
	switch cfg.Platform {
	case application.PlatformBitbucket:
		return bitbucket.NewClient(bitbucket.Config(cfg.Bitbucket), opts)
	case application.PlatformGitHub:
		return github.NewClient(github.Config(cfg.GitHub), opts)
	case application.PlatformGitLab:
		return gitlab.NewClient(gitlab.Config(cfg.GitLab), opts)
	case "":
		return nil, fmt.Errorf("%w: platform is required", application.ErrInvalidConfig)
	default:
		return nil, fmt.Errorf("%w: unknown platform %q", application.ErrInvalidConfig, cfg.Platform)
	}
}
