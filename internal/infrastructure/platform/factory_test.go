package platform

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/prcover/internal/application"
)

func TestNewSelectsPlatform(t *testing.T) {
	base := application.Config{HTTP: application.HTTPConfig{Timeout: time.Second, RatePerSecond: 1}}
	cases := map[application.PlatformName]func(*application.Config){
		application.PlatformBitbucket: func(c *application.Config) {
			c.Bitbucket = application.BitbucketConfig{Workspace: "acme", Repository: "shop", Token: "t"}
		},
		application.PlatformGitHub: func(c *application.Config) {
			c.GitHub = application.GitHubConfig{Owner: "acme", Repository: "shop", Token: "t"}
		},
		application.PlatformGitLab: func(c *application.Config) {
			c.GitLab = application.GitLabConfig{Project: "acme/shop", Token: "t"}
		},
	}
	for name, configure := range cases {
		t.Run(string(name), func(t *testing.T) {
			cfg := base
			cfg.Platform = name
			configure(&cfg)

			p, err := New(cfg, zerolog.Nop())

			require.NoError(t, err)
			assert.Equal(t, name, p.Name())
			assert.Positive(t, p.MaxAnnotations())
		})
	}
}

func TestNewRejectsUnknownPlatform(t *testing.T) {
	for _, name := range []application.PlatformName{"", "gitea"} {
		_, err := Factory(zerolog.Nop())(application.Config{Platform: name})
		assert.True(t, errors.Is(err, application.ErrInvalidConfig), "platform %q: %v", name, err)
	}
}
