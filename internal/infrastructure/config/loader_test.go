package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/prcover/internal/application"
)

func noEnv(string) string { return "" }

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".prcover.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Loader{Getenv: noEnv}.Load("", nil)

	require.NoError(t, err)
	assert.Equal(t, 80.0, cfg.Threshold)
	assert.Equal(t, application.FormatAuto, cfg.Format)
	assert.Equal(t, "origin/main", cfg.Base)
	assert.Equal(t, 80.0, cfg.Report.FailAtOrBelow)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 5.0, cfg.HTTP.RatePerSecond)
	assert.Empty(t, cfg.Platform)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeFile(t, `threshold: 75
coverage: build/clover.xml
format: clover
strip_prefixes:
  - /ci/workspace
exclude:
  - vendor/
  - "*.pb.go"
platform: bitbucket
report:
  fail_at_or_below: 60
  title: Changed lines
http:
  timeout: 10s
bitbucket:
  workspace: acme
  repository: shop
`)

	cfg, err := Loader{Getenv: noEnv}.Load(path, nil)

	require.NoError(t, err)
	assert.Equal(t, 75.0, cfg.Threshold)
	assert.Equal(t, "build/clover.xml", cfg.Coverage)
	assert.Equal(t, application.FormatClover, cfg.Format)
	assert.Equal(t, []string{"/ci/workspace"}, cfg.StripPrefixes)
	assert.Equal(t, []string{"vendor/", "*.pb.go"}, cfg.Exclude)
	assert.Equal(t, application.PlatformBitbucket, cfg.Platform)
	assert.Equal(t, 60.0, cfg.Report.FailAtOrBelow)
	assert.Equal(t, "Changed lines", cfg.Report.Title)
	assert.Equal(t, 10*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, application.BitbucketConfig{Workspace: "acme", Repository: "shop"}, cfg.Bitbucket)
}

func TestLoadTOMLConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prcover.toml")
	content := `threshold = 72.5
coverage = "coverage/lcov.info"
exclude = ["vendor/"]
platform = "gitlab"

[report]
fail_at_or_below = 50.0

[gitlab]
project = "group/app"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Loader{Getenv: noEnv}.Load(path, nil)

	require.NoError(t, err)
	assert.Equal(t, 72.5, cfg.Threshold)
	assert.Equal(t, "coverage/lcov.info", cfg.Coverage)
	assert.Equal(t, []string{"vendor/"}, cfg.Exclude)
	assert.Equal(t, application.PlatformGitLab, cfg.Platform)
	assert.Equal(t, 50.0, cfg.Report.FailAtOrBelow)
	assert.Equal(t, "group/app", cfg.GitLab.Project)
}

func TestLoadLayering(t *testing.T) {
	path := writeFile(t, "threshold: 70\nplatform: github\ngithub:\n  owner: file-owner\n")
	t.Setenv("PRCOVER_THRESHOLD", "85")
	t.Setenv("PRCOVER_GITHUB_REPOSITORY", "env-repo")
	t.Setenv("PRCOVER_REPORT_FAIL_AT_OR_BELOW", "50")
	ci := func(key string) string {
		return map[string]string{
			"GITHUB_ACTIONS":    "true",
			"GITHUB_REPOSITORY": "ci-owner/ci-repo",
			"GITHUB_REF":        "refs/pull/8/merge",
			"GITHUB_TOKEN":      "ghs_ci",
		}[key]
	}

	cfg, err := Loader{Getenv: ci}.Load(path, map[string]any{"threshold": 90.0})

	require.NoError(t, err)
	assert.Equal(t, 90.0, cfg.Threshold, "overrides win")
	assert.Equal(t, 50.0, cfg.Report.FailAtOrBelow, "environment beats defaults")
	assert.Equal(t, "file-owner", cfg.GitHub.Owner, "file beats ci detection")
	assert.Equal(t, "env-repo", cfg.GitHub.Repository, "environment beats ci detection")
	assert.Equal(t, "ghs_ci", cfg.GitHub.Token)
	assert.Equal(t, 8, cfg.PullRequest)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Loader{Getenv: noEnv}.Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, application.ErrConfigNotFound))
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"threshold above 100": "threshold: 101\n",
		"negative verdict":    "report:\n  fail_at_or_below: -1\n",
		"unknown format":      "format: jacoco\n",
		"unknown platform":    "platform: gitea\n",
		"bad exclude":         "exclude:\n  - \"src/[a-\"\n",
		"zero timeout":        "http:\n  timeout: 0s\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Loader{Getenv: noEnv}.Load(writeFile(t, content), nil)

			require.Error(t, err)
			assert.True(t, errors.Is(err, application.ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestEnvKey(t *testing.T) {
	cases := map[string]string{
		"PRCOVER_THRESHOLD":               "threshold",
		"PRCOVER_PULL_REQUEST":            "pull_request",
		"PRCOVER_STRIP_PREFIXES":          "strip_prefixes",
		"PRCOVER_REPORT_FAIL_AT_OR_BELOW": "report.fail_at_or_below",
		"PRCOVER_BITBUCKET_APP_PASSWORD":  "bitbucket.app_password",
		"PRCOVER_HTTP_RATE_PER_SECOND":    "http.rate_per_second",
	}
	for in, want := range cases {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestWriteConfigRoundTrip(t *testing.T) {
	cfg, err := Loader{Getenv: noEnv}.Load(writeFile(t, "threshold: 65\n"), nil)
	require.NoError(t, err)
	cfg.Platform = application.PlatformGitLab
	cfg.GitLab = application.GitLabConfig{Project: "group/app", Token: "secret"}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, cfg))

	out := buf.String()
	assert.Contains(t, out, "threshold: 65")
	assert.Contains(t, out, "timeout: 30s")
	assert.Contains(t, out, "project: group/app")
	assert.False(t, strings.Contains(out, "secret"), "tokens must not be written")

	reloaded, err := Loader{Getenv: noEnv}.Load(writeFile(t, out), nil)
	require.NoError(t, err)
	assert.Equal(t, 65.0, reloaded.Threshold)
	assert.Equal(t, "group/app", reloaded.GitLab.Project)
	assert.Empty(t, reloaded.GitLab.Token)
}
