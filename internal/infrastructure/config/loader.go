// Package config loads prcover configuration in layers: built-in defaults,
// CI detection, the YAML config file, PRCOVER_* environment variables and
// finally command-line overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/prcover/internal/application"
	"github.com/felixgeelhaar/prcover/internal/domain"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/autodetect"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/paths"
)

// DefaultPath is the config file looked up when no path is given.
const DefaultPath = ".prcover.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PRCOVER_"

// sections are the nested config blocks; env keys starting with one of
// these are split once, so PRCOVER_REPORT_FAIL_AT_OR_BELOW becomes
// report.fail_at_or_below.
var sections = []string{"report", "http", "bitbucket", "github", "gitlab"}

type Loader struct {
	// Getenv is used for CI detection. Nil means os.Getenv.
	Getenv func(string) string
}

type fileConfig struct {
	Threshold     float64       `koanf:"threshold" yaml:"threshold"`
	Diff          string        `koanf:"diff" yaml:"diff,omitempty"`
	Base          string        `koanf:"base" yaml:"base,omitempty"`
	Coverage      string        `koanf:"coverage" yaml:"coverage,omitempty"`
	Format        string        `koanf:"format" yaml:"format,omitempty"`
	StripPrefixes []string      `koanf:"strip_prefixes" yaml:"strip_prefixes,omitempty"`
	Exclude       []string      `koanf:"exclude" yaml:"exclude,omitempty"`
	Platform      string        `koanf:"platform" yaml:"platform,omitempty"`
	PullRequest   int           `koanf:"pull_request" yaml:"-"`
	Report        fileReport    `koanf:"report" yaml:"report"`
	HTTP          fileHTTP      `koanf:"http" yaml:"http"`
	Bitbucket     fileBitbucket `koanf:"bitbucket" yaml:"bitbucket,omitempty"`
	GitHub        fileGitHub    `koanf:"github" yaml:"github,omitempty"`
	GitLab        fileGitLab    `koanf:"gitlab" yaml:"gitlab,omitempty"`
}

type fileReport struct {
	FailAtOrBelow float64 `koanf:"fail_at_or_below" yaml:"fail_at_or_below"`
	Title         string  `koanf:"title" yaml:"title,omitempty"`
}

type fileHTTP struct {
	Timeout       time.Duration `koanf:"timeout" yaml:"timeout"`
	RatePerSecond float64       `koanf:"rate_per_second" yaml:"rate_per_second"`
}

// Secrets are read but never written back to the config file.
type fileBitbucket struct {
	Workspace   string `koanf:"workspace" yaml:"workspace,omitempty"`
	Repository  string `koanf:"repository" yaml:"repository,omitempty"`
	Username    string `koanf:"username" yaml:"username,omitempty"`
	AppPassword string `koanf:"app_password" yaml:"-"`
	Token       string `koanf:"token" yaml:"-"`
	APIURL      string `koanf:"api_url" yaml:"api_url,omitempty"`
}

type fileGitHub struct {
	Owner      string `koanf:"owner" yaml:"owner,omitempty"`
	Repository string `koanf:"repository" yaml:"repository,omitempty"`
	Token      string `koanf:"token" yaml:"-"`
	APIURL     string `koanf:"api_url" yaml:"api_url,omitempty"`
}

type fileGitLab struct {
	Project string `koanf:"project" yaml:"project,omitempty"`
	Token   string `koanf:"token" yaml:"-"`
	BaseURL string `koanf:"base_url" yaml:"base_url,omitempty"`
}

// Defaults returns the built-in configuration values.
func Defaults() map[string]any {
	return map[string]any{
		"threshold":               80.0,
		"base":                    "origin/main",
		"format":                  string(application.FormatAuto),
		"report.fail_at_or_below": 80.0,
		"report.title":            "Coverage of changed lines",
		"http.timeout":            30 * time.Second,
		"http.rate_per_second":    5.0,
	}
}

func (l Loader) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Load builds the configuration. An explicit path must exist and may be
// YAML or TOML; an empty path falls back to DefaultPath when that file is
// present.
func (l Loader) Load(path string, overrides map[string]any) (application.Config, error) {
	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return application.Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if err := k.Load(confmap.Provider(autodetect.Detector{Getenv: getenv}.Detect(), "."), nil); err != nil {
		return application.Config{}, fmt.Errorf("load ci environment: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	exists, err := l.Exists(path)
	if err != nil {
		return application.Config{}, fmt.Errorf("stat config: %w", err)
	}
	switch {
	case exists:
		if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
			return application.Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	case explicit:
		return application.Config{}, fmt.Errorf("%w: %s", application.ErrConfigNotFound, path)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return application.Config{}, fmt.Errorf("load environment: %w", err)
	}
	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return application.Config{}, fmt.Errorf("load overrides: %w", err)
		}
	}

	var fc fileConfig
	if err := k.Unmarshal("", &fc); err != nil {
		return application.Config{}, fmt.Errorf("%w: %v", application.ErrInvalidConfig, err)
	}
	cfg := fc.toApplication()
	if err := Validate(cfg); err != nil {
		return application.Config{}, err
	}
	return cfg, nil
}

// envKey maps PRCOVER_GITHUB_API_URL to github.api_url.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range sections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok {
			return section + "." + rest
		}
	}
	return key
}

// Validate checks ranges and enumerations. Every failure wraps
// application.ErrInvalidConfig.
func Validate(cfg application.Config) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", application.ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	if _, err := domain.NewThreshold(cfg.Threshold); err != nil {
		return invalid("threshold %v: %v", cfg.Threshold, err)
	}
	if _, err := domain.NewThreshold(cfg.Report.FailAtOrBelow); err != nil {
		return invalid("report.fail_at_or_below %v: %v", cfg.Report.FailAtOrBelow, err)
	}
	switch cfg.Format {
	case application.FormatAuto, application.FormatClover, application.FormatCobertura,
		application.FormatLCOV, application.FormatGo:
	default:
		return invalid("unknown coverage format %q", cfg.Format)
	}
	switch cfg.Platform {
	case "", application.PlatformBitbucket, application.PlatformGitHub, application.PlatformGitLab:
	default:
		return invalid("unknown platform %q", cfg.Platform)
	}
	if cfg.PullRequest < 0 {
		return invalid("pull_request must be positive, got %d", cfg.PullRequest)
	}
	if cfg.HTTP.Timeout <= 0 {
		return invalid("http.timeout must be positive")
	}
	if cfg.HTTP.RatePerSecond <= 0 {
		return invalid("http.rate_per_second must be positive")
	}
	if err := paths.ValidatePatterns(cfg.Exclude); err != nil {
		return invalid("%v", err)
	}
	return nil
}

func (fc fileConfig) toApplication() application.Config {
	return application.Config{
		Threshold:     fc.Threshold,
		Diff:          fc.Diff,
		Base:          fc.Base,
		Coverage:      fc.Coverage,
		Format:        application.Format(strings.ToLower(fc.Format)),
		StripPrefixes: fc.StripPrefixes,
		Exclude:       fc.Exclude,
		Platform:      application.PlatformName(strings.ToLower(fc.Platform)),
		PullRequest:   fc.PullRequest,
		Report: application.ReportConfig{
			FailAtOrBelow: fc.Report.FailAtOrBelow,
			Title:         fc.Report.Title,
		},
		HTTP: application.HTTPConfig{
			Timeout:       fc.HTTP.Timeout,
			RatePerSecond: fc.HTTP.RatePerSecond,
		},
		Bitbucket: application.BitbucketConfig(fc.Bitbucket),
		GitHub:    application.GitHubConfig(fc.GitHub),
		GitLab:    application.GitLabConfig(fc.GitLab),
	}
}

// Write emits cfg as YAML suitable for DefaultPath. Credentials are omitted.
func Write(w io.Writer, cfg application.Config) error {
	out := fileConfig{
		Threshold:     cfg.Threshold,
		Diff:          cfg.Diff,
		Base:          cfg.Base,
		Coverage:      cfg.Coverage,
		Format:        string(cfg.Format),
		StripPrefixes: cfg.StripPrefixes,
		Exclude:       cfg.Exclude,
		Platform:      string(cfg.Platform),
		Report:        fileReport{FailAtOrBelow: cfg.Report.FailAtOrBelow, Title: cfg.Report.Title},
		HTTP:          fileHTTP{Timeout: cfg.HTTP.Timeout, RatePerSecond: cfg.HTTP.RatePerSecond},
		Bitbucket:     fileBitbucket(cfg.Bitbucket),
		GitHub:        fileGitHub(cfg.GitHub),
		GitLab:        fileGitLab(cfg.GitLab),
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}

// parserFor picks the file parser by extension. Anything but .toml is YAML.
func parserFor(path string) koanf.Parser {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return toml.Parser()
	}
	return Parser()
}

// yamlParser adapts gopkg.in/yaml.v3 to koanf.Parser.
type yamlParser struct{}

// Parser returns a koanf parser for YAML config files.
func Parser() koanf.Parser {
	return yamlParser{}
}

func (yamlParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (yamlParser) Marshal(o map[string]interface{}) ([]byte, error) {
	return yaml.Marshal(o)
}
