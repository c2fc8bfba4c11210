package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/rs/zerolog"

	"github.com/felixgeelhaar/prcover/internal/domain"
	"github.com/felixgeelhaar/prcover/internal/pathutil"
)

type Service struct {
	ConfigLoader ConfigLoader
	Coverage     CoverageLoader
	DiffSource   DiffSource
	DiffParser   DiffParser
	PathMappers  PathMapperFactory
	// Pragmas is optional; nil disables in-source ignore pragmas.
	Pragmas          PragmaScanner
	Platforms        PlatformFactory
	Reporter         Reporter
	CommentFormatter CommentFormatter
	Logger           zerolog.Logger
	Out              io.Writer
	// In backs the "-" diff path.
	In io.Reader
}

// LoadOptions selects the config file and the flag values layered on top.
type LoadOptions struct {
	ConfigPath string
	Overrides  map[string]any
}

type CheckOptions struct {
	LoadOptions
	Output OutputFormat
}

type PublishOptions struct {
	LoadOptions
	Output OutputFormat
	// Comment also posts the markdown summary comment.
	Comment bool
	// UpdateComment edits our previous comment when the platform allows it.
	UpdateComment bool
	// SkipReport publishes only the comment.
	SkipReport bool
}

type PublishResult struct {
	Analysis Analysis
	ReportID string
	Comment  *Comment
}

type CommentOptions struct {
	LoadOptions
	Update bool
	// DryRun writes the comment body to Out instead of posting it.
	DryRun bool
}

type CommentResult struct {
	Comment Comment
	Body    string
}

type WatchOptions struct {
	CheckOptions
}

// Check analyzes the change, writes the report to Out and returns
// ErrGateFailed when the gate fails.
func (s *Service) Check(ctx context.Context, opts CheckOptions) error {
	analysis, err := s.Evaluate(ctx, opts.LoadOptions)
	if err != nil {
		return err
	}
	if err := s.Reporter.Write(s.Out, analysis, opts.Output); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return gateError(analysis)
}

// Evaluate loads the configuration and analyzes the change without
// writing anything. The pull request diff is fetched from the platform when
// a pull request is configured and no diff file is given.
func (s *Service) Evaluate(ctx context.Context, opts LoadOptions) (Analysis, error) {
	cfg, err := s.load(opts)
	if err != nil {
		return Analysis{}, err
	}
	platform, err := s.diffPlatform(cfg)
	if err != nil {
		return Analysis{}, err
	}
	return s.Analyze(ctx, cfg, platform)
}

// Publish analyzes the pull request and publishes a check report (and
// optionally a comment) to its platform.
func (s *Service) Publish(ctx context.Context, opts PublishOptions) (PublishResult, error) {
	cfg, err := s.load(opts.LoadOptions)
	if err != nil {
		return PublishResult{}, err
	}
	if err := requirePullRequest(cfg); err != nil {
		return PublishResult{}, err
	}
	platform, err := s.platform(cfg)
	if err != nil {
		return PublishResult{}, err
	}
	analysis, err := s.Analyze(ctx, cfg, platform)
	if err != nil {
		return PublishResult{}, err
	}
	if opts.Output != "" {
		if err := s.Reporter.Write(s.Out, analysis, opts.Output); err != nil {
			return PublishResult{}, fmt.Errorf("write report: %w", err)
		}
	}

	publisher := s.publisher(platform, cfg)
	result := PublishResult{Analysis: analysis}
	if !opts.SkipReport {
		id, err := publisher.PublishReport(ctx, analysis, cfg.PullRequest)
		if err != nil {
			return result, err
		}
		result.ReportID = id
	}
	if opts.Comment {
		c, err := publisher.PostComment(ctx, analysis, cfg.PullRequest, opts.UpdateComment)
		if err != nil {
			return result, err
		}
		result.Comment = &c
	}
	return result, gateError(analysis)
}

// Comment posts the markdown summary to the pull request.
func (s *Service) Comment(ctx context.Context, opts CommentOptions) (CommentResult, error) {
	if s.CommentFormatter == nil {
		return CommentResult{}, fmt.Errorf("comment formatter not configured")
	}
	cfg, err := s.load(opts.LoadOptions)
	if err != nil {
		return CommentResult{}, err
	}

	var platform Platform
	if opts.DryRun {
		platform, err = s.diffPlatform(cfg)
	} else if err = requirePullRequest(cfg); err == nil {
		platform, err = s.platform(cfg)
	}
	if err != nil {
		return CommentResult{}, err
	}

	analysis, err := s.Analyze(ctx, cfg, platform)
	if err != nil {
		return CommentResult{}, err
	}
	body := s.CommentFormatter.FormatComment(analysis)
	if opts.DryRun {
		_, err := io.WriteString(s.Out, body)
		return CommentResult{Body: body}, err
	}

	c, err := s.publisher(platform, cfg).PostComment(ctx, analysis, cfg.PullRequest, opts.Update)
	if err != nil {
		return CommentResult{Body: body}, err
	}
	return CommentResult{Comment: c, Body: body}, nil
}

// Detect returns the configuration init starts from: defaults, CI
// detection, an existing config file and overrides.
func (s *Service) Detect(_ context.Context, overrides map[string]any) (Config, error) {
	return s.ConfigLoader.Load("", overrides)
}

// LoadConfig returns the layered configuration.
func (s *Service) LoadConfig(opts LoadOptions) (Config, error) {
	return s.load(opts)
}

// Watch runs Check once, then again whenever the coverage report, the diff
// file or the config file changes.
func (s *Service) Watch(ctx context.Context, opts WatchOptions, watcher FileWatcher, callback WatchCallback) error {
	cfg, err := s.load(opts.LoadOptions)
	if err != nil {
		return err
	}
	if err := watcher.WatchFiles(s.watchedFiles(cfg, opts.ConfigPath)...); err != nil {
		return fmt.Errorf("failed to watch files: %w", err)
	}

	runNumber := 1
	runErr := s.Check(ctx, opts.CheckOptions)
	if callback != nil {
		callback(runNumber, runErr)
	}

	events := watcher.Events(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-events:
			if !ok {
				return nil
			}
			runNumber++
			s.Logger.Debug().Int("run", runNumber).Msg("input changed")
			runErr := s.Check(ctx, opts.CheckOptions)
			if callback != nil {
				callback(runNumber, runErr)
			}
		}
	}
}

func (s *Service) watchedFiles(cfg Config, configPath string) []string {
	files := []string{cfg.Coverage}
	if cfg.Diff != "" && cfg.Diff != pathutil.StdinPath {
		files = append(files, cfg.Diff)
	}
	if configPath == "" {
		configPath = defaultConfigPath
	}
	if ok, err := s.ConfigLoader.Exists(configPath); err == nil && ok {
		files = append(files, configPath)
	}
	return files
}

const defaultConfigPath = ".prcover.yaml"

// Analyze reconciles the change described by cfg with its coverage report.
// platform is only consulted for the pull request diff and may be nil.
func (s *Service) Analyze(ctx context.Context, cfg Config, platform Platform) (Analysis, error) {
	if cfg.Coverage == "" {
		return Analysis{}, fmt.Errorf("%w: coverage report path is required", ErrInvalidConfig)
	}

	text, err := s.diffText(ctx, cfg, platform)
	if err != nil {
		return Analysis{}, err
	}
	modified, err := s.DiffParser.Parse(text)
	if err != nil {
		return Analysis{}, err
	}

	report, err := s.Coverage.Load(cfg.Coverage, cfg.Format)
	if err != nil {
		return Analysis{}, err
	}

	mapper := s.PathMappers(cfg)
	coverage := mapper.Map(report)
	modified = mapper.FilterModified(modified)
	if modified, err = s.withoutIgnored(ctx, modified); err != nil {
		return Analysis{}, err
	}

	result := domain.Reconcile(modified, coverage)
	analysis := Analysis{
		Result:    result,
		Outcome:   domain.Evaluate(result, cfg.Threshold),
		Threshold: cfg.Threshold,
		Untracked: untracked(modified, coverage),
	}
	s.Logger.Info().
		Int("files", len(modified)).
		Int("countable", result.TotalCountable()).
		Int("covered", result.TotalCovered()).
		Float64("percentage", result.Percentage()).
		Str("outcome", string(analysis.Outcome)).
		Msg("coverage reconciled")
	return analysis, nil
}

// diffText picks the diff source: an explicit file (or stdin), the pull
// request diff from the platform, or git.
func (s *Service) diffText(ctx context.Context, cfg Config, platform Platform) (string, error) {
	switch {
	case cfg.Diff != "":
		s.Logger.Debug().Str("path", cfg.Diff).Msg("reading diff file")
		data, err := pathutil.ReadInput(cfg.Diff, s.In)
		if err != nil {
			return "", fmt.Errorf("read diff: %w", err)
		}
		return string(data), nil
	case platform != nil && cfg.PullRequest > 0:
		s.Logger.Debug().Str("platform", string(platform.Name())).Int("pr", cfg.PullRequest).Msg("fetching pull request diff")
		text, err := platform.GetDiff(ctx, cfg.PullRequest)
		if err != nil {
			return "", fmt.Errorf("fetch pull request diff: %w", err)
		}
		return text, nil
	default:
		s.Logger.Debug().Str("base", cfg.Base).Msg("running git diff")
		text, err := s.DiffSource.Diff(ctx, cfg.Base)
		if err != nil {
			return "", fmt.Errorf("git diff: %w", err)
		}
		return text, nil
	}
}

func (s *Service) load(opts LoadOptions) (Config, error) {
	cfg, err := s.ConfigLoader.Load(opts.ConfigPath, opts.Overrides)
	if err != nil {
		return Config{}, err
	}
	s.Logger.Debug().
		Float64("threshold", cfg.Threshold).
		Str("coverage", cfg.Coverage).
		Str("platform", string(cfg.Platform)).
		Int("pr", cfg.PullRequest).
		Msg("configuration loaded")
	return cfg, nil
}

func (s *Service) platform(cfg Config) (Platform, error) {
	if s.Platforms == nil {
		return nil, fmt.Errorf("no platform support configured")
	}
	return s.Platforms(cfg)
}

// diffPlatform returns the platform when the diff has to come from the
// pull request, nil otherwise.
func (s *Service) diffPlatform(cfg Config) (Platform, error) {
	if cfg.PullRequest <= 0 || cfg.Diff != "" || cfg.Platform == "" {
		return nil, nil
	}
	return s.platform(cfg)
}

func (s *Service) publisher(platform Platform, cfg Config) *Publisher {
	return &Publisher{
		Platform:      platform,
		Formatter:     s.CommentFormatter,
		Logger:        s.Logger,
		Title:         cfg.Report.Title,
		FailAtOrBelow: cfg.Report.FailAtOrBelow,
	}
}

func requirePullRequest(cfg Config) error {
	if cfg.Platform == "" {
		return fmt.Errorf("%w: platform is required", ErrInvalidConfig)
	}
	if cfg.PullRequest <= 0 {
		return fmt.Errorf("%w: pull request number is required", ErrInvalidConfig)
	}
	return nil
}

func gateError(a Analysis) error {
	if a.Outcome.Passed() {
		return nil
	}
	return fmt.Errorf("%w: %.1f%% of changed lines covered, threshold %.1f%%",
		ErrGateFailed, domain.Round1(a.Result.Percentage()), a.Threshold)
}

func (s *Service) withoutIgnored(ctx context.Context, set domain.ModifiedLineSet) (domain.ModifiedLineSet, error) {
	if s.Pragmas == nil || len(set) == 0 {
		return set, nil
	}
	files := make([]string, 0, len(set))
	for file := range set {
		files = append(files, file)
	}
	ignored, err := s.Pragmas.Ignored(ctx, files)
	if err != nil {
		return nil, fmt.Errorf("scan ignore pragmas: %w", err)
	}
	for file := range ignored {
		s.Logger.Debug().Str("file", file).Msg("ignored by pragma")
		delete(set, file)
	}
	return set, nil
}

// untracked lists the changed files the coverage report knows nothing about.
func untracked(set domain.ModifiedLineSet, coverage domain.CoverageReport) []string {
	var out []string
	for file := range set {
		if _, ok := coverage[file]; !ok {
			out = append(out, file)
		}
	}
	sort.Strings(out)
	return out
}

// IsGateFailure reports whether err is a failed gate rather than an
// operational error.
func IsGateFailure(err error) bool {
	return errors.Is(err, ErrGateFailed)
}
