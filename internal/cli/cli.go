package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/felixgeelhaar/prcover/internal/application"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/config"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/diff"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/markdown"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/parsers"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/paths"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/platform"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/pragma"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/report"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/watcher"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/wizard"
	"github.com/felixgeelhaar/prcover/internal/logging"
	"github.com/felixgeelhaar/prcover/internal/mcp"
)

// Exit codes.
const (
	ExitOK         = 0
	ExitGateFailed = 1
	ExitUsage      = 2
	ExitError      = 3
)

type Service interface {
	mcp.Service
	Check(ctx context.Context, opts application.CheckOptions) error
	Publish(ctx context.Context, opts application.PublishOptions) (application.PublishResult, error)
	Comment(ctx context.Context, opts application.CommentOptions) (application.CommentResult, error)
	Detect(ctx context.Context, overrides map[string]any) (application.Config, error)
	Watch(ctx context.Context, opts application.WatchOptions, watcher application.FileWatcher, callback application.WatchCallback) error
}

var (
	initWizard = wizard.Run
	newWatcher = func() (application.FileWatcher, error) {
		return watcher.New(watcher.WithDebounce(watcher.DefaultDebounce))
	}
	serveMCP = func(ctx context.Context, svc mcp.Service, cfg mcp.Config) error {
		return mcp.New(svc, diff.Parser{}, parsers.NewRegistry(), cfg, logging.Setup("")).Run(ctx)
	}
	stdin io.Reader = os.Stdin
)

// usageError marks bad invocations (exit 2).
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func onUsageError(_ *cli.Context, err error, _ bool) error {
	return usageError{err: err}
}

func usageErrorf(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

// Run executes the command line and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer, svc Service) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApp(stdout, stderr, svc)
	return exitCode(app.RunContext(ctx, args), stderr)
}

func newApp(stdout, stderr io.Writer, svc Service) *cli.App {
	commands := []*cli.Command{
		checkCommand(svc),
		publishCommand(stdout, svc),
		commentCommand(stdout, svc),
		initCommand(stdout, svc),
		watchCommand(stdout, stderr, svc),
		mcpCommand(svc),
		versionCommand(stdout),
	}
	for _, cmd := range commands {
		cmd.OnUsageError = onUsageError
	}
	return &cli.App{
		Name:      "prcover",
		Usage:     "gate pull requests on the test coverage of the lines they change",
		Version:   fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log `LEVEL`: debug, info, warn, error",
				Value:   logging.DefaultLevel.String(),
				EnvVars: []string{"PRCOVER_LOG_LEVEL"},
			},
		},
		Before: func(c *cli.Context) error {
			if err := logging.SetLevel(c.String("log-level")); err != nil {
				return usageError{err: err}
			}
			return nil
		},
		Commands: commands,
		Action: func(c *cli.Context) error {
			if c.Args().Present() {
				return usageErrorf("unknown command %q", c.Args().First())
			}
			_ = cli.ShowAppHelp(c)
			return usageErrorf("no command given")
		},
		OnUsageError:   onUsageError,
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

// analysisFlags are shared by every command that analyzes a change. Each
// one, when set, overrides the config key of the same meaning.
func analysisFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Config file `PATH` (default .prcover.yaml when present)"},
		&cli.StringFlag{Name: "coverage", Usage: "Coverage report `PATH`"},
		&cli.StringFlag{Name: "format", Usage: "Coverage format: auto|clover|cobertura|lcov|go"},
		&cli.StringFlag{Name: "diff", Usage: "Unified diff `PATH`, - for stdin (default: pull request or git diff)"},
		&cli.StringFlag{Name: "base", Usage: "Base `REF` for the git diff"},
		&cli.Float64Flag{Name: "threshold", Usage: "Pass only above this changed-line coverage `PERCENT`"},
		&cli.StringSliceFlag{Name: "exclude", Usage: "Exclude files matching `GLOB` (repeatable)"},
		&cli.StringSliceFlag{Name: "strip-prefix", Usage: "Strip `PREFIX` from coverage paths (repeatable)"},
		&cli.StringFlag{Name: "platform", Usage: "Hosting platform: bitbucket|github|gitlab"},
		&cli.IntFlag{Name: "pr", Usage: "Pull request `NUMBER`"},
	}
}

func outputFlag(value string) cli.Flag {
	return &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Output format: text|json|brief",
		Value:   value,
	}
}

func checkCommand(svc Service) *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Reconcile the diff with the coverage report and enforce the threshold",
		Flags: append(analysisFlags(), outputFlag(string(application.OutputText))),
		Action: func(c *cli.Context) error {
			output, err := outputFormat(c)
			if err != nil {
				return err
			}
			return svc.Check(c.Context, application.CheckOptions{LoadOptions: loadOptions(c), Output: output})
		},
	}
}

func publishCommand(stdout io.Writer, svc Service) *cli.Command {
	flags := append(analysisFlags(),
		outputFlag(string(application.OutputText)),
		&cli.BoolFlag{Name: "comment", Usage: "Also post a summary comment"},
		&cli.BoolFlag{Name: "update-comment", Usage: "Edit the previous summary comment instead of adding one"},
		&cli.BoolFlag{Name: "no-report", Usage: "Skip the check report and annotations"},
		&cli.Float64Flag{Name: "report-fail-at-or-below", Usage: "Mark the report FAILED at or below this `PERCENT`"},
		&cli.StringFlag{Name: "report-title", Usage: "Report `TITLE`"},
	)
	return &cli.Command{
		Name:  "publish",
		Usage: "Publish a check report with annotations on uncovered lines to the pull request",
		Flags: flags,
		Action: func(c *cli.Context) error {
			output, err := outputFormat(c)
			if err != nil {
				return err
			}
			result, err := svc.Publish(c.Context, application.PublishOptions{
				LoadOptions:   loadOptions(c),
				Output:        output,
				Comment:       c.Bool("comment") || c.Bool("update-comment"),
				UpdateComment: c.Bool("update-comment"),
				SkipReport:    c.Bool("no-report"),
			})
			if result.ReportID != "" {
				fmt.Fprintf(stdout, "Report published: %s\n", result.ReportID)
			}
			if result.Comment != nil {
				fmt.Fprintf(stdout, "Comment published: %s\n", commentLocation(*result.Comment))
			}
			return err
		},
	}
}

func commentCommand(stdout io.Writer, svc Service) *cli.Command {
	return &cli.Command{
		Name:  "comment",
		Usage: "Post the coverage summary as a pull request comment",
		Flags: append(analysisFlags(),
			&cli.BoolFlag{Name: "update", Usage: "Edit the previous summary comment instead of adding one"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Print the comment instead of posting it"},
		),
		Action: func(c *cli.Context) error {
			result, err := svc.Comment(c.Context, application.CommentOptions{
				LoadOptions: loadOptions(c),
				Update:      c.Bool("update"),
				DryRun:      c.Bool("dry-run"),
			})
			if err != nil {
				return err
			}
			if !c.Bool("dry-run") {
				fmt.Fprintf(stdout, "Comment published: %s\n", commentLocation(result.Comment))
			}
			return nil
		},
	}
}

func initCommand(stdout io.Writer, svc Service) *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Detect settings, review them interactively and write .prcover.yaml",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Config file `PATH`, - for stdout", Value: config.DefaultPath},
			&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing config file"},
			&cli.BoolFlag{Name: "no-interactive", Usage: "Skip the interactive wizard"},
			&cli.StringFlag{Name: "coverage", Usage: "Coverage report `PATH`"},
			&cli.Float64Flag{Name: "threshold", Usage: "Gate threshold `PERCENT`"},
			&cli.StringFlag{Name: "platform", Usage: "Hosting platform: bitbucket|github|gitlab"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := svc.Detect(c.Context, overrides(c))
			if err != nil {
				return err
			}
			if !c.Bool("no-interactive") {
				var confirmed bool
				cfg, confirmed, err = initWizard(cfg, stdout, stdin)
				if err != nil {
					return fmt.Errorf("init wizard: %w", err)
				}
				if !confirmed {
					fmt.Fprintln(stdout, "Init cancelled; no configuration written.")
					return nil
				}
				if err := config.Validate(cfg); err != nil {
					return err
				}
			}
			path := c.String("config")
			if err := writeConfigFile(path, cfg, stdout, c.Bool("force")); err != nil {
				return err
			}
			if path != "-" {
				fmt.Fprintf(stdout, "Configuration written to %s\n", path)
			}
			return nil
		},
	}
}

func watchCommand(stdout, stderr io.Writer, svc Service) *cli.Command {
	header := color.New(color.Bold)
	failed := color.New(color.FgRed)
	return &cli.Command{
		Name:  "watch",
		Usage: "Re-run check whenever the coverage report, diff or config changes",
		Flags: append(analysisFlags(), outputFlag(string(application.OutputBrief))),
		Action: func(c *cli.Context) error {
			output, err := outputFormat(c)
			if err != nil {
				return err
			}
			w, err := newWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer w.Close()

			fmt.Fprintln(stdout, "Watching for changes... (Ctrl+C to stop)")
			callback := func(runNumber int, runErr error) {
				header.Fprintf(stdout, "\n--- Run #%d at %s ---\n", runNumber, time.Now().Format("15:04:05"))
				switch {
				case runErr == nil:
				case application.IsGateFailure(runErr):
					failed.Fprintln(stdout, runErr)
				default:
					failed.Fprintf(stderr, "Check failed: %v\n", runErr)
				}
			}

			opts := application.WatchOptions{
				CheckOptions: application.CheckOptions{LoadOptions: loadOptions(c), Output: output},
			}
			err = svc.Watch(c.Context, opts, w, callback)
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(stdout, "\nStopping watch mode...")
				return nil
			}
			return err
		},
	}
}

func mcpCommand(svc Service) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the Model Context Protocol over stdio",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Config file `PATH`"},
		},
		Action: func(c *cli.Context) error {
			return serveMCP(c.Context, svc, mcp.Config{ConfigPath: c.String("config")})
		},
	}
}

func versionCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(*cli.Context) error {
			fmt.Fprintf(stdout, "prcover %s\ncommit: %s\nbuilt: %s\n", Version, Commit, Date)
			return nil
		},
	}
}

func loadOptions(c *cli.Context) application.LoadOptions {
	return application.LoadOptions{ConfigPath: c.String("config"), Overrides: overrides(c)}
}

// flagKeys maps flags to the config keys they override.
var flagKeys = map[string]string{
	"coverage":                "coverage",
	"format":                  "format",
	"diff":                    "diff",
	"base":                    "base",
	"threshold":               "threshold",
	"exclude":                 "exclude",
	"strip-prefix":            "strip_prefixes",
	"platform":                "platform",
	"pr":                      "pull_request",
	"report-fail-at-or-below": "report.fail_at_or_below",
	"report-title":            "report.title",
}

// overrides collects the flags that were set explicitly.
func overrides(c *cli.Context) map[string]any {
	out := map[string]any{}
	for name, key := range flagKeys {
		if !c.IsSet(name) {
			continue
		}
		switch name {
		case "threshold", "report-fail-at-or-below":
			out[key] = c.Float64(name)
		case "pr":
			out[key] = c.Int(name)
		case "exclude", "strip-prefix":
			out[key] = c.StringSlice(name)
		default:
			out[key] = c.String(name)
		}
	}
	return out
}

func outputFormat(c *cli.Context) (application.OutputFormat, error) {
	switch value := c.String("output"); value {
	case string(application.OutputText), string(application.OutputJSON), string(application.OutputBrief):
		return application.OutputFormat(value), nil
	default:
		return "", usageErrorf("invalid output format: %s", value)
	}
}

func commentLocation(c application.Comment) string {
	if c.URL != "" {
		return c.URL
	}
	return c.ID
}

func writeConfigFile(path string, cfg application.Config, stdout io.Writer, force bool) error {
	if path == "-" {
		return config.Write(stdout, cfg)
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return usageErrorf("config %s already exists (use --force to overwrite)", path)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return config.Write(file, cfg)
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return ExitOK
	}
	fmt.Fprintln(stderr, err)
	var usage usageError
	switch {
	case errors.Is(err, application.ErrGateFailed):
		return ExitGateFailed
	case errors.As(err, &usage),
		errors.Is(err, application.ErrInvalidConfig),
		errors.Is(err, application.ErrConfigNotFound):
		return ExitUsage
	default:
		return ExitError
	}
}

// BuildService wires the production adapters. Logs go to stderr, filtered
// by the global level set from --log-level.
func BuildService(stdout, stderr *os.File) *application.Service {
	logger := logging.New(stderr, zerolog.TraceLevel.String(), logging.IsTerminal(stderr))
	root, err := os.Getwd()
	if err != nil {
		root = "."
	}
	return &application.Service{
		ConfigLoader: config.Loader{},
		Coverage:     parsers.NewRegistry(),
		DiffSource:   diff.GitDiff{},
		DiffParser:   diff.Parser{},
		PathMappers: func(cfg application.Config) application.PathMapper {
			return paths.NewMapper(root, cfg.StripPrefixes, cfg.Exclude)
		},
		Pragmas:          pragma.Scanner{Root: root},
		Platforms:        platform.Factory(logger),
		Reporter:         report.Writer{},
		CommentFormatter: markdown.NewFormatter(),
		Logger:           logger,
		Out:              stdout,
		In:               os.Stdin,
	}
}
