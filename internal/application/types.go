package application

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/felixgeelhaar/prcover/internal/domain"
)

type OutputFormat string

const (
	OutputText  OutputFormat = "text"
	OutputJSON  OutputFormat = "json"
	OutputBrief OutputFormat = "brief"
)

// Format represents a coverage report format.
type Format string

const (
	// FormatAuto auto-detects the coverage format.
	FormatAuto Format = "auto"
	// FormatClover is the Clover XML coverage format.
	FormatClover Format = "clover"
	// FormatCobertura is the Cobertura XML coverage format.
	FormatCobertura Format = "cobertura"
	// FormatLCOV is the LCOV coverage format.
	FormatLCOV Format = "lcov"
	// FormatGo is the Go coverage profile format.
	FormatGo Format = "go"
)

// PlatformName identifies a git hosting platform.
type PlatformName string

const (
	PlatformBitbucket PlatformName = "bitbucket"
	PlatformGitHub    PlatformName = "github"
	PlatformGitLab    PlatformName = "gitlab"
)

// ReporterName tags every report, check run and comment this tool creates.
const ReporterName = "prcover"

var ErrConfigNotFound = errors.New("config not found")

// Config represents validated, application-ready configuration.
type Config struct {
	Threshold     float64
	Diff          string // Path to a unified diff; "-" reads stdin
	Base          string // Base ref for the git diff source
	Coverage      string // Path to the coverage report
	Format        Format
	StripPrefixes []string
	Exclude       []string
	Platform      PlatformName
	PullRequest   int
	Report        ReportConfig
	HTTP          HTTPConfig
	Bitbucket     BitbucketConfig
	GitHub        GitHubConfig
	GitLab        GitLabConfig
}

type ReportConfig struct {
	// FailAtOrBelow is the cut-off for the verdict shown on published
	// reports. It is independent of Threshold.
	FailAtOrBelow float64
	Title         string
}

type HTTPConfig struct {
	Timeout       time.Duration
	RatePerSecond float64
}

type BitbucketConfig struct {
	Workspace   string
	Repository  string
	Username    string
	AppPassword string
	Token       string
	APIURL      string
}

type GitHubConfig struct {
	Owner      string
	Repository string
	Token      string
	APIURL     string
}

type GitLabConfig struct {
	Project string
	Token   string
	BaseURL string
}

type ConfigLoader interface {
	// Load layers defaults, the config file at path (if present),
	// environment variables and overrides, in that order.
	Load(path string, overrides map[string]any) (Config, error)
	Exists(path string) (bool, error)
}

// ReportParser parses one coverage document format into line coverage.
type ReportParser interface {
	Parse(r io.Reader) (domain.CoverageReport, error)
	Format() Format
}

// CoverageLoader reads a coverage report file, detecting its format when
// format is FormatAuto.
type CoverageLoader interface {
	Load(path string, format Format) (domain.CoverageReport, error)
}

// DiffSource produces unified diff text for the current change.
type DiffSource interface {
	Diff(ctx context.Context, base string) (string, error)
}

// DiffParser turns unified diff text into the added lines per file.
type DiffParser interface {
	Parse(text string) (domain.ModifiedLineSet, error)
}

// PathMapper turns coverage report paths into repository-relative paths
// and drops excluded files from both the report and the diff.
type PathMapper interface {
	Map(report domain.CoverageReport) domain.CoverageReport
	FilterModified(set domain.ModifiedLineSet) domain.ModifiedLineSet
}

// PathMapperFactory builds the mapper for one configuration.
type PathMapperFactory func(cfg Config) PathMapper

// PlatformFactory builds the client for cfg.Platform.
type PlatformFactory func(cfg Config) (Platform, error)

type Reporter interface {
	Write(w io.Writer, analysis Analysis, format OutputFormat) error
}

// PragmaScanner finds changed files that opt out of the gate in source.
type PragmaScanner interface {
	Ignored(ctx context.Context, files []string) (map[string]bool, error)
}

// CommentFormatter generates PR comment content.
type CommentFormatter interface {
	FormatComment(analysis Analysis) string
	// Marker returns the hidden token that identifies our comments.
	Marker() string
}

// Analysis is the outcome of one reconciliation run.
type Analysis struct {
	Result    domain.CoverageResult `json:"result"`
	Outcome   domain.GateOutcome    `json:"outcome"`
	Threshold float64               `json:"threshold"`
	// Untracked lists diff paths that have no coverage entry.
	Untracked []string `json:"untracked,omitempty"`
}

// Platform is the capability set a git hosting platform provides to the
// publisher. Implementations hold their own credentials and endpoints.
type Platform interface {
	Name() PlatformName
	GetDiff(ctx context.Context, pr int) (string, error)
	GetHeadCommit(ctx context.Context, pr int) (string, error)
	ListReports(ctx context.Context, commit string) ([]Report, error)
	DeleteReport(ctx context.Context, commit, reportID string) error
	CreateReport(ctx context.Context, commit string, req ReportRequest) (string, error)
	AddAnnotations(ctx context.Context, commit, reportID string, annotations []Annotation) error
	PostComment(ctx context.Context, pr int, body string) (Comment, error)
	// MaxAnnotations is the largest batch AddAnnotations accepts.
	MaxAnnotations() int
}

// CommentUpdater is implemented by platforms that can edit an existing
// comment in place.
type CommentUpdater interface {
	FindComment(ctx context.Context, pr int, marker string) (Comment, bool, error)
	UpdateComment(ctx context.Context, pr int, commentID, body string) (Comment, error)
}

// Report is an existing check/report attached to a commit.
type Report struct {
	ID       string
	Title    string
	Reporter string
}

// ReportRequest describes a report to create on a commit.
type ReportRequest struct {
	ExternalID string
	Title      string
	Details    string
	Reporter   string
	Result     domain.ReportVerdict
	Percentage float64
	Outcome    domain.GateOutcome
}

// Annotation flags one uncovered line in a report.
type Annotation struct {
	ExternalID string
	Path       string
	Line       int
	Summary    string
}

type Comment struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

// WatchCallback is invoked after each watch-mode run.
type WatchCallback func(run int, err error)

// FileWatcher provides file change notifications.
type FileWatcher interface {
	WatchFiles(paths ...string) error
	Events(ctx context.Context) <-chan struct{}
	Close() error
}
