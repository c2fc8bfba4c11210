// Package github implements the publishing platform for GitHub: check runs
// with annotations, and pull request comments.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/prcover/internal/application"
	"github.com/felixgeelhaar/prcover/internal/domain"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/httpapi"
)

const (
	// DefaultAPIURL is the default GitHub API endpoint
	DefaultAPIURL = "https://api.github.com"
	// MaxAnnotations is the check run limit per update request.
	MaxAnnotations = 50
	apiVersion     = "2022-11-28"
	supersededText = "Superseded"
)

// Config holds the repository coordinates and credentials.
type Config struct {
	Owner      string
	Repository string
	Token      string
	APIURL     string
}

// Client implements application.Platform for GitHub. Reports are check
// runs named after the reporter.
type Client struct {
	api  *httpapi.Client
	repo string
	now  func() time.Time
}

// NewClient creates a new GitHub client.
func NewClient(cfg Config, opts httpapi.Options) (*Client, error) {
	if cfg.Owner == "" || cfg.Repository == "" {
		return nil, fmt.Errorf("github owner and repository are required")
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	auth := func(req *http.Request) {
		req.Header.Set("X-GitHub-Api-Version", apiVersion)
		if cfg.Token != "" {
			req.Header.Set("Authorization", "Bearer "+cfg.Token)
		}
	}
	return &Client{
		api:  httpapi.New("GitHub", apiURL, auth, opts),
		repo: "/repos/" + url.PathEscape(cfg.Owner) + "/" + url.PathEscape(cfg.Repository),
		now:  time.Now,
	}, nil
}

// Name returns the platform identifier.
func (c *Client) Name() application.PlatformName {
	return application.PlatformGitHub
}

// MaxAnnotations returns the per-request annotation limit.
func (c *Client) MaxAnnotations() int {
	return MaxAnnotations
}

// GetDiff returns the unified diff of a pull request.
func (c *Client) GetDiff(ctx context.Context, pr int) (string, error) {
	data, err := c.api.Do(ctx, httpapi.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("%s/pulls/%d", c.repo, pr),
		Accept: "application/vnd.github.v3.diff",
	})
	if err != nil {
		return "", fmt.Errorf("get pull request diff: %w", err)
	}
	return string(data), nil
}

type pullRequest struct {
	Head struct {
		SHA string `json:"sha"`
	} `json:"head"`
}

// GetHeadCommit returns the head commit of a pull request.
func (c *Client) GetHeadCommit(ctx context.Context, pr int) (string, error) {
	var out pullRequest
	err := c.api.JSON(ctx, httpapi.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("%s/pulls/%d", c.repo, pr),
		Accept: "application/vnd.github+json",
	}, &out)
	if err != nil {
		return "", fmt.Errorf("get pull request: %w", err)
	}
	if out.Head.SHA == "" {
		return "", fmt.Errorf("pull request %d has no head commit", pr)
	}
	return out.Head.SHA, nil
}

type checkRun struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	ExternalID string `json:"external_id"`
	Output     struct {
		Title string `json:"title"`
	} `json:"output"`
}

type checkRunList struct {
	TotalCount int        `json:"total_count"`
	CheckRuns  []checkRun `json:"check_runs"`
}

// ListReports returns the check runs named after the reporter. Runs that
// were already superseded are left out.
func (c *Client) ListReports(ctx context.Context, commit string) ([]application.Report, error) {
	var reports []application.Report
	for page := 1; ; page++ {
		var out checkRunList
		path := fmt.Sprintf("%s/commits/%s/check-runs?check_name=%s&per_page=100&page=%d",
			c.repo, url.PathEscape(commit), url.QueryEscape(application.ReporterName), page)
		if err := c.api.JSON(ctx, httpapi.Request{Method: http.MethodGet, Path: path}, &out); err != nil {
			return nil, fmt.Errorf("list check runs: %w", err)
		}
		for _, run := range out.CheckRuns {
			if run.Output.Title == supersededText {
				continue
			}
			reports = append(reports, application.Report{
				ID:       strconv.FormatInt(run.ID, 10),
				Title:    run.Output.Title,
				Reporter: run.Name,
			})
		}
		if len(out.CheckRuns) < 100 {
			return reports, nil
		}
	}
}

type checkOutput struct {
	Title       string            `json:"title"`
	Summary     string            `json:"summary"`
	Annotations []checkAnnotation `json:"annotations,omitempty"`
}

type checkAnnotation struct {
	Path            string `json:"path"`
	StartLine       int    `json:"start_line"`
	EndLine         int    `json:"end_line"`
	AnnotationLevel string `json:"annotation_level"`
	Message         string `json:"message"`
	Title           string `json:"title,omitempty"`
}

type checkRunUpdate struct {
	Status      string       `json:"status,omitempty"`
	Conclusion  string       `json:"conclusion,omitempty"`
	CompletedAt string       `json:"completed_at,omitempty"`
	Output      *checkOutput `json:"output,omitempty"`
}

// DeleteReport supersedes a check run. The API cannot delete check runs,
// so the run is completed as neutral and skipped by later listings.
func (c *Client) DeleteReport(ctx context.Context, _ string, reportID string) error {
	err := c.api.JSON(ctx, httpapi.Request{
		Method: http.MethodPatch,
		Path:   c.checkRunPath(reportID),
		Body: checkRunUpdate{
			Status:      "completed",
			Conclusion:  "neutral",
			CompletedAt: c.now().UTC().Format(time.RFC3339),
			Output:      &checkOutput{Title: supersededText, Summary: "A newer coverage report replaced this one."},
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("supersede check run %s: %w", reportID, err)
	}
	return nil
}

type checkRunCreate struct {
	Name        string      `json:"name"`
	HeadSHA     string      `json:"head_sha"`
	ExternalID  string      `json:"external_id"`
	Status      string      `json:"status"`
	Conclusion  string      `json:"conclusion"`
	CompletedAt string      `json:"completed_at"`
	Output      checkOutput `json:"output"`
}

// CreateReport creates a completed check run and returns its ID.
func (c *Client) CreateReport(ctx context.Context, commit string, req application.ReportRequest) (string, error) {
	conclusion := "success"
	if req.Result == domain.VerdictFailed {
		conclusion = "failure"
	}
	summary := fmt.Sprintf("Coverage of changed lines: %.1f%%", domain.Round1(req.Percentage))
	if req.Details != "" {
		summary = req.Details
	}
	var out checkRun
	err := c.api.JSON(ctx, httpapi.Request{
		Method: http.MethodPost,
		Path:   c.repo + "/check-runs",
		Body: checkRunCreate{
			Name:        req.Reporter,
			HeadSHA:     commit,
			ExternalID:  req.ExternalID,
			Status:      "completed",
			Conclusion:  conclusion,
			CompletedAt: c.now().UTC().Format(time.RFC3339),
			Output:      checkOutput{Title: req.Title, Summary: summary},
		},
	}, &out)
	if err != nil {
		return "", fmt.Errorf("create check run: %w", err)
	}
	return strconv.FormatInt(out.ID, 10), nil
}

// AddAnnotations appends one batch of at most MaxAnnotations annotations to
// a check run. GitHub requires title and summary on every output update,
// so the current ones are fetched first.
func (c *Client) AddAnnotations(ctx context.Context, _ string, reportID string, annotations []application.Annotation) error {
	if len(annotations) > MaxAnnotations {
		return fmt.Errorf("github accepts at most %d annotations per request, got %d", MaxAnnotations, len(annotations))
	}
	var run struct {
		Output checkOutput `json:"output"`
	}
	if err := c.api.JSON(ctx, httpapi.Request{Method: http.MethodGet, Path: c.checkRunPath(reportID)}, &run); err != nil {
		return fmt.Errorf("get check run: %w", err)
	}
	out := checkOutput{Title: run.Output.Title, Summary: run.Output.Summary}
	for _, a := range annotations {
		out.Annotations = append(out.Annotations, checkAnnotation{
			Path:            a.Path,
			StartLine:       a.Line,
			EndLine:         a.Line,
			AnnotationLevel: "warning",
			Message:         a.Summary,
			Title:           "Uncovered line",
		})
	}
	err := c.api.JSON(ctx, httpapi.Request{
		Method: http.MethodPatch,
		Path:   c.checkRunPath(reportID),
		Body:   checkRunUpdate{Output: &out},
	}, nil)
	if err != nil {
		return fmt.Errorf("add annotations: %w", err)
	}
	return nil
}

// issueComment represents a GitHub issue/PR comment.
type issueComment struct {
	ID      int64  `json:"id"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
}

// PostComment creates a new comment on a PR.
func (c *Client) PostComment(ctx context.Context, pr int, body string) (application.Comment, error) {
	var out issueComment
	err := c.api.JSON(ctx, httpapi.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("%s/issues/%d/comments", c.repo, pr),
		Body:   map[string]string{"body": body},
	}, &out)
	if err != nil {
		return application.Comment{}, fmt.Errorf("create comment: %w", err)
	}
	return toComment(out), nil
}

// FindComment finds an existing comment containing marker on a PR.
func (c *Client) FindComment(ctx context.Context, pr int, marker string) (application.Comment, bool, error) {
	for page := 1; ; page++ {
		var comments []issueComment
		path := fmt.Sprintf("%s/issues/%d/comments?per_page=100&page=%d", c.repo, pr, page)
		if err := c.api.JSON(ctx, httpapi.Request{Method: http.MethodGet, Path: path}, &comments); err != nil {
			return application.Comment{}, false, fmt.Errorf("list comments: %w", err)
		}
		for _, cm := range comments {
			if strings.Contains(cm.Body, marker) {
				return toComment(cm), true, nil
			}
		}
		if len(comments) < 100 {
			return application.Comment{}, false, nil
		}
	}
}

// UpdateComment replaces the body of an existing comment.
func (c *Client) UpdateComment(ctx context.Context, _ int, commentID, body string) (application.Comment, error) {
	var out issueComment
	err := c.api.JSON(ctx, httpapi.Request{
		Method: http.MethodPatch,
		Path:   fmt.Sprintf("%s/issues/comments/%s", c.repo, url.PathEscape(commentID)),
		Body:   map[string]string{"body": body},
	}, &out)
	if err != nil {
		return application.Comment{}, fmt.Errorf("update comment: %w", err)
	}
	return toComment(out), nil
}

func (c *Client) checkRunPath(id string) string {
	return fmt.Sprintf("%s/check-runs/%s", c.repo, url.PathEscape(id))
}

func toComment(cm issueComment) application.Comment {
	return application.Comment{ID: strconv.FormatInt(cm.ID, 10), URL: cm.HTMLURL}
}

var (
	_ application.Platform       = (*Client)(nil)
	_ application.CommentUpdater = (*Client)(nil)
)
