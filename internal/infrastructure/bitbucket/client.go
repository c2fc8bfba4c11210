// Package bitbucket implements the publishing platform for Bitbucket Cloud:
// Code Insights reports with annotations, and pull request comments.
package bitbucket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/prcover/internal/application"
	"github.com/felixgeelhaar/prcover/internal/domain"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/httpapi"
)

const (
	// DefaultAPIURL is the default Bitbucket API endpoint
	DefaultAPIURL = "https://api.bitbucket.org/2.0"
	// MaxAnnotations is the Code Insights limit per annotations request.
	MaxAnnotations = 100
)

// Config holds the repository coordinates and credentials. Token takes
// precedence over Username/AppPassword.
type Config struct {
	Workspace   string
	Repository  string
	Username    string
	AppPassword string
	Token       string
	APIURL      string
}

// Client implements application.Platform for Bitbucket Cloud.
type Client struct {
	api  *httpapi.Client
	repo string
}

// NewClient creates a new Bitbucket client.
func NewClient(cfg Config, opts httpapi.Options) (*Client, error) {
	if cfg.Workspace == "" || cfg.Repository == "" {
		return nil, fmt.Errorf("bitbucket workspace and repository are required")
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	auth := func(req *http.Request) {
		switch {
		case cfg.Token != "":
			req.Header.Set("Authorization", "Bearer "+cfg.Token)
		case cfg.Username != "" && cfg.AppPassword != "":
			req.SetBasicAuth(cfg.Username, cfg.AppPassword)
		}
	}
	return &Client{
		api:  httpapi.New("Bitbucket", apiURL, auth, opts),
		repo: "/repositories/" + url.PathEscape(cfg.Workspace) + "/" + url.PathEscape(cfg.Repository),
	}, nil
}

// Name returns the platform identifier.
func (c *Client) Name() application.PlatformName {
	return application.PlatformBitbucket
}

// MaxAnnotations returns the per-request annotation limit.
func (c *Client) MaxAnnotations() int {
	return MaxAnnotations
}

// GetDiff returns the unified diff of a pull request.
func (c *Client) GetDiff(ctx context.Context, pr int) (string, error) {
	data, err := c.api.Do(ctx, httpapi.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("%s/pullrequests/%d/diff", c.repo, pr),
		Accept: "text/plain",
	})
	if err != nil {
		return "", fmt.Errorf("get pull request diff: %w", err)
	}
	return string(data), nil
}

type pullRequest struct {
	Source struct {
		Commit struct {
			Hash string `json:"hash"`
		} `json:"commit"`
	} `json:"source"`
}

// GetHeadCommit returns the source commit of a pull request.
func (c *Client) GetHeadCommit(ctx context.Context, pr int) (string, error) {
	var out pullRequest
	err := c.api.JSON(ctx, httpapi.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("%s/pullrequests/%d", c.repo, pr),
	}, &out)
	if err != nil {
		return "", fmt.Errorf("get pull request: %w", err)
	}
	if out.Source.Commit.Hash == "" {
		return "", fmt.Errorf("pull request %d has no source commit", pr)
	}
	return out.Source.Commit.Hash, nil
}

type report struct {
	UUID       string `json:"uuid"`
	ExternalID string `json:"external_id"`
	Title      string `json:"title"`
	Reporter   string `json:"reporter"`
}

type reportPage struct {
	Values []report `json:"values"`
	Next   string   `json:"next"`
}

// ListReports returns every Code Insights report on a commit.
func (c *Client) ListReports(ctx context.Context, commit string) ([]application.Report, error) {
	var reports []application.Report
	next := fmt.Sprintf("%s/commit/%s/reports", c.repo, url.PathEscape(commit))
	for next != "" {
		var page reportPage
		if err := c.api.JSON(ctx, httpapi.Request{Method: http.MethodGet, Path: next}, &page); err != nil {
			return nil, fmt.Errorf("list reports: %w", err)
		}
		for _, r := range page.Values {
			id := r.ExternalID
			if id == "" {
				id = r.UUID
			}
			reports = append(reports, application.Report{ID: id, Title: r.Title, Reporter: r.Reporter})
		}
		next = page.Next
	}
	return reports, nil
}

// DeleteReport removes a report and its annotations.
func (c *Client) DeleteReport(ctx context.Context, commit, reportID string) error {
	_, err := c.api.Do(ctx, httpapi.Request{
		Method: http.MethodDelete,
		Path:   c.reportPath(commit, reportID),
	})
	if err != nil {
		return fmt.Errorf("delete report %s: %w", reportID, err)
	}
	return nil
}

type reportData struct {
	Title string `json:"title"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

type reportBody struct {
	Title      string       `json:"title"`
	Details    string       `json:"details"`
	ReportType string       `json:"report_type"`
	Reporter   string       `json:"reporter"`
	Result     string       `json:"result"`
	Data       []reportData `json:"data"`
}

// CreateReport creates (or replaces) the report identified by the
// request's external ID and returns that ID.
func (c *Client) CreateReport(ctx context.Context, commit string, req application.ReportRequest) (string, error) {
	body := reportBody{
		Title:      req.Title,
		Details:    req.Details,
		ReportType: "COVERAGE",
		Reporter:   req.Reporter,
		Result:     string(req.Result),
		Data: []reportData{
			{Title: "Coverage of changed lines", Type: "PERCENTAGE", Value: domain.Round1(req.Percentage)},
			{Title: "Gate", Type: "BOOLEAN", Value: req.Outcome.Passed()},
		},
	}
	err := c.api.JSON(ctx, httpapi.Request{
		Method: http.MethodPut,
		Path:   c.reportPath(commit, req.ExternalID),
		Body:   body,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	return req.ExternalID, nil
}

type annotation struct {
	ExternalID     string `json:"external_id"`
	AnnotationType string `json:"annotation_type"`
	Summary        string `json:"summary"`
	Severity       string `json:"severity"`
	Path           string `json:"path"`
	Line           int    `json:"line"`
}

// AddAnnotations uploads one batch of at most MaxAnnotations annotations.
func (c *Client) AddAnnotations(ctx context.Context, commit, reportID string, annotations []application.Annotation) error {
	if len(annotations) > MaxAnnotations {
		return fmt.Errorf("bitbucket accepts at most %d annotations per request, got %d", MaxAnnotations, len(annotations))
	}
	body := make([]annotation, 0, len(annotations))
	for _, a := range annotations {
		body = append(body, annotation{
			ExternalID:     a.ExternalID,
			AnnotationType: "CODE_SMELL",
			Summary:        a.Summary,
			Severity:       "MEDIUM",
			Path:           a.Path,
			Line:           a.Line,
		})
	}
	err := c.api.JSON(ctx, httpapi.Request{
		Method: http.MethodPost,
		Path:   c.reportPath(commit, reportID) + "/annotations",
		Body:   body,
	}, nil)
	if err != nil {
		return fmt.Errorf("add annotations: %w", err)
	}
	return nil
}

// comment represents a Bitbucket PR comment.
type comment struct {
	ID      int64 `json:"id"`
	Content struct {
		Raw string `json:"raw"`
	} `json:"content"`
	Links struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
	} `json:"links"`
}

// commentList represents the paginated response from Bitbucket.
type commentList struct {
	Values []comment `json:"values"`
	Next   string    `json:"next"`
}

func commentBody(body string) map[string]any {
	return map[string]any{"content": map[string]string{"raw": body}}
}

// PostComment creates a new comment on a PR.
func (c *Client) PostComment(ctx context.Context, pr int, body string) (application.Comment, error) {
	var out comment
	err := c.api.JSON(ctx, httpapi.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("%s/pullrequests/%d/comments", c.repo, pr),
		Body:   commentBody(body),
	}, &out)
	if err != nil {
		return application.Comment{}, fmt.Errorf("create comment: %w", err)
	}
	return toComment(out), nil
}

// FindComment finds an existing comment containing marker on a PR.
func (c *Client) FindComment(ctx context.Context, pr int, marker string) (application.Comment, bool, error) {
	next := fmt.Sprintf("%s/pullrequests/%d/comments", c.repo, pr)
	for next != "" {
		var page commentList
		if err := c.api.JSON(ctx, httpapi.Request{Method: http.MethodGet, Path: next}, &page); err != nil {
			return application.Comment{}, false, fmt.Errorf("list comments: %w", err)
		}
		for _, cm := range page.Values {
			if strings.Contains(cm.Content.Raw, marker) {
				return toComment(cm), true, nil
			}
		}
		next = page.Next
	}
	return application.Comment{}, false, nil
}

// UpdateComment replaces the body of an existing comment.
func (c *Client) UpdateComment(ctx context.Context, pr int, commentID, body string) (application.Comment, error) {
	var out comment
	err := c.api.JSON(ctx, httpapi.Request{
		Method: http.MethodPut,
		Path:   fmt.Sprintf("%s/pullrequests/%d/comments/%s", c.repo, pr, url.PathEscape(commentID)),
		Body:   commentBody(body),
	}, &out)
	if err != nil {
		return application.Comment{}, fmt.Errorf("update comment: %w", err)
	}
	return toComment(out), nil
}

func (c *Client) reportPath(commit, reportID string) string {
	return fmt.Sprintf("%s/commit/%s/reports/%s", c.repo, url.PathEscape(commit), url.PathEscape(reportID))
}

func toComment(cm comment) application.Comment {
	return application.Comment{ID: strconv.FormatInt(cm.ID, 10), URL: cm.Links.HTML.Href}
}

var (
	_ application.Platform       = (*Client)(nil)
	_ application.CommentUpdater = (*Client)(nil)
)
