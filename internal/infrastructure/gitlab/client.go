// Package gitlab implements the publishing platform for GitLab on top of
// the official API client. GitLab has no report/annotation API for merge
// requests, so reports are a commit status plus a marked summary note, and
// annotations are discussions anchored on the uncovered line.
package gitlab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	gitlab "gitlab.com/gitlab-org/api/client-go"
	"golang.org/x/time/rate"

	"github.com/felixgeelhaar/prcover/internal/application"
	"github.com/felixgeelhaar/prcover/internal/domain"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/httpapi"
)

const (
	// DefaultBaseURL is the default GitLab instance.
	DefaultBaseURL = "https://gitlab.com"
	// MaxAnnotations bounds one annotation batch. Each annotation is its
	// own discussion request.
	MaxAnnotations = 50
	perPage        = 100
)

var reportMarker = regexp.MustCompile(`<!-- prcover-report id:(\S+) commit:([0-9a-fA-F]+) -->`)

// Config holds the project and credentials.
type Config struct {
	// Project is the numeric ID or the full path ("group/project").
	Project string
	Token   string
	BaseURL string
}

type mergeRequest struct {
	iid                        int
	baseSHA, startSHA, headSHA string
}

func newMergeRequest(iid int, mr *gitlab.MergeRequest) mergeRequest {
	return mergeRequest{
		iid:      iid,
		baseSHA:  mr.DiffRefs.BaseSha,
		startSHA: mr.DiffRefs.StartSha,
		headSHA:  mr.DiffRefs.HeadSha,
	}
}

// Client implements application.Platform for GitLab.
type Client struct {
	api     *gitlab.Client
	project string
	log     zerolog.Logger

	mu  sync.Mutex
	mrs map[string]mergeRequest // keyed by commit
}

// NewClient creates a new GitLab client. Requests are paced by a rate
// limiter and never retried.
func NewClient(cfg Config, opts httpapi.Options) (*Client, error) {
	if cfg.Project == "" {
		return nil, fmt.Errorf("gitlab project is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = httpapi.DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	perSecond := opts.RatePerSecond
	if perSecond <= 0 {
		perSecond = httpapi.DefaultRatePerSecond
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}

	api, err := gitlab.NewClient(cfg.Token,
		gitlab.WithBaseURL(baseURL),
		gitlab.WithHTTPClient(httpClient),
		gitlab.WithCustomLimiter(rate.NewLimiter(rate.Limit(perSecond), burst)),
		gitlab.WithCustomRetryMax(0),
	)
	if err != nil {
		return nil, fmt.Errorf("create gitlab client: %w", err)
	}
	return &Client{
		api:     api,
		project: cfg.Project,
		log:     opts.Logger,
		mrs:     make(map[string]mergeRequest),
	}, nil
}

// Name returns the platform identifier.
func (c *Client) Name() application.PlatformName {
	return application.PlatformGitLab
}

// MaxAnnotations returns the annotation batch size.
func (c *Client) MaxAnnotations() int {
	return MaxAnnotations
}

// GetDiff reassembles the merge request changes into unified diff text.
func (c *Client) GetDiff(ctx context.Context, pr int) (string, error) {
	var b strings.Builder
	opt := &gitlab.ListMergeRequestDiffsOptions{ListOptions: gitlab.ListOptions{PerPage: perPage, Page: 1}}
	for {
		diffs, resp, err := c.api.MergeRequests.ListMergeRequestDiffs(c.project, pr, opt, gitlab.WithContext(ctx))
		if err != nil {
			return "", fmt.Errorf("list merge request diffs: %w", apiError(resp, err))
		}
		for _, d := range diffs {
			writeFileDiff(&b, d)
		}
		if resp == nil || resp.NextPage == 0 {
			return b.String(), nil
		}
		opt.Page = resp.NextPage
	}
}

func writeFileDiff(b *strings.Builder, d *gitlab.MergeRequestDiff) {
	fmt.Fprintf(b, "diff --git a/%s b/%s\n", d.OldPath, d.NewPath)
	switch {
	case d.NewFile:
		fmt.Fprintf(b, "new file mode %s\n", d.BMode)
	case d.DeletedFile:
		fmt.Fprintf(b, "deleted file mode %s\n", d.AMode)
	case d.RenamedFile:
		fmt.Fprintf(b, "rename from %s\nrename to %s\n", d.OldPath, d.NewPath)
	}
	if d.Diff == "" {
		return
	}
	if !strings.HasPrefix(d.Diff, "Binary files ") {
		oldPath, newPath := "a/"+d.OldPath, "b/"+d.NewPath
		if d.NewFile {
			oldPath = "/dev/null"
		}
		if d.DeletedFile {
			newPath = "/dev/null"
		}
		fmt.Fprintf(b, "--- %s\n+++ %s\n", oldPath, newPath)
	}
	b.WriteString(d.Diff)
	if !strings.HasSuffix(d.Diff, "\n") {
		b.WriteByte('\n')
	}
}

// GetHeadCommit returns the head commit of a merge request and remembers
// the merge request for the commit-scoped calls that follow.
func (c *Client) GetHeadCommit(ctx context.Context, pr int) (string, error) {
	mr, resp, err := c.api.MergeRequests.GetMergeRequest(c.project, pr, nil, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("get merge request: %w", apiError(resp, err))
	}
	if mr.SHA == "" {
		return "", fmt.Errorf("merge request %d has no head commit", pr)
	}
	c.mu.Lock()
	c.mrs[mr.SHA] = newMergeRequest(pr, mr)
	c.mu.Unlock()
	return mr.SHA, nil
}

// mergeRequestFor resolves the merge request a commit belongs to.
func (c *Client) mergeRequestFor(ctx context.Context, commit string) (mergeRequest, error) {
	c.mu.Lock()
	mr, ok := c.mrs[commit]
	c.mu.Unlock()
	if ok {
		return mr, nil
	}
	mrs, resp, err := c.api.Commits.ListMergeRequestsByCommit(c.project, commit, gitlab.WithContext(ctx))
	if err != nil {
		return mergeRequest{}, fmt.Errorf("find merge request for %s: %w", commit, apiError(resp, err))
	}
	if len(mrs) == 0 {
		return mergeRequest{}, fmt.Errorf("no merge request contains commit %s", commit)
	}
	iid := mrs[0].IID
	got, resp, err := c.api.MergeRequests.GetMergeRequest(c.project, iid, nil, gitlab.WithContext(ctx))
	if err != nil {
		return mergeRequest{}, fmt.Errorf("get merge request: %w", apiError(resp, err))
	}
	mr = newMergeRequest(iid, got)
	c.mu.Lock()
	c.mrs[commit] = mr
	c.mu.Unlock()
	return mr, nil
}

// ListReports returns the summary notes this tool left for commit.
func (c *Client) ListReports(ctx context.Context, commit string) ([]application.Report, error) {
	mr, err := c.mergeRequestFor(ctx, commit)
	if err != nil {
		return nil, err
	}
	var reports []application.Report
	opt := &gitlab.ListMergeRequestNotesOptions{ListOptions: gitlab.ListOptions{PerPage: perPage, Page: 1}}
	for {
		notes, resp, err := c.api.Notes.ListMergeRequestNotes(c.project, mr.iid, opt, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("list merge request notes: %w", apiError(resp, err))
		}
		for _, n := range notes {
			m := reportMarker.FindStringSubmatch(n.Body)
			if m == nil || !strings.EqualFold(m[2], commit) {
				continue
			}
			reports = append(reports, application.Report{
				ID:       strconv.Itoa(n.ID),
				Title:    noteTitle(n.Body),
				Reporter: application.ReporterName,
			})
		}
		if resp == nil || resp.NextPage == 0 {
			return reports, nil
		}
		opt.Page = resp.NextPage
	}
}

// DeleteReport removes a summary note.
func (c *Client) DeleteReport(ctx context.Context, commit, reportID string) error {
	mr, err := c.mergeRequestFor(ctx, commit)
	if err != nil {
		return err
	}
	noteID, err := strconv.Atoi(reportID)
	if err != nil {
		return fmt.Errorf("invalid note id %q: %w", reportID, err)
	}
	resp, err := c.api.Notes.DeleteMergeRequestNote(c.project, mr.iid, noteID, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("delete report note %s: %w", reportID, apiError(resp, err))
	}
	return nil
}

// CreateReport sets a commit status carrying the coverage value and posts
// the summary note. The note ID is the report ID.
func (c *Client) CreateReport(ctx context.Context, commit string, req application.ReportRequest) (string, error) {
	mr, err := c.mergeRequestFor(ctx, commit)
	if err != nil {
		return "", err
	}
	state := gitlab.Success
	if req.Result == domain.VerdictFailed {
		state = gitlab.Failed
	}
	percentage := domain.Round1(req.Percentage)
	_, resp, err := c.api.Commits.SetCommitStatus(c.project, commit, &gitlab.SetCommitStatusOptions{
		State:       state,
		Name:        gitlab.Ptr(req.Reporter),
		Description: gitlab.Ptr(req.Title),
		Coverage:    gitlab.Ptr(percentage),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("set commit status: %w", apiError(resp, err))
	}

	body := fmt.Sprintf("<!-- prcover-report id:%s commit:%s -->\n### %s\n\n%s", req.ExternalID, commit, req.Title, req.Details)
	note, resp, err := c.api.Notes.CreateMergeRequestNote(c.project, mr.iid, &gitlab.CreateMergeRequestNoteOptions{
		Body: gitlab.Ptr(strings.TrimRight(body, "\n")),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("create report note: %w", apiError(resp, err))
	}
	c.log.Debug().Str("commit", commit).Int("note", note.ID).Str("state", string(state)).Msg("gitlab report created")
	return strconv.Itoa(note.ID), nil
}

// AddAnnotations opens one discussion per annotation, positioned on the
// new-side line of the merge request diff.
func (c *Client) AddAnnotations(ctx context.Context, commit, _ string, annotations []application.Annotation) error {
	if len(annotations) > MaxAnnotations {
		return fmt.Errorf("gitlab annotation batch holds at most %d entries, got %d", MaxAnnotations, len(annotations))
	}
	mr, err := c.mergeRequestFor(ctx, commit)
	if err != nil {
		return err
	}
	for _, a := range annotations {
		_, resp, err := c.api.Discussions.CreateMergeRequestDiscussion(c.project, mr.iid, &gitlab.CreateMergeRequestDiscussionOptions{
			Body: gitlab.Ptr(a.Summary),
			Position: &gitlab.PositionOptions{
				BaseSHA:      gitlab.Ptr(mr.baseSHA),
				StartSHA:     gitlab.Ptr(mr.startSHA),
				HeadSHA:      gitlab.Ptr(mr.headSHA),
				PositionType: gitlab.Ptr("text"),
				NewPath:      gitlab.Ptr(a.Path),
				OldPath:      gitlab.Ptr(a.Path),
				NewLine:      gitlab.Ptr(a.Line),
			},
		}, gitlab.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("annotate %s:%d: %w", a.Path, a.Line, apiError(resp, err))
		}
	}
	return nil
}

// PostComment creates a new note on a merge request.
func (c *Client) PostComment(ctx context.Context, pr int, body string) (application.Comment, error) {
	note, resp, err := c.api.Notes.CreateMergeRequestNote(c.project, pr, &gitlab.CreateMergeRequestNoteOptions{
		Body: gitlab.Ptr(body),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return application.Comment{}, fmt.Errorf("create note: %w", apiError(resp, err))
	}
	return application.Comment{ID: strconv.Itoa(note.ID)}, nil
}

// FindComment finds an existing note containing marker on a merge request.
func (c *Client) FindComment(ctx context.Context, pr int, marker string) (application.Comment, bool, error) {
	opt := &gitlab.ListMergeRequestNotesOptions{ListOptions: gitlab.ListOptions{PerPage: perPage, Page: 1}}
	for {
		notes, resp, err := c.api.Notes.ListMergeRequestNotes(c.project, pr, opt, gitlab.WithContext(ctx))
		if err != nil {
			return application.Comment{}, false, fmt.Errorf("list notes: %w", apiError(resp, err))
		}
		for _, n := range notes {
			if strings.Contains(n.Body, marker) {
				return application.Comment{ID: strconv.Itoa(n.ID)}, true, nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			return application.Comment{}, false, nil
		}
		opt.Page = resp.NextPage
	}
}

// UpdateComment replaces the body of an existing note.
func (c *Client) UpdateComment(ctx context.Context, pr int, commentID, body string) (application.Comment, error) {
	noteID, err := strconv.Atoi(commentID)
	if err != nil {
		return application.Comment{}, fmt.Errorf("invalid note id %q: %w", commentID, err)
	}
	note, resp, err := c.api.Notes.UpdateMergeRequestNote(c.project, pr, noteID, &gitlab.UpdateMergeRequestNoteOptions{
		Body: gitlab.Ptr(body),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return application.Comment{}, fmt.Errorf("update note: %w", apiError(resp, err))
	}
	return application.Comment{ID: strconv.Itoa(note.ID)}, nil
}

func noteTitle(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if title, ok := strings.CutPrefix(line, "### "); ok {
			return title
		}
	}
	return ""
}

// apiError converts a non-2xx client-go failure into a PlatformAPIError.
func apiError(resp *gitlab.Response, err error) error {
	if resp == nil || resp.Response == nil || (resp.StatusCode >= 200 && resp.StatusCode <= 299) {
		return err
	}
	msg := err.Error()
	var errResp *gitlab.ErrorResponse
	if errors.As(err, &errResp) && errResp.Message != "" {
		msg = errResp.Message
	}
	return &application.PlatformAPIError{Platform: "GitLab", StatusCode: resp.StatusCode, Message: msg}
}

var (
	_ application.Platform       = (*Client)(nil)
	_ application.CommentUpdater = (*Client)(nil)
)
