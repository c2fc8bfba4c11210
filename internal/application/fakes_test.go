package application

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/felixgeelhaar/prcover/internal/domain"
)

type fakeConfigLoader struct {
	cfg       Config
	err       error
	exists    bool
	path      string
	overrides map[string]any
}

func (f *fakeConfigLoader) Exists(path string) (bool, error) {
	return f.exists, nil
}

func (f *fakeConfigLoader) Load(path string, overrides map[string]any) (Config, error) {
	f.path = path
	f.overrides = overrides
	return f.cfg, f.err
}

type fakeCoverage struct {
	report domain.CoverageReport
	err    error
	loads  int
}

func (f *fakeCoverage) Load(path string, format Format) (domain.CoverageReport, error) {
	f.loads++
	return f.report, f.err
}

type fakeDiffSource struct {
	text string
	err  error
	base string
}

func (f *fakeDiffSource) Diff(ctx context.Context, base string) (string, error) {
	f.base = base
	return f.text, f.err
}

// fakeDiffParser returns set for any input and records the text it saw.
type fakeDiffParser struct {
	set  domain.ModifiedLineSet
	err  error
	text string
}

func (f *fakeDiffParser) Parse(text string) (domain.ModifiedLineSet, error) {
	f.text = text
	return f.set, f.err
}

type fakeMapper struct {
	excluded map[string]bool
}

func (f fakeMapper) Map(report domain.CoverageReport) domain.CoverageReport {
	out := domain.CoverageReport{}
	for path, lines := range report {
		if !f.excluded[path] {
			out[path] = lines
		}
	}
	return out
}

func (f fakeMapper) FilterModified(set domain.ModifiedLineSet) domain.ModifiedLineSet {
	out := domain.ModifiedLineSet{}
	for path, lines := range set {
		if !f.excluded[path] {
			out[path] = lines
		}
	}
	return out
}

type fakeReporter struct {
	last   Analysis
	format OutputFormat
	calls  int
	err    error
}

func (f *fakeReporter) Write(w io.Writer, analysis Analysis, format OutputFormat) error {
	f.calls++
	f.last = analysis
	f.format = format
	return f.err
}

type fakeFormatter struct{}

func (fakeFormatter) FormatComment(a Analysis) string {
	return fmt.Sprintf("<!-- marker -->\ncoverage %.1f%% %s\n", a.Result.Percentage(), a.Outcome)
}

func (fakeFormatter) Marker() string { return "<!-- marker -->" }

// fakePlatform records every call in order.
type fakePlatform struct {
	mu sync.Mutex

	diff          string
	head          string
	reports       []Report
	maxBatch      int
	existing      *Comment
	deleteErr     error
	createErr     error
	annotationErr error

	calls       []string
	deleted     []string
	created     []ReportRequest
	annotations [][]Annotation
	posted      []string
	updated     []string
}

func (f *fakePlatform) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakePlatform) Name() PlatformName { return PlatformBitbucket }

func (f *fakePlatform) MaxAnnotations() int { return f.maxBatch }

func (f *fakePlatform) GetDiff(ctx context.Context, pr int) (string, error) {
	f.record("diff")
	return f.diff, nil
}

func (f *fakePlatform) GetHeadCommit(ctx context.Context, pr int) (string, error) {
	f.record("head")
	return f.head, nil
}

func (f *fakePlatform) ListReports(ctx context.Context, commit string) ([]Report, error) {
	f.record("list")
	return f.reports, nil
}

func (f *fakePlatform) DeleteReport(ctx context.Context, commit, reportID string) error {
	f.record("delete")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, reportID)
	return f.deleteErr
}

func (f *fakePlatform) CreateReport(ctx context.Context, commit string, req ReportRequest) (string, error) {
	f.record("create")
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, req)
	return "report-1", nil
}

func (f *fakePlatform) AddAnnotations(ctx context.Context, commit, reportID string, annotations []Annotation) error {
	f.record("annotate")
	f.annotations = append(f.annotations, annotations)
	return f.annotationErr
}

func (f *fakePlatform) PostComment(ctx context.Context, pr int, body string) (Comment, error) {
	f.record("comment")
	f.posted = append(f.posted, body)
	return Comment{ID: "c-new"}, nil
}

func (f *fakePlatform) FindComment(ctx context.Context, pr int, marker string) (Comment, bool, error) {
	f.record("find")
	if f.existing == nil {
		return Comment{}, false, nil
	}
	return *f.existing, true, nil
}

func (f *fakePlatform) UpdateComment(ctx context.Context, pr int, commentID, body string) (Comment, error) {
	f.record("update")
	f.updated = append(f.updated, commentID)
	return Comment{ID: commentID}, nil
}

type fakeWatcher struct {
	files  []string
	events chan struct{}
}

func (f *fakeWatcher) WatchFiles(paths ...string) error {
	f.files = append(f.files, paths...)
	return nil
}

func (f *fakeWatcher) Events(ctx context.Context) <-chan struct{} { return f.events }

func (f *fakeWatcher) Close() error { return nil }

// coverageOf builds a report from "path" -> line -> hits.
func coverageOf(files map[string]map[int]int) domain.CoverageReport {
	report := domain.CoverageReport{}
	for path, lines := range files {
		fc := report.File(path)
		for line, hits := range lines {
			fc.Record(line, hits)
		}
	}
	return report
}
