package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/felixgeelhaar/prcover/internal/application"
	"github.com/felixgeelhaar/prcover/internal/domain"
)

func sampleAnalysis() application.Analysis {
	coverage := domain.CoverageReport{}
	core := coverage.File("internal/core.go")
	core.Record(10, 1)
	core.Record(11, 0)
	core.Record(12, 0)
	core.Record(14, 0)
	api := coverage.File("api/handler.go")
	api.Record(3, 2)

	result := domain.Reconcile(domain.ModifiedLineSet{
		"internal/core.go": {10, 11, 12, 13, 14},
		"api/handler.go":   {3},
		"docs/guide.md":    {1},
	}, coverage)
	return application.Analysis{
		Result:    result,
		Outcome:   domain.Evaluate(result, 80),
		Threshold: 80,
		Untracked: []string{"docs/guide.md"},
	}
}

func TestWriteText(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := (Writer{}).Write(buf, sampleAnalysis(), application.OutputText); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"Changed-line coverage: 40.0% (2/5 lines)",
		"Gate: FAIL",
		"Shortfall: 40.0 points below 80.0%",
		"internal/core.go",
		"11-12, 14",
		"Changed files without coverage data:",
		"docs/guide.md",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := (Writer{}).Write(buf, sampleAnalysis(), application.OutputJSON); err != nil {
		t.Fatalf("write: %v", err)
	}
	var decoded struct {
		Result struct {
			Percentage      float64          `json:"percentage"`
			UncoveredByFile map[string][]int `json:"uncoveredByFile"`
		} `json:"result"`
		Outcome string `json:"outcome"`
		Summary struct {
			Pass bool `json:"pass"`
		} `json:"summary"`
		Untracked []string `json:"untracked"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v\n%s", err, buf.String())
	}
	if decoded.Summary.Pass || decoded.Outcome != "FAIL" {
		t.Fatalf("expected failing summary, got %+v", decoded)
	}
	if decoded.Result.Percentage != 40 {
		t.Fatalf("expected 40%%, got %v", decoded.Result.Percentage)
	}
	if got := decoded.Result.UncoveredByFile["internal/core.go"]; len(got) != 3 {
		t.Fatalf("expected 3 uncovered lines, got %v", got)
	}
	if len(decoded.Untracked) != 1 {
		t.Fatalf("expected untracked file, got %v", decoded.Untracked)
	}
}

func TestWriteBrief(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := (Writer{}).Write(buf, sampleAnalysis(), application.OutputBrief); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := "FAIL | 40.0% of changed lines | 2/5 covered | threshold 80.0% | uncovered: internal/core.go:11-12,14 | 1 files without coverage\n"
	if buf.String() != want {
		t.Fatalf("brief mismatch:\n got %q\nwant %q", buf.String(), want)
	}
}

func TestWriteUnsupportedFormat(t *testing.T) {
	if err := (Writer{}).Write(new(bytes.Buffer), sampleAnalysis(), "html"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestTruncatePath(t *testing.T) {
	if got := truncatePath("internal/infrastructure/report/writer.go", 15); got != "...rt/writer.go" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := truncatePath("a.go", 0); got != "a.go" {
		t.Fatalf("width 0 must not truncate, got %q", got)
	}
}
