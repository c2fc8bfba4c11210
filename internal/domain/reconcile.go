package domain

import (
	"encoding/json"
	"sort"
)

// FileResult is the per-file slice of a CoverageResult.
type FileResult struct {
	Path      string `json:"path"`
	Covered   int    `json:"covered"`
	Total     int    `json:"total"`
	Uncovered []int  `json:"uncovered,omitempty"`
}

// Stat returns the file's countable and covered line counts.
func (f FileResult) Stat() CoverageStat {
	return CoverageStat{Covered: f.Covered, Total: f.Total}
}

// CoverageResult is the outcome of reconciling a diff with a coverage
// report. It is immutable: accessors return copies of the underlying data.
type CoverageResult struct {
	percentage float64
	countable  int
	covered    int
	files      []FileResult
}

// Percentage returns covered/countable*100, or 100 when nothing was
// countable. The value is never rounded.
func (r CoverageResult) Percentage() float64 {
	return r.percentage
}

// TotalCountable returns the number of touched lines that were instrumented.
func (r CoverageResult) TotalCountable() int {
	return r.countable
}

// TotalCovered returns the number of touched instrumented lines with hits.
func (r CoverageResult) TotalCovered() int {
	return r.covered
}

// Stat returns the aggregate counts as a CoverageStat.
func (r CoverageResult) Stat() CoverageStat {
	return CoverageStat{Covered: r.covered, Total: r.countable}
}

// UncoveredByFile returns the ascending uncovered line numbers per file.
// Files without uncovered lines are absent.
func (r CoverageResult) UncoveredByFile() map[string][]int {
	out := make(map[string][]int)
	for _, f := range r.files {
		if len(f.Uncovered) == 0 {
			continue
		}
		out[f.Path] = append([]int(nil), f.Uncovered...)
	}
	return out
}

// UncoveredCount returns the number of uncovered touched lines.
func (r CoverageResult) UncoveredCount() int {
	return r.countable - r.covered
}

// Files returns every touched file that had a coverage entry, sorted by
// path, including files whose touched lines were all covered or were not
// instrumented at all.
func (r CoverageResult) Files() []FileResult {
	out := make([]FileResult, len(r.files))
	for i, f := range r.files {
		f.Uncovered = append([]int(nil), f.Uncovered...)
		out[i] = f
	}
	return out
}

// MarshalJSON encodes the result for machine-readable output.
func (r CoverageResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Percentage      float64          `json:"percentage"`
		TotalCountable  int              `json:"totalCountable"`
		TotalCovered    int              `json:"totalCovered"`
		UncoveredByFile map[string][]int `json:"uncoveredByFile"`
		Files           []FileResult     `json:"files"`
	}{
		Percentage:      r.percentage,
		TotalCountable:  r.countable,
		TotalCovered:    r.covered,
		UncoveredByFile: r.UncoveredByFile(),
		Files:           r.Files(),
	})
}

// Reconcile intersects the lines a diff added with the lines a coverage
// report instrumented.
//
// Files absent from the coverage report are skipped entirely. Touched lines
// that were never instrumented (comments, blank lines, declarations) are
// left out of both the numerator and the denominator.
func Reconcile(modified ModifiedLineSet, coverage CoverageReport) CoverageResult {
	var result CoverageResult

	for _, path := range modified.Paths() {
		fc, ok := coverage[path]
		if !ok {
			continue
		}
		fr := FileResult{Path: path}
		for _, line := range uniqueSorted(modified[path]) {
			hits, instrumented := fc.Hits(line)
			if !instrumented {
				continue
			}
			fr.Total++
			if hits > 0 {
				fr.Covered++
				continue
			}
			fr.Uncovered = append(fr.Uncovered, line)
		}
		result.countable += fr.Total
		result.covered += fr.Covered
		result.files = append(result.files, fr)
	}

	result.percentage = percentage(result.covered, result.countable)
	return result
}

func percentage(covered, countable int) float64 {
	if countable == 0 {
		return 100.0
	}
	return (float64(covered) / float64(countable)) * 100.0
}

func uniqueSorted(lines []int) []int {
	if sort.IntsAreSorted(lines) {
		return dedupeSorted(lines)
	}
	sorted := append([]int(nil), lines...)
	sort.Ints(sorted)
	return dedupeSorted(sorted)
}

func dedupeSorted(lines []int) []int {
	out := make([]int, 0, len(lines))
	for i, line := range lines {
		if i > 0 && lines[i-1] == line {
			continue
		}
		out = append(out, line)
	}
	return out
}
