package domain

import (
	"fmt"
	"sort"
)

// CoverageStat summarizes covered vs total statements.
type CoverageStat struct {
	Covered int
	Total   int
}

// Percent returns the coverage percentage as a raw float64.
func (c CoverageStat) Percent() float64 {
	if c.Total == 0 {
		return 0
	}
	return (float64(c.Covered) / float64(c.Total)) * 100
}

// Uncovered returns the number of uncovered statements.
func (c CoverageStat) Uncovered() int {
	return c.Total - c.Covered
}

// FileCoverage maps instrumented line numbers to their hit counts.
// A line absent from the map was never instrumented; a line present with
// a hit count of 0 is countable but was not executed.
type FileCoverage map[int]int

// Record stores the hit count for a line. When the same line is reported
// more than once (e.g. at class and method level) the highest count wins.
func (f FileCoverage) Record(line, hits int) {
	if hits < 0 {
		hits = 0
	}
	if current, ok := f[line]; ok && current >= hits {
		return
	}
	f[line] = hits
}

// Hits returns the hit count of a line and whether it was instrumented.
func (f FileCoverage) Hits(line int) (int, bool) {
	hits, ok := f[line]
	return hits, ok
}

// Lines returns the instrumented line numbers in ascending order.
func (f FileCoverage) Lines() []int {
	lines := make([]int, 0, len(f))
	for line := range f {
		lines = append(lines, line)
	}
	sort.Ints(lines)
	return lines
}

// Stat returns covered vs instrumented line counts for the whole file.
func (f FileCoverage) Stat() CoverageStat {
	stat := CoverageStat{Total: len(f)}
	for _, hits := range f {
		if hits > 0 {
			stat.Covered++
		}
	}
	return stat
}

// CoverageReport maps a repository-relative file path to its line coverage.
type CoverageReport map[string]FileCoverage

// File returns the coverage for path, creating an empty entry if needed.
func (r CoverageReport) File(path string) FileCoverage {
	fc, ok := r[path]
	if !ok {
		fc = make(FileCoverage)
		r[path] = fc
	}
	return fc
}

// Paths returns the file paths in the report in sorted order.
func (r CoverageReport) Paths() []string {
	paths := make([]string, 0, len(r))
	for path := range r {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// MalformedCoverageReportError reports a coverage document that is missing
// required structure or carries unparseable values.
type MalformedCoverageReportError struct {
	Format string
	Reason string
	Err    error
}

func (e *MalformedCoverageReportError) Error() string {
	msg := fmt.Sprintf("malformed %s coverage report: %s", e.Format, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedCoverageReportError) Unwrap() error {
	return e.Err
}
