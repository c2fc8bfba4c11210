// Package lcov implements a parser for LCOV coverage format.
//
// LCOV format is widely used by:
//   - pytest-cov (Python)
//   - nyc/c8/Jest (JavaScript/TypeScript)
//   - Ruby coverage tools
//   - PHP coverage tools
//   - GCC/LLVM gcov
package lcov

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/prcover/internal/application"
	"github.com/felixgeelhaar/prcover/internal/domain"
)

// Parser implements ReportParser for LCOV format.
type Parser struct{}

// New creates a new LCOV parser.
func New() *Parser {
	return &Parser{}
}

// Format returns the format this parser handles.
func (p *Parser) Format() application.Format {
	return application.FormatLCOV
}

// Parse reads an LCOV tracefile and returns line coverage from its DA
// records. Records for the same source file are merged.
func (p *Parser) Parse(r io.Reader) (domain.CoverageReport, error) {
	report := make(domain.CoverageReport)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var current domain.FileCoverage
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "SF:"):
			path := strings.TrimPrefix(line, "SF:")
			if path == "" {
				return nil, malformed(lineNo, "empty SF record")
			}
			current = report.File(path)

		case strings.HasPrefix(line, "DA:"):
			// DA:line_number,execution_count[,checksum]
			if current == nil {
				return nil, malformed(lineNo, "DA record outside of an SF section")
			}
			parts := strings.Split(strings.TrimPrefix(line, "DA:"), ",")
			if len(parts) < 2 {
				return nil, malformed(lineNo, "DA record needs a line number and a count")
			}
			num, err := strconv.Atoi(parts[0])
			if err != nil || num <= 0 {
				return nil, malformed(lineNo, fmt.Sprintf("invalid line number %q", parts[0]))
			}
			count, err := parseCount(parts[1])
			if err != nil {
				return nil, malformed(lineNo, fmt.Sprintf("invalid execution count %q", parts[1]))
			}
			current.Record(num, count)

		case line == "end_of_record":
			current = nil

			// TN, FN*, BR*, LF and LH carry test names, function and branch
			// data or summaries; only DA defines line coverage.
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, &domain.MalformedCoverageReportError{Format: string(application.FormatLCOV), Reason: "scan tracefile", Err: err}
	}

	return report, nil
}

// parseCount accepts integer counts and the float counts some generators
// emit for very large values.
func parseCount(s string) (int, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return clamp(n), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, fmt.Errorf("not a number")
	}
	if f >= math.MaxInt32 {
		return math.MaxInt32, nil
	}
	return clamp(int64(f)), nil
}

func clamp(n int64) int {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	if n < 0 {
		return 0
	}
	return int(n)
}

func malformed(lineNo int, reason string) error {
	return &domain.MalformedCoverageReportError{
		Format: string(application.FormatLCOV),
		Reason: fmt.Sprintf("line %d: %s", lineNo, reason),
	}
}
