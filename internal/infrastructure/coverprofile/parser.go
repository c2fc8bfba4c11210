// Package coverprofile parses Go coverage profiles (go test -coverprofile).
package coverprofile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/prcover/internal/application"
	"github.com/felixgeelhaar/prcover/internal/domain"
)

type Parser struct{}

func (Parser) Format() application.Format {
	return application.FormatGo
}

// Parse maps each profile block onto the source lines it spans. A line
// covered by several blocks keeps the highest count.
func (Parser) Parse(r io.Reader) (domain.CoverageReport, error) {
	scanner := bufio.NewScanner(r)
	report := make(domain.CoverageReport)
	lineNo := 0
	for scanner.Scan() {
		line := scanner.Text()
		lineNo++
		if lineNo == 1 {
			if !strings.HasPrefix(line, "mode:") {
				return nil, malformed("missing mode line", nil)
			}
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		b, err := parseLine(line)
		if err != nil {
			return nil, malformed(fmt.Sprintf("line %d", lineNo), err)
		}
		if b.stmts == 0 {
			continue
		}
		fc := report.File(b.file)
		for n := b.start; n <= b.end; n++ {
			fc.Record(n, b.count)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, malformed("scan profile", err)
	}
	if lineNo == 0 {
		return nil, malformed("missing mode line", nil)
	}
	return report, nil
}

type block struct {
	file       string
	start, end int
	stmts      int
	count      int
}

// parseLine reads "file.go:startLine.startCol,endLine.endCol numStmt count".
func parseLine(line string) (block, error) {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return block{}, fmt.Errorf("invalid coverage line")
	}
	idx := strings.LastIndex(parts[0], ":")
	if idx <= 0 {
		return block{}, fmt.Errorf("invalid block position")
	}
	startPos, endPos, ok := strings.Cut(parts[0][idx+1:], ",")
	if !ok {
		return block{}, fmt.Errorf("invalid block position")
	}
	start, err := lineOf(startPos)
	if err != nil {
		return block{}, err
	}
	end, err := lineOf(endPos)
	if err != nil {
		return block{}, err
	}
	if end < start {
		return block{}, fmt.Errorf("block ends before it starts")
	}
	stmts, err := strconv.Atoi(parts[1])
	if err != nil || stmts < 0 {
		return block{}, fmt.Errorf("invalid statement count")
	}
	count, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || count < 0 {
		return block{}, fmt.Errorf("invalid count")
	}
	if count > 1<<31-1 {
		count = 1<<31 - 1
	}
	return block{file: parts[0][:idx], start: start, end: end, stmts: stmts, count: int(count)}, nil
}

func lineOf(pos string) (int, error) {
	lineStr, _, _ := strings.Cut(pos, ".")
	n, err := strconv.Atoi(lineStr)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid line number %q", lineStr)
	}
	return n, nil
}

func malformed(reason string, err error) error {
	return &domain.MalformedCoverageReportError{Format: string(application.FormatGo), Reason: reason, Err: err}
}
