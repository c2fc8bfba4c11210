// Package clover implements a parser for the Clover XML coverage format.
//
// Clover XML is produced by:
//   - PHPUnit (--coverage-clover)
//   - Istanbul/nyc/Jest (clover reporter)
//   - OpenClover for Java
package clover

import (
	"encoding/xml"
	"fmt"
	"io"

	"github.com/felixgeelhaar/prcover/internal/application"
	"github.com/felixgeelhaar/prcover/internal/domain"
)

type coverage struct {
	XMLName xml.Name `xml:"coverage"`
	Project *project `xml:"project"`
}

type project struct {
	Packages []pkg  `xml:"package"`
	Files    []file `xml:"file"`
}

type pkg struct {
	Name  string `xml:"name,attr"`
	Files []file `xml:"file"`
}

type file struct {
	Name  string `xml:"name,attr"`
	Path  string `xml:"path,attr"`
	Lines []line `xml:"line"`
}

type line struct {
	Num   int    `xml:"num,attr"`
	Type  string `xml:"type,attr"`
	Count int    `xml:"count,attr"`
}

// Parser implements ReportParser for Clover XML.
type Parser struct{}

// New creates a new Clover parser.
func New() *Parser {
	return &Parser{}
}

// Format returns the format this parser handles.
func (p *Parser) Format() application.Format {
	return application.FormatClover
}

// Parse decodes a Clover document into line coverage. Statement and
// conditional lines are recorded with their execution count. Method lines
// mark declarations and are never recorded.
func (p *Parser) Parse(r io.Reader) (domain.CoverageReport, error) {
	var cov coverage
	if err := xml.NewDecoder(r).Decode(&cov); err != nil {
		return nil, malformed("decode xml", err)
	}
	if cov.Project == nil {
		return nil, malformed("missing <project> element", nil)
	}

	files := cov.Project.Files
	for _, pk := range cov.Project.Packages {
		files = append(files, pk.Files...)
	}

	report := make(domain.CoverageReport)
	for _, f := range files {
		// Istanbul writes the base name to name and the full path to path.
		filename := f.Path
		if filename == "" {
			filename = f.Name
		}
		if filename == "" {
			return nil, malformed("<file> element without name", nil)
		}

		fc := report.File(filename)
		for _, ln := range f.Lines {
			if ln.Num <= 0 {
				return nil, malformed(fmt.Sprintf("%s: line number %d is not positive", filename, ln.Num), nil)
			}
			switch ln.Type {
			case "stmt", "cond":
				fc.Record(ln.Num, ln.Count)
			}
		}
	}

	return report, nil
}

func malformed(reason string, err error) error {
	return &domain.MalformedCoverageReportError{Format: string(application.FormatClover), Reason: reason, Err: err}
}
