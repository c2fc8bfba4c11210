// Package cobertura implements a parser for Cobertura XML coverage format.
//
// Cobertura XML format is widely used by:
//   - Python (coverage.py with --xml)
//   - .NET (coverlet)
//   - Go (gocover-cobertura)
//   - Many CI tools (Jenkins, Azure DevOps, etc.)
package cobertura

import (
	"encoding/xml"
	"fmt"
	"io"

	"github.com/felixgeelhaar/prcover/internal/application"
	"github.com/felixgeelhaar/prcover/internal/domain"
)

// coverage represents the root Cobertura XML element.
type coverage struct {
	XMLName  xml.Name `xml:"coverage"`
	Packages []pkg    `xml:"packages>package"`
}

type pkg struct {
	Name    string  `xml:"name,attr"`
	Classes []class `xml:"classes>class"`
}

type class struct {
	Name     string   `xml:"name,attr"`
	Filename string   `xml:"filename,attr"`
	Lines    []line   `xml:"lines>line"`
	Methods  []method `xml:"methods>method"`
}

type method struct {
	Name  string `xml:"name,attr"`
	Lines []line `xml:"lines>line"`
}

type line struct {
	Number int `xml:"number,attr"`
	Hits   int `xml:"hits,attr"`
}

// Parser implements ReportParser for Cobertura XML format.
type Parser struct{}

// New creates a new Cobertura parser.
func New() *Parser {
	return &Parser{}
}

// Format returns the format this parser handles.
func (p *Parser) Format() application.Format {
	return application.FormatCobertura
}

// Parse reads a Cobertura XML document and returns line coverage.
func (p *Parser) Parse(r io.Reader) (domain.CoverageReport, error) {
	var cov coverage
	if err := xml.NewDecoder(r).Decode(&cov); err != nil {
		return nil, malformed("decode xml", err)
	}

	report := make(domain.CoverageReport)

	for _, pk := range cov.Packages {
		for _, cls := range pk.Classes {
			if cls.Filename == "" {
				continue
			}
			fc := report.File(cls.Filename)

			// Some producers nest lines under methods instead of, or in
			// addition to, the class-level list.
			lines := cls.Lines
			for _, m := range cls.Methods {
				lines = append(lines, m.Lines...)
			}
			for _, ln := range lines {
				if ln.Number <= 0 {
					return nil, malformed(fmt.Sprintf("%s: line number %d is not positive", cls.Filename, ln.Number), nil)
				}
				fc.Record(ln.Number, ln.Hits)
			}
		}
	}

	return report, nil
}

func malformed(reason string, err error) error {
	return &domain.MalformedCoverageReportError{Format: string(application.FormatCobertura), Reason: reason, Err: err}
}
