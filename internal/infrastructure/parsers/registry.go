// Package parsers provides a unified registry for coverage report parsers.
//
// The registry automatically detects report formats and selects the appropriate parser.
package parsers

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"github.com/felixgeelhaar/prcover/internal/application"
	"github.com/felixgeelhaar/prcover/internal/domain"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/coverprofile"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/parsers/clover"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/parsers/cobertura"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/parsers/detector"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/parsers/lcov"
	"github.com/felixgeelhaar/prcover/internal/pathutil"
)

// Registry manages the report parsers and auto-detects formats.
type Registry struct {
	detector *detector.Detector
	parsers  map[application.Format]application.ReportParser
}

// NewRegistry creates a new parser registry with all supported parsers.
func NewRegistry() *Registry {
	return &Registry{
		detector: detector.New(),
		parsers: map[application.Format]application.ReportParser{
			application.FormatClover:    clover.New(),
			application.FormatCobertura: cobertura.New(),
			application.FormatLCOV:      lcov.New(),
			application.FormatGo:        coverprofile.Parser{},
		},
	}
}

// Load reads the report at path. FormatAuto (or an empty format) detects
// the format from the file content.
func (r *Registry) Load(path string, format application.Format) (domain.CoverageReport, error) {
	cleanPath, err := pathutil.ValidatePath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	content, err := os.ReadFile(cleanPath) // #nosec G304 - path is validated above
	if err != nil {
		return nil, fmt.Errorf("open coverage report: %w", err)
	}

	return r.ParseBytes(path, content, format)
}

// ParseBytes parses an in-memory report. name is only used as a detection hint.
func (r *Registry) ParseBytes(name string, content []byte, format application.Format) (domain.CoverageReport, error) {
	if format == "" || format == application.FormatAuto {
		format = r.detector.DetectFormat(name, content)
	}
	// Clover is the primary format; undetectable content is tried as Clover
	// so the error names what was expected.
	if format == application.FormatAuto {
		format = application.FormatClover
	}

	parser, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
	return parser.Parse(bytes.NewReader(content))
}

// SupportedFormats returns all formats with a parser, sorted by name.
func (r *Registry) SupportedFormats() []application.Format {
	formats := make([]application.Format, 0, len(r.parsers))
	for format := range r.parsers {
		formats = append(formats, format)
	}
	sort.Slice(formats, func(i, j int) bool { return formats[i] < formats[j] })
	return formats
}

var _ application.CoverageLoader = (*Registry)(nil)
