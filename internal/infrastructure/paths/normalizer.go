// Package paths maps coverage report paths onto repository-relative paths.
package paths

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/felixgeelhaar/prcover/internal/application"
	"github.com/felixgeelhaar/prcover/internal/domain"
)

// Mapper rewrites coverage paths so they line up with diff paths.
// Coverage tools usually record absolute paths (CI workspace) or import
// paths (Go); diffs always use repository-relative ones.
type Mapper struct {
	// Root is the repository root. Absolute coverage paths below it are
	// made relative to it.
	Root string
	// StripPrefixes are removed from the start of coverage paths; the
	// first match wins.
	StripPrefixes []string

	excludes []glob.Glob
}

// NewMapper creates a Mapper. Exclude patterns are globs of files dropped
// from both sides; they are compiled once and invalid ones are ignored,
// see ValidatePatterns.
func NewMapper(root string, stripPrefixes, exclude []string) *Mapper {
	return &Mapper{
		Root:          root,
		StripPrefixes: stripPrefixes,
		excludes:      compilePatterns(exclude),
	}
}

// Map returns a new report keyed by repository-relative paths. Entries
// that collapse onto the same path are merged line by line.
func (m *Mapper) Map(report domain.CoverageReport) domain.CoverageReport {
	mapped := make(domain.CoverageReport, len(report))
	for _, file := range report.Paths() {
		rel := m.Normalize(file)
		if rel == "" || m.excluded(rel) {
			continue
		}
		target := mapped.File(rel)
		for line, hits := range report[file] {
			target.Record(line, hits)
		}
	}
	return mapped
}

// Normalize converts one coverage path to a slash-separated path relative
// to the repository root.
func (m *Mapper) Normalize(file string) string {
	p := filepath.ToSlash(file)
	for _, prefix := range m.StripPrefixes {
		prefix = filepath.ToSlash(prefix)
		if prefix == "" {
			continue
		}
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		if strings.HasPrefix(p, prefix) {
			p = strings.TrimPrefix(p, prefix)
			break
		}
	}
	if m.Root != "" && path.IsAbs(p) {
		root := filepath.ToSlash(filepath.Clean(m.Root))
		if rel, ok := relativeTo(p, root); ok {
			p = rel
		}
	}
	fp, err := domain.NewFilePath(p)
	if err != nil {
		return ""
	}
	return fp.String()
}

func relativeTo(p, root string) (string, bool) {
	if root == "/" {
		return strings.TrimPrefix(p, "/"), true
	}
	if strings.HasPrefix(p, root+"/") {
		return strings.TrimPrefix(p, root+"/"), true
	}
	return "", false
}

// excluded reports whether a repository-relative path matches any of the
// exclude patterns. A pattern ending in "/" matches everything below that
// directory at any depth, a pattern without a "/" is matched against the
// base name, and "**" crosses directory boundaries.
func (m *Mapper) excluded(file string) bool {
	return matchAny(file, m.excludes)
}

// FilterModified drops excluded files from a diff's modified line set.
func (m *Mapper) FilterModified(set domain.ModifiedLineSet) domain.ModifiedLineSet {
	filtered := make(domain.ModifiedLineSet, len(set))
	for file, lines := range set {
		if !m.excluded(file) {
			filtered[file] = lines
		}
	}
	return filtered
}

// ValidatePatterns reports the first exclude pattern that does not compile.
func ValidatePatterns(patterns []string) error {
	for _, pattern := range patterns {
		if _, err := compilePattern(pattern); err != nil {
			return fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
	}
	return nil
}

func matchAny(file string, globs []glob.Glob) bool {
	file = strings.TrimPrefix(filepath.ToSlash(file), "./")
	base := path.Base(file)
	for _, g := range globs {
		if g.Match(file) || g.Match(base) {
			return true
		}
	}
	return false
}

func compilePatterns(patterns []string) []glob.Glob {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := compilePattern(pattern)
		if err != nil || g == nil {
			continue
		}
		globs = append(globs, g)
	}
	return globs
}

// compilePattern translates one exclude pattern into a '/'-separated glob.
// A single "*" never crosses '/', so base-name patterns only match through
// the base name.
func compilePattern(pattern string) (glob.Glob, error) {
	pattern = strings.TrimPrefix(filepath.ToSlash(pattern), "./")
	switch {
	case pattern == "":
		return nil, nil
	case strings.HasSuffix(pattern, "/"):
		return glob.Compile("{"+pattern+"**,**/"+pattern+"**}", '/')
	default:
		return glob.Compile(pattern, '/')
	}
}

var _ application.PathMapper = (*Mapper)(nil)
