package domain

import (
	"fmt"
	"sort"
)

// LineOp tags a hunk body line.
type LineOp int

const (
	OpContext LineOp = iota
	OpAdded
	OpRemoved
)

// Hunk is one "@@ -a,b +c,d @@" section of a file diff.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	// Added holds the new-file line numbers of the hunk's "+" lines.
	Added []int
}

// FileDiff is the parsed change set of a single file.
type FileDiff struct {
	OldPath   string
	NewPath   string
	IsNew     bool
	IsDeleted bool
	IsRenamed bool
	IsCopied  bool
	IsBinary  bool
	Hunks     []Hunk
}

// Path returns the path the file has after the change.
func (d FileDiff) Path() string {
	if d.IsDeleted {
		return d.OldPath
	}
	return d.NewPath
}

// AddedLines returns every added new-file line number across all hunks.
func (d FileDiff) AddedLines() []int {
	var lines []int
	for _, h := range d.Hunks {
		lines = append(lines, h.Added...)
	}
	return lines
}

// ModifiedLineSet maps a file path to the ascending new-file line numbers
// the diff added. A file that was renamed or copied without content changes
// is present with an empty slice.
type ModifiedLineSet map[string][]int

// NewModifiedLineSet builds the set from parsed file diffs. Binary and
// deleted files carry no new-file lines and are left out.
func NewModifiedLineSet(files []FileDiff) ModifiedLineSet {
	set := make(ModifiedLineSet, len(files))
	for _, f := range files {
		if f.IsBinary || f.IsDeleted {
			continue
		}
		if _, ok := set[f.NewPath]; !ok {
			set[f.NewPath] = []int{}
		}
		set[f.NewPath] = append(set[f.NewPath], f.AddedLines()...)
	}
	for path, lines := range set {
		sort.Ints(lines)
		set[path] = lines
	}
	return set
}

// Paths returns the file paths in sorted order.
func (s ModifiedLineSet) Paths() []string {
	paths := make([]string, 0, len(s))
	for path := range s {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// LineCount returns the total number of added lines across all files.
func (s ModifiedLineSet) LineCount() int {
	n := 0
	for _, lines := range s {
		n += len(lines)
	}
	return n
}

// MalformedDiffError reports unified diff input that cannot be parsed.
type MalformedDiffError struct {
	Line   int // 1-based line of the diff text, 0 when unknown
	Reason string
}

func (e *MalformedDiffError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed diff at line %d: %s", e.Line, e.Reason)
	}
	return "malformed diff: " + e.Reason
}
