package diff

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/prcover/internal/domain"
)

const devNull = "/dev/null"

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Parser adapts Parse to application.DiffParser.
type Parser struct{}

func (Parser) Parse(text string) (domain.ModifiedLineSet, error) {
	return Parse(text)
}

// Parse extracts the added line numbers per file from unified diff text.
func Parse(text string) (domain.ModifiedLineSet, error) {
	files, err := ParseFiles(text)
	if err != nil {
		return nil, err
	}
	return domain.NewModifiedLineSet(files), nil
}

// ParseFiles parses unified diff text (git or plain) into per-file diffs.
// Hunk bodies are validated against their header counts.
func ParseFiles(text string) ([]domain.FileDiff, error) {
	lines := strings.Split(text, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	p := &parser{}
	for i, raw := range lines {
		p.lineNo = i + 1
		if err := p.feed(strings.TrimSuffix(raw, "\r")); err != nil {
			return nil, err
		}
	}
	if err := p.finishHunk(); err != nil {
		return nil, err
	}
	p.flush()
	return p.files, nil
}

type parser struct {
	files   []domain.FileDiff
	current *domain.FileDiff
	sawOld  bool
	binary  bool
	lineNo  int

	inHunk    bool
	hunk      domain.Hunk
	oldLeft   int
	newLeft   int
	nextNew   int
	lastAdded int
}

func (p *parser) feed(line string) error {
	if p.inHunk {
		handled, err := p.body(line)
		if handled || err != nil {
			return err
		}
	}

	switch {
	case strings.HasPrefix(line, "diff --git "):
		p.start()
		p.current.OldPath, p.current.NewPath = gitHeaderPaths(strings.TrimPrefix(line, "diff --git "))
	case p.binary:
		// GIT binary patch payload runs until the next file header.
	case strings.HasPrefix(line, "--- "):
		if p.current == nil || p.sawOld || len(p.current.Hunks) > 0 {
			p.start()
		}
		p.sawOld = true
		path := headerPath(strings.TrimPrefix(line, "--- "), "a/")
		p.current.OldPath = path
		if path == devNull {
			p.current.IsNew = true
		}
	case strings.HasPrefix(line, "+++ "):
		if p.current == nil {
			return p.malformed("+++ header without preceding --- header")
		}
		path := headerPath(strings.TrimPrefix(line, "+++ "), "b/")
		p.current.NewPath = path
		if path == devNull {
			p.current.IsDeleted = true
		}
	case strings.HasPrefix(line, "@@"):
		return p.beginHunk(line)
	case p.current == nil:
		// Preamble before the first file header.
	case strings.HasPrefix(line, "new file mode"):
		p.current.IsNew = true
		p.current.OldPath = devNull
	case strings.HasPrefix(line, "deleted file mode"):
		p.current.IsDeleted = true
		p.current.NewPath = devNull
	case strings.HasPrefix(line, "rename from "):
		p.current.IsRenamed = true
		p.current.OldPath = unquote(strings.TrimPrefix(line, "rename from "))
	case strings.HasPrefix(line, "rename to "):
		p.current.IsRenamed = true
		p.current.NewPath = unquote(strings.TrimPrefix(line, "rename to "))
	case strings.HasPrefix(line, "copy from "):
		p.current.IsCopied = true
		p.current.OldPath = unquote(strings.TrimPrefix(line, "copy from "))
	case strings.HasPrefix(line, "copy to "):
		p.current.IsCopied = true
		p.current.NewPath = unquote(strings.TrimPrefix(line, "copy to "))
	case strings.HasPrefix(line, "Binary files ") && strings.HasSuffix(line, " differ"):
		p.current.IsBinary = true
	case line == "GIT binary patch":
		p.current.IsBinary = true
		p.binary = true
	}
	return nil
}

// body consumes a hunk body line. It reports false once the hunk is
// complete and the line belongs to the surrounding file structure.
func (p *parser) body(line string) (bool, error) {
	if p.oldLeft == 0 && p.newLeft == 0 {
		if strings.HasPrefix(line, `\`) {
			return true, nil
		}
		if isBodyLine(line) {
			return true, p.malformed("hunk has more lines than its header declares")
		}
		if err := p.finishHunk(); err != nil {
			return true, err
		}
		return false, nil
	}
	if line == "" {
		// Some tools strip the single space of an empty context line.
		return true, p.context()
	}
	switch line[0] {
	case '+':
		if p.newLeft == 0 {
			return true, p.malformed("hunk has more added lines than its header declares")
		}
		if p.nextNew <= p.lastAdded {
			return true, p.malformed("hunks are not in ascending order")
		}
		p.hunk.Added = append(p.hunk.Added, p.nextNew)
		p.lastAdded = p.nextNew
		p.nextNew++
		p.newLeft--
	case '-':
		if p.oldLeft == 0 {
			return true, p.malformed("hunk has more removed lines than its header declares")
		}
		p.oldLeft--
	case ' ':
		return true, p.context()
	case '\\':
	default:
		return true, p.malformed("hunk body ended before the line counts in its header were reached")
	}
	return true, nil
}

// isBodyLine reports whether line can only be part of a hunk body. File
// headers and the "-- " trailer of format-patch output are excluded.
func isBodyLine(line string) bool {
	if line == "" {
		return false
	}
	switch line[0] {
	case ' ':
		return true
	case '+':
		return !strings.HasPrefix(line, "+++ ")
	case '-':
		return !strings.HasPrefix(line, "--- ") && line != "-- "
	}
	return false
}

func (p *parser) context() error {
	if p.oldLeft == 0 || p.newLeft == 0 {
		return p.malformed("hunk has more context lines than its header declares")
	}
	p.oldLeft--
	p.newLeft--
	p.nextNew++
	return nil
}

func (p *parser) beginHunk(line string) error {
	if p.current == nil {
		return p.malformed("hunk outside of a file section")
	}
	m := hunkHeader.FindStringSubmatch(line)
	if m == nil {
		return p.malformed("unparseable hunk header " + strconv.Quote(line))
	}
	var nums [4]int
	for i, s := range m[1:5] {
		n, err := headerNumber(s, i%2 == 1)
		if err != nil {
			return p.malformed("unparseable hunk header " + strconv.Quote(line) + ": " + err.Error())
		}
		nums[i] = n
	}
	p.hunk = domain.Hunk{
		OldStart: nums[0],
		OldLines: nums[1],
		NewStart: nums[2],
		NewLines: nums[3],
	}
	p.oldLeft = p.hunk.OldLines
	p.newLeft = p.hunk.NewLines
	p.nextNew = p.hunk.NewStart
	p.inHunk = true
	return nil
}

func (p *parser) finishHunk() error {
	if !p.inHunk {
		return nil
	}
	if p.oldLeft != 0 || p.newLeft != 0 {
		return p.malformed("hunk body ended before the line counts in its header were reached")
	}
	p.current.Hunks = append(p.current.Hunks, p.hunk)
	p.inHunk = false
	return nil
}

func (p *parser) start() {
	p.flush()
	p.current = &domain.FileDiff{}
	p.sawOld = false
	p.binary = false
	p.lastAdded = 0
}

func (p *parser) flush() {
	if p.current == nil {
		return
	}
	p.files = append(p.files, *p.current)
	p.current = nil
}

func (p *parser) malformed(reason string) error {
	return &domain.MalformedDiffError{Line: p.lineNo, Reason: reason}
}

// headerPath strips the optional timestamp, quoting and a/ or b/ prefix
// from a ---/+++ header value.
func headerPath(value, prefix string) string {
	if i := strings.IndexByte(value, '\t'); i >= 0 {
		value = value[:i]
	}
	value = unquote(value)
	if value == devNull {
		return value
	}
	return strings.TrimPrefix(value, prefix)
}

// gitHeaderPaths splits the "a/old b/new" part of a diff --git line. The
// ---/+++ and rename headers, when present, override these values.
func gitHeaderPaths(rest string) (string, string) {
	if strings.HasPrefix(rest, `"`) {
		if oldPath, tail, ok := cutQuoted(rest); ok {
			newPath := unquote(strings.TrimSpace(tail))
			return strings.TrimPrefix(oldPath, "a/"), strings.TrimPrefix(newPath, "b/")
		}
	}
	if strings.HasSuffix(rest, `"`) {
		if i := strings.Index(rest, ` "`); i >= 0 {
			return strings.TrimPrefix(rest[:i], "a/"), strings.TrimPrefix(unquote(rest[i+1:]), "b/")
		}
	}
	if i := strings.LastIndex(rest, " b/"); i >= 0 {
		return strings.TrimPrefix(rest[:i], "a/"), rest[i+3:]
	}
	if oldPath, newPath, ok := strings.Cut(rest, " "); ok {
		return oldPath, newPath
	}
	return rest, rest
}

func cutQuoted(s string) (string, string, bool) {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			value, err := strconv.Unquote(s[:i+1])
			if err != nil {
				return "", "", false
			}
			return value, s[i+1:], true
		}
	}
	return "", "", false
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if v, err := strconv.Unquote(s); err == nil {
			return v
		}
	}
	return s
}

// headerNumber parses a hunk header field. An omitted count means one line.
func headerNumber(s string, count bool) (int, error) {
	if s == "" && count {
		return 1, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("number %q out of range", s)
	}
	return n, nil
}
