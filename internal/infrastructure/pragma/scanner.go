// Package pragma finds changed files that opt out of the coverage gate with
// a "prcover:ignore" comment near the top of the file.
package pragma

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
)

const (
	maxScanLines = 20
	ignorePragma = "prcover:ignore"
)

// Scanner reads the header of each file relative to Root.
type Scanner struct {
	Root string
}

// Ignored returns the subset of files carrying the ignore pragma in their
// first lines. Files that no longer exist (deleted or renamed away) are
// skipped.
func (s Scanner) Ignored(ctx context.Context, files []string) (map[string]bool, error) {
	ignored := make(map[string]bool)
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := s.hasPragma(file)
		if err != nil {
			return nil, err
		}
		if ok {
			ignored[file] = true
		}
	}
	return ignored, nil
}

func (s Scanner) hasPragma(file string) (bool, error) {
	path := filepath.FromSlash(file)
	if s.Root != "" {
		path = filepath.Join(s.Root, path)
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for lineNo := 0; lineNo < maxScanLines && scanner.Scan(); lineNo++ {
		if strings.Contains(scanner.Text(), ignorePragma) {
			return true, nil
		}
	}
	return false, scanner.Err()
}
