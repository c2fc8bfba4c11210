// Package pathutil validates and reads user-supplied input paths.
package pathutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrEmptyPath = errors.New("path cannot be empty")
	ErrNullBytes = errors.New("path contains null bytes")
)

// StdinPath names standard input wherever a file path is accepted.
const StdinPath = "-"

// ReadInput reads the file at path, or stdin when path is StdinPath.
func ReadInput(path string, stdin io.Reader) ([]byte, error) {
	if path == StdinPath {
		if stdin == nil {
			return nil, fmt.Errorf("read stdin: no input available")
		}
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	cleanPath, err := ValidatePath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	data, err := os.ReadFile(cleanPath) // #nosec G304 - path is validated above
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// ValidatePath cleans path and resolves symlinks so the caller reads the
// real file. Paths that do not exist yet are returned cleaned.
func ValidatePath(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "\x00") {
		return "", ErrNullBytes
	}
	realPath, err := filepath.EvalSymlinks(cleaned)
	if err != nil {
		return cleaned, nil
	}
	return realPath, nil
}
