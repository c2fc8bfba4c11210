package domain

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidThreshold = errors.New("threshold must be between 0 and 100")
	ErrEmptyFilePath    = errors.New("file path cannot be empty")
)

// Threshold is a validated percentage in [0, 100].
type Threshold struct {
	value float64
}

func NewThreshold(value float64) (Threshold, error) {
	if math.IsNaN(value) || value < 0 || value > 100 {
		return Threshold{}, ErrInvalidThreshold
	}
	return Threshold{value: value}, nil
}

// MustThreshold panics on an invalid value. Only for constants.
func MustThreshold(value float64) Threshold {
	t, err := NewThreshold(value)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Threshold) Value() float64 {
	return t.value
}

// IsExceededBy is strict: coverage equal to the threshold does not exceed it.
func (t Threshold) IsExceededBy(percentage float64) bool {
	return percentage > t.value
}

// Shortfall is the number of points missing to reach the threshold, zero
// once it is exceeded.
func (t Threshold) Shortfall(percentage float64) float64 {
	if t.IsExceededBy(percentage) {
		return 0
	}
	return Round1(t.value - percentage)
}

func (t Threshold) String() string {
	return fmt.Sprintf("%.1f%%", t.value)
}

// FilePath is a cleaned, slash-separated, repository-style path without a
// leading "./". Diff and coverage paths are compared in this form.
type FilePath struct {
	value string
}

func NewFilePath(path string) (FilePath, error) {
	if strings.TrimSpace(path) == "" {
		return FilePath{}, ErrEmptyFilePath
	}
	cleaned := filepath.ToSlash(filepath.Clean(filepath.FromSlash(path)))
	return FilePath{value: strings.TrimPrefix(cleaned, "./")}, nil
}

func (p FilePath) String() string {
	return p.value
}

// Round1 rounds to one decimal place for display. Gate and verdict
// comparisons always use the unrounded percentage.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}
