package diff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/felixgeelhaar/prcover/internal/application"
)

// GitDiff produces the diff of the current branch against a base ref by
// running git in Dir.
type GitDiff struct {
	Dir  string
	Exec func(ctx context.Context, dir string, args []string) ([]byte, error)
}

func (g GitDiff) Diff(ctx context.Context, base string) (string, error) {
	if base == "" {
		base = "origin/main"
	}
	args := []string{"diff", "--no-color", "--no-ext-diff", "-M", base + "...HEAD"}
	execFn := g.Exec
	if execFn == nil {
		execFn = runGitOutput
	}
	out, err := execFn(ctx, g.Dir, args)
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

var _ application.DiffSource = GitDiff{}

func runGitOutput(ctx context.Context, dir string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}
	return out, nil
}
