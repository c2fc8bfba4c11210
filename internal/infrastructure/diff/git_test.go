package diff

import (
	"context"
	"errors"
	"testing"
)

func TestGitDiffDiff(t *testing.T) {
	var gotDir string
	var gotArgs []string
	diff := GitDiff{
		Dir: "/repo",
		Exec: func(ctx context.Context, dir string, args []string) ([]byte, error) {
			gotDir, gotArgs = dir, args
			return []byte("--- a/x.go\n+++ b/x.go\n@@ -1 +1 @@\n-a\n+b\n"), nil
		},
	}
	text, err := diff.Diff(context.Background(), "main")
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if gotDir != "/repo" {
		t.Fatalf("expected git to run in /repo, got %s", gotDir)
	}
	if last := gotArgs[len(gotArgs)-1]; last != "main...HEAD" {
		t.Fatalf("unexpected range argument: %s", last)
	}
	set, err := Parse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(set["x.go"]) != 1 || set["x.go"][0] != 1 {
		t.Fatalf("unexpected set: %v", set)
	}
}

func TestGitDiffDefaultsBase(t *testing.T) {
	var gotArgs []string
	diff := GitDiff{
		Exec: func(ctx context.Context, dir string, args []string) ([]byte, error) {
			gotArgs = args
			return nil, nil
		},
	}
	if _, err := diff.Diff(context.Background(), ""); err != nil {
		t.Fatalf("diff: %v", err)
	}
	if last := gotArgs[len(gotArgs)-1]; last != "origin/main...HEAD" {
		t.Fatalf("expected origin/main default, got %s", last)
	}
}

func TestGitDiffWrapsError(t *testing.T) {
	boom := errors.New("exit status 128")
	diff := GitDiff{
		Exec: func(ctx context.Context, dir string, args []string) ([]byte, error) {
			return nil, boom
		},
	}
	_, err := diff.Diff(context.Background(), "main")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
