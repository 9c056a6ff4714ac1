package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/forPelevin/vibecut/internal/export"
	"github.com/forPelevin/vibecut/internal/usecase"
)

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, errors.Join(
		&usecase.HighlightError{Ordinal: 2, Err: export.ErrExecution},
		&usecase.HighlightError{Ordinal: 5, Err: usecase.ErrOrdinal},
	))
	printError(&buf, errors.New("config: out_dir is empty"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "highlight 2: Export failed") {
		t.Fatalf("unexpected first line: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "highlight 5: There is no highlight") {
		t.Fatalf("unexpected second line: %q", lines[1])
	}
	if lines[2] != "config: out_dir is empty" {
		t.Fatalf("unexpected third line: %q", lines[2])
	}
}

func TestTrim_InvalidRangeNeverLoadsEngine(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.mp4")
	if err := os.WriteFile(in, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cacheDir := filepath.Join(dir, "cache")
	t.Setenv("VIBECUT_CACHE_DIR", cacheDir)
	t.Setenv("VIBECUT_WORK_DIR", filepath.Join(dir, "work"))

	root := NewRoot()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{
		"trim", in,
		"--config", filepath.Join(dir, "missing.yaml"),
		"--out", filepath.Join(dir, "out"),
		"--start", "0:05",
		"--end", "0:02",
	})

	err := root.Execute()
	if !errors.Is(err, export.ErrInvalidRange) {
		t.Fatalf("expected invalid range, got %v", err)
	}
	if _, statErr := os.Stat(cacheDir); !os.IsNotExist(statErr) {
		t.Fatalf("engine assets were fetched for an invalid range")
	}
	if _, statErr := os.Stat(filepath.Join(dir, "out")); !os.IsNotExist(statErr) {
		t.Fatalf("output written for an invalid range")
	}
}

func TestRoot_RejectsBadConfig(t *testing.T) {
	root := NewRoot()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{
		"trim", "in.mp4",
		"--config", filepath.Join(t.TempDir(), "missing.yaml"),
		"--log-level", "loud",
		"--start", "0:01",
		"--end", "0:02",
	})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "log.level") {
		t.Fatalf("expected log level validation error, got %v", err)
	}
}
