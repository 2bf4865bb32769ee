package datasource

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCapture(t *testing.T, dir string) string {
	t.Helper()
	capDir := filepath.Join(dir, defaultDir)
	if err := os.MkdirAll(capDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	path := filepath.Join(capDir, "messages.jsonl")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDiscoverFromEnvVar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv(EnvLog, path)

	got, err := Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if got != path {
		t.Errorf("Discover() = %q, want %q", got, path)
	}
}

func TestDiscoverEnvVarMissing(t *testing.T) {
	t.Setenv(EnvLog, "/nonexistent/path/messages.jsonl")

	if _, err := Discover(); err == nil {
		t.Error("Discover should fail when KERNELSPY_LOG points to nonexistent file")
	}
}

func TestDiscoverFromCWD(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir)
	t.Setenv(EnvLog, "")
	t.Chdir(dir)

	path, err := Discover()
	if err != nil {
		t.Fatalf("Discover from CWD: %v", err)
	}
	if filepath.Base(filepath.Dir(path)) != defaultDir {
		t.Errorf("expected path in %s/, got %q", defaultDir, path)
	}
}

func TestDiscoverFromParentDir(t *testing.T) {
	dir := t.TempDir()
	want := writeCapture(t, dir)

	childDir := filepath.Join(dir, "sub", "deep")
	if err := os.MkdirAll(childDir, 0o755); err != nil {
		t.Fatalf("MkdirAll child: %v", err)
	}
	t.Setenv(EnvLog, "")
	t.Chdir(childDir)

	path, err := Discover()
	if err != nil {
		t.Fatalf("Discover from parent: %v", err)
	}
	// Resolve symlinks for comparison (macOS /var -> /private/var).
	resolvedPath, _ := filepath.EvalSymlinks(path)
	resolvedWant, _ := filepath.EvalSymlinks(want)
	if resolvedPath != resolvedWant {
		t.Errorf("Discover() = %q, want %q", path, want)
	}
}

func TestDiscoverNoCapture(t *testing.T) {
	t.Setenv(EnvLog, "")
	t.Chdir(t.TempDir())

	if _, err := Discover(); err == nil {
		t.Error("Discover should fail when no capture exists")
	}
}

func TestOpenExplicitPath(t *testing.T) {
	path := writeCapture(t, t.TempDir())

	tail, got, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != path || tail.Path() != path {
		t.Errorf("Open path = %q, tail %q, want %q", got, tail.Path(), path)
	}
	if tail.Offset() != 0 {
		t.Errorf("new tail offset = %d, want 0", tail.Offset())
	}
}

func TestOpenFail(t *testing.T) {
	if _, _, err := Open("/nonexistent/path/messages.jsonl"); err == nil {
		t.Error("Open should fail for a missing file")
	}
}
