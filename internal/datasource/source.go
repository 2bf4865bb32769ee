// Package datasource locates and tails the kernel message capture file.
package datasource

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// EnvLog overrides discovery with an explicit capture file.
	EnvLog = "KERNELSPY_LOG"

	defaultDir = ".kernelspy"
	defaultLog = ".kernelspy/messages.jsonl"
)

// Discover finds the capture file path.
// Priority: KERNELSPY_LOG env var > .kernelspy/messages.jsonl in CWD > walk up parents.
func Discover() (string, error) {
	if env := os.Getenv(EnvLog); env != "" {
		if _, err := os.Stat(env); err == nil {
			return env, nil
		}
		return "", fmt.Errorf("%s=%q: %w", EnvLog, env, os.ErrNotExist)
	}

	if _, err := os.Stat(defaultLog); err == nil {
		abs, err := filepath.Abs(defaultLog)
		if err != nil {
			return "", fmt.Errorf("resolve absolute path for %s: %w", defaultLog, err)
		}
		return abs, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, defaultLog)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("no kernel message capture found (looked for %s)", defaultLog)
}

// Open resolves path (discovering it when empty) and returns a tail
// positioned at the start of the file.
func Open(path string) (*Tail, string, error) {
	if path == "" {
		var err error
		if path, err = Discover(); err != nil {
			return nil, "", err
		}
	}
	if _, err := os.Stat(path); err != nil {
		return nil, "", fmt.Errorf("open %s: %w", path, err)
	}
	return NewTail(path), path, nil
}
