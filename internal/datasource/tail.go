package datasource

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Tail reads a growing JSON Lines file incrementally. Each call to ReadNew
// returns the complete lines appended since the previous call; a trailing
// line without its newline is held back until it is finished.
type Tail struct {
	path    string
	offset  int64
	partial []byte
}

// NewTail returns a tail positioned at the start of path.
func NewTail(path string) *Tail {
	return &Tail{path: path}
}

// Path is the file being tailed.
func (t *Tail) Path() string { return t.path }

// Offset is the number of bytes consumed so far, including any held back
// partial line.
func (t *Tail) Offset() int64 { return t.offset }

// ReadNew returns the lines appended since the last call. truncated reports
// that the file shrank (the capture was restarted); reading then resumes from
// the beginning and callers should discard what they built from earlier
// lines. Blank lines are skipped.
func (t *Tail) ReadNew() (lines [][]byte, truncated bool, err error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w", t.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, false, fmt.Errorf("stat %s: %w", t.path, err)
	}
	if info.Size() < t.offset {
		t.offset = 0
		t.partial = nil
		truncated = true
	}
	if info.Size() == t.offset {
		return nil, truncated, nil
	}

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return nil, truncated, fmt.Errorf("seek %s: %w", t.path, err)
	}
	chunk, err := io.ReadAll(f)
	if err != nil {
		return nil, truncated, fmt.Errorf("read %s: %w", t.path, err)
	}
	t.offset += int64(len(chunk))

	buf := append(t.partial, chunk...)
	t.partial = nil
	for len(buf) > 0 {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			t.partial = append([]byte(nil), buf...)
			break
		}
		line := bytes.TrimSpace(buf[:i])
		buf = buf[i+1:]
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	return lines, truncated, nil
}
