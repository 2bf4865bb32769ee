package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/daviddao/kernelspy_viewer/internal/config"
	"github.com/daviddao/kernelspy_viewer/internal/datasource"
	"github.com/daviddao/kernelspy_viewer/internal/snapshot"
)

const captureLines = `{"header":{"msg_id":"q1","msg_type":"execute_request","date":"2024-03-01T10:00:00.000Z"},"parent_header":{},"channel":"shell","metadata":{"cellId":"c1"},"content":{"code":"1+1"}}
{"header":{"msg_id":"s1","msg_type":"status","date":"2024-03-01T10:00:00.010Z"},"parent_header":{"msg_id":"q1"},"channel":"iopub","metadata":{},"content":{"execution_state":"busy"}}
not a message
{"header":{"msg_id":"r1","msg_type":"execute_reply","date":"2024-03-01T10:00:01.500Z"},"parent_header":{"msg_id":"q1"},"channel":"shell","metadata":{"cellId":"c1"},"content":{"status":"ok"}}
`

func writeTestCapture(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messages.jsonl")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func testFeeder(t *testing.T, path string) *feeder {
	t.Helper()
	tail, _, err := datasource.Open(path)
	if err != nil {
		t.Fatalf("datasource.Open: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.Template = "${duration}"
	cfg.ClearTimingsOnKernelRestart = true
	sess := openSession(cfg, path, zap.NewNop())
	t.Cleanup(sess.Close)
	return newFeeder(tail, sess, zap.NewNop())
}

func TestSmokeCapturePipeline(t *testing.T) {
	path := writeTestCapture(t, captureLines)
	feed := testFeeder(t, path)

	accepted, err := feed.Pull()
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if accepted != 3 {
		t.Errorf("accepted %d messages, want 3", accepted)
	}

	snap, err := snapshot.Build(feed.sess)
	if err != nil {
		t.Fatalf("snapshot build failed: %v", err)
	}
	if snap.KernelID != "messages" {
		t.Errorf("kernel id = %q, want capture base name", snap.KernelID)
	}
	if snap.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", snap.Dropped)
	}
	c1, ok := snap.Cell("c1")
	if !ok {
		t.Fatal("cell c1 missing")
	}
	if c1.Duration != "1.50s" {
		t.Errorf("c1 duration = %q, want 1.50s", c1.Duration)
	}
}

func TestSmokeFeederAppendsAndRestarts(t *testing.T) {
	path := writeTestCapture(t, captureLines)
	feed := testFeeder(t, path)
	if _, err := feed.Pull(); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	_, err = f.WriteString(`{"header":{"msg_id":"o1","msg_type":"stream"},"parent_header":{"msg_id":"q1"},"channel":"iopub","content":{"name":"stdout","text":"2"}}` + "\n")
	f.Close()
	if err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if n, err := feed.Pull(); err != nil || n != 1 {
		t.Fatalf("second Pull = %d, %v; want 1 new message", n, err)
	}
	if got := feed.sess.Stats().Messages; got != 4 {
		t.Errorf("messages = %d, want 4", got)
	}

	// A rewritten, shorter capture starts the session over.
	restart := `{"header":{"msg_id":"k1","msg_type":"status"},"parent_header":{},"channel":"iopub","content":{"execution_state":"starting"}}` + "\n"
	if err := os.WriteFile(path, []byte(restart), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := feed.Pull(); err != nil {
		t.Fatalf("Pull after truncation: %v", err)
	}
	st := feed.sess.Stats()
	if st.Messages != 1 || st.Resets != 1 || st.Cells != 0 {
		t.Errorf("after truncation stats = %+v", st)
	}
}

func TestSmokeRefreshCommand(t *testing.T) {
	path := writeTestCapture(t, captureLines)
	feed := testFeeder(t, path)
	m := newModel(feed, &snapshot.DataSnapshot{}, path, display{})
	m.width, m.height = 100, 30

	msg := m.refreshSnapshot()()
	ready, ok := msg.(snapshotReadyMsg)
	if !ok {
		t.Fatalf("refresh returned %T", msg)
	}
	if ready.err != nil {
		t.Fatalf("refresh error: %v", ready.err)
	}
	m = update(t, m, ready)
	if len(m.snap.Nodes) != 3 {
		t.Fatalf("nodes = %d, want 3", len(m.snap.Nodes))
	}

	// Collapse the request thread through the session.
	next, cmd := m.Update(keyMsg("enter"))
	if cmd == nil {
		t.Fatal("toggling a parent should refresh")
	}
	m = update(t, next.(uiModel), cmd())
	if len(m.snap.Nodes) != 1 || !m.snap.Nodes[0].Collapsed {
		t.Errorf("after collapse nodes = %+v", m.snap.Nodes)
	}
}

func TestSmokeJSONCommand(t *testing.T) {
	path := writeTestCapture(t, captureLines)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--json", "--file", path, "--config", filepath.Join(t.TempDir(), "none.yaml"), "--utc"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		flagJSON, flagUTC, flagFile = false, false, ""
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var got jsonOutput
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if len(got.Threads) != 3 || len(got.Cells) != 1 {
		t.Fatalf("got %d threads %d cells", len(got.Threads), len(got.Cells))
	}
	if !strings.HasPrefix(got.Cells[0].Duration, "executed in 1.50s, finished 10:00:01 2024-03-01") {
		t.Errorf("duration = %q", got.Cells[0].Duration)
	}
	if got.Stats.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", got.Stats.Dropped)
	}
}
