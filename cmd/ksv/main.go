// ksv is a real-time TUI viewer for Jupyter kernel message traffic.
//
// It tails a JSON Lines capture of kernel messages, threads them by parent
// link, and times each notebook cell's execution from request to reply.
//
// Usage:
//
//	ksv                          # Auto-discover .kernelspy/messages.jsonl
//	ksv --file <path>            # Use a specific capture file
//	ksv --json                   # Dump current state as JSON and exit
//	ksv --view cells             # Start in a specific view
//	ksv --relative               # Show end times relative to now
//	ksv --refresh 5s             # Set polling fallback interval
//	ksv --version                # Print version and exit
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daviddao/kernelspy_viewer/internal/cellindex"
	"github.com/daviddao/kernelspy_viewer/internal/config"
	"github.com/daviddao/kernelspy_viewer/internal/datasource"
	"github.com/daviddao/kernelspy_viewer/internal/exectime"
	"github.com/daviddao/kernelspy_viewer/internal/logging"
	"github.com/daviddao/kernelspy_viewer/internal/session"
	"github.com/daviddao/kernelspy_viewer/internal/snapshot"
)

// Version is set via ldflags at build time (e.g. -X main.Version=v0.1.0).
var Version = "dev"

var (
	flagFile     string
	flagConfig   string
	flagView     string
	flagJSON     bool
	flagUTC      bool
	flagRelative bool
	flagVerbose  bool
	flagRefresh  time.Duration
)

var rootCmd = &cobra.Command{
	Use:     "ksv",
	Short:   "Live viewer for Jupyter kernel messages and cell execution times",
	Version: Version,
	Long: `ksv tails a capture of Jupyter kernel messages and shows them two ways:

  threads   messages nested under the message that caused them
  cells     per-cell execution time, from request to reply

The capture is a JSON Lines file with one wire message per line. Without
--file, ksv looks for .kernelspy/messages.jsonl in the working directory
and its parents, or uses $KERNELSPY_LOG.

Examples:
  ksv
  ksv --file /tmp/kernel.jsonl --view cells
  ksv --json | jq '.cells'
`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&flagFile, "file", "f", "", "capture file (default: auto-discover)")
	rootCmd.Flags().StringVar(&flagConfig, "config", config.DefaultPath, "config file")
	rootCmd.Flags().StringVar(&flagView, "view", "", "start in specific view (threads|cells)")
	rootCmd.Flags().BoolVar(&flagJSON, "json", false, "dump current state as JSON and exit (no TUI)")
	rootCmd.Flags().BoolVar(&flagUTC, "utc", false, "show end times in UTC")
	rootCmd.Flags().BoolVar(&flagRelative, "relative", false, "show end times relative to now")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "log at debug level")
	rootCmd.Flags().DurationVar(&flagRefresh, "refresh", 2*time.Second, "polling fallback interval")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// parseViewFlag maps a --view flag string to a viewID.
func parseViewFlag(s string) (viewID, error) {
	switch strings.ToLower(s) {
	case "threads", "t", "messages":
		return viewThreads, nil
	case "cells", "c":
		return viewCells, nil
	default:
		return 0, fmt.Errorf("unknown view %q (valid: threads, cells)", s)
	}
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("utc") {
		cfg.DisplayInUTC = flagUTC
	}
	if flagRelative {
		cfg.DisplayAbsoluteTimings = false
	}
	if flagVerbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openSession(cfg *config.Config, path string, log *zap.Logger) *session.Session {
	return session.Open(session.Options{
		KernelID:             strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Formatter:            exectime.NewFormatter(cfg.FormatterOptions()),
		Logger:               log,
		ClearOnKernelRestart: cfg.ClearTimingsOnKernelRestart,
		ClearOnClearOutput:   cfg.ClearTimingsOnClearOutput,
	})
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	start := viewThreads
	if flagView != "" {
		if start, err = parseViewFlag(flagView); err != nil {
			return err
		}
	}

	tail, path, err := datasource.Open(flagFile)
	if err != nil {
		return err
	}

	// The TUI owns the terminal; keep logs next to the capture unless told
	// otherwise.
	if !flagJSON && cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(filepath.Dir(path), "ksv.log")
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log.Info("opening capture", zap.String("path", path), zap.String("version", Version))

	sess := openSession(cfg, path, log)
	defer sess.Close()

	feed := newFeeder(tail, sess, log)
	if _, err := feed.Pull(); err != nil {
		return err
	}

	// --json mode: build snapshot, print JSON, exit.
	if flagJSON {
		snap, err := snapshot.Build(sess)
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		return writeJSON(cmd.OutOrStdout(), buildJSONOutput(snap))
	}

	w, err := datasource.NewWatcher(path)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()

	snap, err := snapshot.Build(sess)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	m := newModel(feed, snap, path, displayFromConfig(cfg))
	m.activeView = start
	m.refreshInterval = flagRefresh

	p := tea.NewProgram(m, tea.WithAltScreen())

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()
	go forwardCompletions(ctx, p, events)

	// Feed capture change events into the TUI.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-w.Changes():
				if !ok {
					return
				}
				p.Send(fileChangedMsg{})
			}
		}
	}()

	// Polling fallback: refresh at --refresh interval even if fsnotify misses events.
	go sendEvery(ctx, p, flagRefresh, fileChangedMsg{})

	// Relative end times go stale; recompose them on the configured period.
	if !cfg.DisplayAbsoluteTimings {
		go sendEvery(ctx, p, cfg.UpdatePeriod(), recomposeMsg{})
	}

	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}

func forwardCompletions(ctx context.Context, p *tea.Program, events <-chan cellindex.Completion) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-events:
			if !ok {
				return
			}
			p.Send(completionMsg{c: c})
		}
	}
}

func sendEvery(ctx context.Context, p *tea.Program, every time.Duration, msg tea.Msg) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Send(msg)
		}
	}
}

// feeder moves newly appended capture lines into the session. Tail is not
// safe for concurrent use, so pulls are serialized.
type feeder struct {
	mu   sync.Mutex
	tail *datasource.Tail
	sess *session.Session
	log  *zap.Logger
}

func newFeeder(tail *datasource.Tail, sess *session.Session, log *zap.Logger) *feeder {
	return &feeder{tail: tail, sess: sess, log: log}
}

// Pull ingests every complete line appended since the last pull and returns
// how many messages were accepted. A truncated capture resets the session.
func (f *feeder) Pull() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	lines, truncated, err := f.tail.ReadNew()
	if err != nil {
		return 0, err
	}
	if truncated {
		f.log.Info("capture truncated, starting over", zap.String("path", f.tail.Path()))
		f.sess.Reset()
	}
	accepted := 0
	for _, line := range lines {
		if f.sess.Ingest(line) {
			accepted++
		}
	}
	if len(lines) > 0 {
		f.log.Debug("ingested capture lines",
			zap.Int("lines", len(lines)),
			zap.Int("accepted", accepted))
	}
	return accepted, nil
}

// --- JSON output ---

// jsonOutput is the structure for --json mode.
type jsonOutput struct {
	KernelID string      `json:"kernel_id"`
	Threads  []jsonNode  `json:"threads"`
	Cells    []jsonCell  `json:"cells"`
	Latest   *jsonLatest `json:"latest_completion,omitempty"`
	Stats    jsonStats   `json:"stats"`
}

type jsonNode struct {
	ID        string `json:"id"`
	ParentID  string `json:"parent_id,omitempty"`
	Label     string `json:"label"`
	Depth     int    `json:"depth"`
	Timestamp string `json:"timestamp,omitempty"`
	CellID    string `json:"cell_id,omitempty"`
}

type jsonCell struct {
	CellID    string `json:"cell_id"`
	RequestID string `json:"request_id"`
	State     string `json:"state"`
	Duration  string `json:"duration"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	Messages  int    `json:"messages"`
}

type jsonLatest struct {
	CellID    string `json:"cell_id"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

type jsonStats struct {
	Messages     int `json:"messages"`
	Threads      int `json:"threads"`
	RunningCells int `json:"running_cells"`
	DoneCells    int `json:"done_cells"`
	Dropped      int `json:"dropped"`
	Duplicates   int `json:"duplicates"`
	Resets       int `json:"resets"`
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// buildJSONOutput converts a snapshot into the JSON output structure.
func buildJSONOutput(snap *snapshot.DataSnapshot) jsonOutput {
	nodes := make([]jsonNode, len(snap.Nodes))
	for i, n := range snap.Nodes {
		nodes[i] = jsonNode{
			ID:        n.Message.ID,
			ParentID:  n.Message.ParentID,
			Label:     n.Message.Label(),
			Depth:     n.Depth,
			Timestamp: stamp(n.Message.Timestamp),
			CellID:    n.Message.CellID,
		}
	}

	cells := make([]jsonCell, len(snap.Cells))
	for i, c := range snap.Cells {
		cells[i] = jsonCell{
			CellID:    c.CellID,
			RequestID: c.RequestID,
			State:     c.State.String(),
			Duration:  c.Duration,
			StartTime: stamp(c.StartTime),
			EndTime:   stamp(c.EndTime),
			Messages:  len(c.MessageIDs),
		}
	}

	out := jsonOutput{
		KernelID: snap.KernelID,
		Threads:  nodes,
		Cells:    cells,
		Stats: jsonStats{
			Messages:     snap.TotalMessages,
			Threads:      snap.Threads,
			RunningCells: snap.RunningCells,
			DoneCells:    snap.DoneCells,
			Dropped:      snap.Dropped,
			Duplicates:   snap.Duplicates,
			Resets:       snap.Resets,
		},
	}
	if c := snap.LastCompletion; c != nil {
		out.Latest = &jsonLatest{CellID: c.CellID, RequestID: c.RequestID, Timestamp: stamp(c.Timestamp)}
	}
	return out
}

func writeJSON(w io.Writer, out jsonOutput) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	return nil
}
