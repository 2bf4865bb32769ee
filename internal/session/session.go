// Package session is the per-kernel-connection context. A Session is opened
// when the viewer attaches to a kernel's message stream and owns everything
// derived from that stream: the message store, the user's collapse state and
// the cell index. Closing it releases all of them together.
package session

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/daviddao/kernelspy_viewer/internal/cellindex"
	"github.com/daviddao/kernelspy_viewer/internal/exectime"
	"github.com/daviddao/kernelspy_viewer/internal/kernelmsg"
	"github.com/daviddao/kernelspy_viewer/internal/msgstore"
	"github.com/daviddao/kernelspy_viewer/internal/threadtree"
)

// ErrClosed is returned by reads on a closed session.
var ErrClosed = errors.New("session closed")

// Options configures a session.
type Options struct {
	KernelID  string
	Formatter *exectime.Formatter
	Logger    *zap.Logger

	// ClearOnKernelRestart discards all state when the kernel reports
	// it is restarting.
	ClearOnKernelRestart bool
	// ClearOnClearOutput blanks a cell's duration on clear_output.
	ClearOnClearOutput bool
}

// Stats counts what the session has seen.
type Stats struct {
	Messages   int
	Threads    int
	Cells      int
	Dropped    int // malformed, never stored
	Duplicates int
	Resets     int
}

// View is a consistent read of the session taken under one lock.
type View struct {
	KernelID       string
	Nodes          []threadtree.Node
	Cells          []cellindex.Record
	CellMessages   map[string][]kernelmsg.Message
	LastCompletion *cellindex.Completion
	Stats          Stats
}

// Session serializes every mutation and read behind one mutex so that
// multi-step operations (append then index, reset) are never observed half
// done.
type Session struct {
	mu   sync.Mutex
	opts Options
	log  *zap.Logger

	store     *msgstore.Store
	collapsed threadtree.CollapseState
	cells     *cellindex.Index

	dropped    int
	duplicates int
	resets     int
	closed     bool
}

// Open creates the context for one kernel connection.
func Open(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Formatter == nil {
		opts.Formatter = exectime.NewFormatter(exectime.DefaultOptions())
	}
	log := opts.Logger.With(zap.String("kernel_id", opts.KernelID))
	store := msgstore.New()
	return &Session{
		opts:      opts,
		log:       log,
		store:     store,
		collapsed: threadtree.CollapseState{},
		cells: cellindex.New(store, opts.Formatter, log, cellindex.Options{
			ClearOnClearOutput: opts.ClearOnClearOutput,
		}),
	}
}

// KernelID identifies the connection.
func (s *Session) KernelID() string { return s.opts.KernelID }

// Ingest decodes one wire message and appends it. Undecodable or malformed
// input is logged and dropped; it never stops later messages.
func (s *Session) Ingest(raw []byte) bool {
	msg, err := kernelmsg.Decode(raw)
	if err != nil {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.log.Warn("dropping malformed kernel message", zap.Error(err))
		return false
	}
	return s.Append(msg)
}

// Append admits a decoded message. It reports false for malformed messages,
// duplicates and a closed session.
func (s *Session) Append(msg kernelmsg.Message) bool {
	if err := msg.Validate(); err != nil {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.log.Warn("dropping malformed kernel message", zap.Error(err))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	if s.opts.ClearOnKernelRestart && isRestart(msg) {
		s.log.Info("kernel restarting, clearing timings")
		s.resetLocked()
	}

	if !s.store.Append(msg) {
		s.duplicates++
		s.log.Debug("ignoring duplicate message", zap.String("msg_id", msg.ID))
		return false
	}
	if msg.ParentID != "" && !s.store.Resolved(msg) {
		s.log.Debug("parent not seen yet",
			zap.String("msg_id", msg.ID),
			zap.String("parent_id", msg.ParentID))
	}
	s.cells.Observe(msg)
	return true
}

func isRestart(msg kernelmsg.Message) bool {
	return msg.Channel == kernelmsg.ChannelIOPub &&
		msg.Type == kernelmsg.TypeStatus &&
		msg.ExecutionState == kernelmsg.StateRestarting
}

// ToggleCollapse flips the collapse state of a message and returns the new
// state.
func (s *Session) ToggleCollapse(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.collapsed.Toggle(id)
}

// Threads materializes a traversal of the current thread forest.
func (s *Session) Threads() []threadtree.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return threadtree.Flatten(s.store, s.collapsed)
}

// Cells returns the cell records in first-seen order.
func (s *Session) Cells() []cellindex.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.cells.Records()
}

// CellMessages returns the messages bucketed under cellID.
func (s *Session) CellMessages(cellID string) []kernelmsg.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.cells.Messages(cellID)
}

// Message looks a message up by id.
func (s *Session) Message(id string) (kernelmsg.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kernelmsg.Message{}, false
	}
	return s.store.ByID(id)
}

// Subscribe registers for cell completion events. Subscriptions survive a
// kernel restart reset and end when the session closes.
func (s *Session) Subscribe() (<-chan cellindex.Completion, func()) {
	return s.cells.Subscribe()
}

// Recompose refreshes the cell summaries; needed periodically when end
// times are displayed relative to now.
func (s *Session) Recompose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.cells.Recompose()
	}
}

// Stats returns the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Session) statsLocked() Stats {
	st := Stats{
		Dropped:    s.dropped,
		Duplicates: s.duplicates,
		Resets:     s.resets,
	}
	if s.closed {
		return st
	}
	st.Messages = s.store.Len()
	st.Threads = len(s.store.Roots())
	st.Cells = len(s.cells.Records())
	return st
}

// View reads the thread forest, the cell records and the counters at once.
func (s *Session) View() (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return View{}, ErrClosed
	}
	v := View{
		KernelID: s.opts.KernelID,
		Nodes:    threadtree.Flatten(s.store, s.collapsed),
		Cells:    s.cells.Records(),
		Stats:    s.statsLocked(),
	}
	v.CellMessages = make(map[string][]kernelmsg.Message, len(v.Cells))
	for _, c := range v.Cells {
		v.CellMessages[c.CellID] = s.cells.Messages(c.CellID)
	}
	if c, ok := s.cells.LastCompletion(); ok {
		v.LastCompletion = &c
	}
	return v, nil
}

// Reset discards messages, collapse state and cell records, as on a kernel
// restart. Subscriptions are kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.resetLocked()
	}
}

func (s *Session) resetLocked() {
	s.store = msgstore.New()
	s.collapsed = threadtree.CollapseState{}
	s.cells.Reset(s.store)
	s.resets++
}

// Close releases all per-kernel state and ends every subscription. Later
// calls are no-ops.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cells.Close()
	s.store = nil
	s.collapsed = nil
	s.log.Debug("session closed")
}
