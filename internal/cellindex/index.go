// Package cellindex associates kernel messages with the notebook cell that
// triggered them and records how long each cell took to execute.
//
// A cell opens when a request carrying a cell id arrives outside any tracked
// thread, or when any message brings a cell id never seen before; the message
// becomes the cell's tracked request. A later request for the same cell
// replaces the record. Every message whose parent chain leads back to the
// tracked request is added to the cell, in arrival order. The first shell reply answering the request closes the cell, fixes
// its duration string and, when the reply is newer than any completion
// signalled so far, notifies subscribers.
package cellindex

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daviddao/kernelspy_viewer/internal/exectime"
	"github.com/daviddao/kernelspy_viewer/internal/kernelmsg"
)

// State of a cell record.
type State int

const (
	StateOpen State = iota + 1
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "running"
	case StateClosed:
		return "done"
	}
	return "?"
}

// Record is the execution summary of one cell. Messages are kept as ids;
// the store owns the message data.
type Record struct {
	CellID      string
	RequestID   string
	RequestType kernelmsg.MsgType
	State       State
	StartTime   time.Time
	EndTime     time.Time
	// Duration is the composed summary. It stays empty while running, and
	// when the start or end stamp could not be read.
	Duration   string
	MessageIDs []string
}

// Completion is published when a cell finishes more recently than any cell
// before it.
type Completion struct {
	CellID    string
	RequestID string
	Timestamp time.Time
}

// Lookup is the read side of the message store.
type Lookup interface {
	ByID(id string) (kernelmsg.Message, bool)
	// Index returns the arrival position of id.
	Index(id string) (int, bool)
}

// Options tunes the index.
type Options struct {
	// ClearOnClearOutput blanks a cell's duration when a clear_output for
	// that cell is observed.
	ClearOnClearOutput bool
}

// maxChainHops bounds the parent walk; kernel threads are a few levels deep.
const maxChainHops = 64

// Index is driven by Observe in arrival order. Observe and the read methods
// must be serialized by the caller; subscriptions may be taken from any
// goroutine.
type Index struct {
	store  Lookup
	format *exectime.Formatter
	log    *zap.Logger
	opts   Options

	records  map[string]*Record
	order    []string          // cell ids, first-seen order
	requests map[string]string // tracked request id -> cell id
	pending  map[string][]string

	lastSignaled time.Time
	last         *Completion

	subMu       sync.Mutex
	subscribers map[string]chan Completion
	closed      bool
}

// New creates an index reading messages from store.
func New(store Lookup, format *exectime.Formatter, log *zap.Logger, opts Options) *Index {
	if log == nil {
		log = zap.NewNop()
	}
	if format == nil {
		format = exectime.NewFormatter(exectime.DefaultOptions())
	}
	return &Index{
		store:       store,
		format:      format,
		log:         log,
		opts:        opts,
		records:     make(map[string]*Record),
		requests:    make(map[string]string),
		pending:     make(map[string][]string),
		subscribers: make(map[string]chan Completion),
	}
}

// Observe feeds one newly stored message to the index.
func (ix *Index) Observe(msg kernelmsg.Message) {
	queue := []kernelmsg.Message{msg}
	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]
		ix.observe(m)

		// Messages that arrived ahead of m and were waiting on it.
		if waiting, ok := ix.pending[m.ID]; ok {
			delete(ix.pending, m.ID)
			for _, id := range waiting {
				if child, ok := ix.store.ByID(id); ok {
					queue = append(queue, child)
				}
			}
		}
	}
}

func (ix *Index) observe(msg kernelmsg.Message) {
	rec, missing := ix.owner(msg)
	if rec != nil {
		rec.MessageIDs = ix.insertByArrival(rec.MessageIDs, msg.ID)
		switch {
		case rec.State == StateOpen && terminates(rec, msg):
			ix.close(rec, msg)
		case msg.Type == kernelmsg.TypeClearOutput && ix.opts.ClearOnClearOutput:
			rec.Duration = ""
		}
		return
	}

	// Only a request may open a cell while its own ancestry is incomplete;
	// anything else waits for the missing ancestor.
	if missing != "" && (msg.CellID == "" || !msg.Type.IsRequest()) {
		ix.pending[missing] = append(ix.pending[missing], msg.ID)
		return
	}
	if msg.CellID != "" {
		// Stragglers of a replaced execution still carry the cell id; only
		// a new request may take over a cell that already has a record.
		if _, seen := ix.records[msg.CellID]; !seen || msg.Type.IsRequest() {
			ix.open(msg)
			return
		}
		ix.log.Debug("message of a replaced request",
			zap.String("msg_id", msg.ID),
			zap.String("cell_id", msg.CellID))
		return
	}
	if msg.Channel == kernelmsg.ChannelShell && msg.Type.IsReply() {
		ix.log.Debug("reply outside any tracked cell",
			zap.String("msg_id", msg.ID),
			zap.String("parent_id", msg.ParentID))
	}
}

// owner walks msg's parent chain up to a tracked request. When the chain
// breaks on an ancestor not stored yet, that ancestor's id is returned so the
// message can be replayed once it arrives.
func (ix *Index) owner(msg kernelmsg.Message) (rec *Record, missing string) {
	seen := make(map[string]bool)
	id := msg.ParentID
	for hops := 0; id != "" && hops < maxChainHops && !seen[id]; hops++ {
		if cellID, ok := ix.requests[id]; ok {
			return ix.records[cellID], ""
		}
		seen[id] = true
		parent, ok := ix.store.ByID(id)
		if !ok {
			return nil, id
		}
		id = parent.ParentID
	}
	return nil, ""
}

// insertByArrival places id in ids, which is sorted by arrival position.
// Replayed messages arrived before the request they are filed under.
func (ix *Index) insertByArrival(ids []string, id string) []string {
	pos, ok := ix.store.Index(id)
	if !ok {
		return append(ids, id)
	}
	at, _ := slices.BinarySearchFunc(ids, pos, func(other string, target int) int {
		i, _ := ix.store.Index(other)
		return cmp.Compare(i, target)
	})
	return slices.Insert(ids, at, id)
}

func (ix *Index) open(msg kernelmsg.Message) {
	if prev, ok := ix.records[msg.CellID]; ok {
		delete(ix.requests, prev.RequestID)
	} else {
		ix.order = append(ix.order, msg.CellID)
	}

	rec := &Record{
		CellID:     msg.CellID,
		RequestID:  msg.ID,
		State:      StateOpen,
		MessageIDs: []string{msg.ID},
	}
	if msg.Channel == kernelmsg.ChannelShell && msg.Type.IsRequest() {
		rec.RequestType = msg.Type
		rec.StartTime = msg.Timestamp
	}
	ix.records[msg.CellID] = rec
	ix.requests[msg.ID] = msg.CellID
}

// terminates reports whether msg is the shell reply answering rec's request.
func terminates(rec *Record, msg kernelmsg.Message) bool {
	if msg.Channel != kernelmsg.ChannelShell || !msg.Type.IsReply() {
		return false
	}
	if rec.RequestType != "" && msg.Type != rec.RequestType.ReplyType() {
		return false
	}
	return true
}

func (ix *Index) close(rec *Record, reply kernelmsg.Message) {
	rec.State = StateClosed
	rec.EndTime = reply.Timestamp
	if rec.StartTime.IsZero() {
		rec.StartTime = reply.Started
	}
	if rec.StartTime.IsZero() || rec.EndTime.IsZero() {
		rec.Duration = ""
		ix.log.Warn("cell finished without usable timestamps",
			zap.String("cell_id", rec.CellID),
			zap.String("reply_id", reply.ID),
			zap.String("date", reply.RawDate))
		return
	}
	rec.Duration = ix.format.Compose(rec.StartTime, rec.EndTime)

	if !exectime.IsAfter(rec.EndTime, ix.lastSignaled) {
		return
	}
	ix.lastSignaled = rec.EndTime
	c := Completion{CellID: rec.CellID, RequestID: rec.RequestID, Timestamp: rec.EndTime}
	ix.last = &c
	ix.log.Info("cell execution finished",
		zap.String("cell_id", rec.CellID),
		zap.Time("finished", rec.EndTime),
		zap.String("duration", rec.Duration))
	ix.publish(c)
}

// Recompose rebuilds every finished cell's summary. Relative end times go
// stale, so callers refresh on a timer when the formatter is relative.
func (ix *Index) Recompose() {
	for _, rec := range ix.records {
		if rec.State == StateClosed && !rec.StartTime.IsZero() && !rec.EndTime.IsZero() && rec.Duration != "" {
			rec.Duration = ix.format.Compose(rec.StartTime, rec.EndTime)
		}
	}
}

// Record returns a copy of the record for cellID.
func (ix *Index) Record(cellID string) (Record, bool) {
	rec, ok := ix.records[cellID]
	if !ok {
		return Record{}, false
	}
	return copyRecord(rec), true
}

// Records returns copies of all records in first-seen order.
func (ix *Index) Records() []Record {
	out := make([]Record, 0, len(ix.order))
	for _, id := range ix.order {
		out = append(out, copyRecord(ix.records[id]))
	}
	return out
}

// Messages resolves the messages of cellID in arrival order.
func (ix *Index) Messages(cellID string) []kernelmsg.Message {
	rec, ok := ix.records[cellID]
	if !ok {
		return nil
	}
	out := make([]kernelmsg.Message, 0, len(rec.MessageIDs))
	for _, id := range rec.MessageIDs {
		if m, ok := ix.store.ByID(id); ok {
			out = append(out, m)
		}
	}
	return out
}

// LastCompletion returns the most recent completion signalled.
func (ix *Index) LastCompletion() (Completion, bool) {
	if ix.last == nil {
		return Completion{}, false
	}
	return *ix.last, true
}

// Subscribe registers for completion events. Delivery never blocks the
// index: a subscriber that falls behind its buffer misses events. The
// returned function unsubscribes and closes the channel.
func (ix *Index) Subscribe() (<-chan Completion, func()) {
	ix.subMu.Lock()
	defer ix.subMu.Unlock()

	if ix.closed {
		ch := make(chan Completion)
		close(ch)
		return ch, func() {}
	}

	id := uuid.New().String()
	ch := make(chan Completion, 64)
	ix.subscribers[id] = ch

	return ch, func() {
		ix.subMu.Lock()
		defer ix.subMu.Unlock()
		if sub, ok := ix.subscribers[id]; ok {
			close(sub)
			delete(ix.subscribers, id)
		}
	}
}

func (ix *Index) publish(c Completion) {
	ix.subMu.Lock()
	defer ix.subMu.Unlock()
	for _, ch := range ix.subscribers {
		select {
		case ch <- c:
		default:
			ix.log.Warn("completion subscriber is full, dropping event", zap.String("cell_id", c.CellID))
		}
	}
}

// Reset forgets every record and the last signalled completion and starts
// reading from store. Subscribers stay registered.
func (ix *Index) Reset(store Lookup) {
	ix.store = store
	ix.records = make(map[string]*Record)
	ix.requests = make(map[string]string)
	ix.pending = make(map[string][]string)
	ix.order = nil
	ix.last = nil
	ix.lastSignaled = time.Time{}
}

// Close drops all state and closes every subscriber channel.
func (ix *Index) Close() {
	ix.subMu.Lock()
	defer ix.subMu.Unlock()
	if ix.closed {
		return
	}
	ix.closed = true
	for id, ch := range ix.subscribers {
		close(ch)
		delete(ix.subscribers, id)
	}
	ix.Reset(nil)
}

func copyRecord(rec *Record) Record {
	out := *rec
	out.MessageIDs = append([]string(nil), rec.MessageIDs...)
	return out
}
