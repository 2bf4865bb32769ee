// Package snapshot builds immutable data snapshots from a kernel session.
//
// A DataSnapshot captures the thread forest, the cell records and the
// session counters at a point in time. Snapshots are rebuilt whenever new
// messages are ingested and swapped atomically into the UI model.
package snapshot

import (
	"time"

	"github.com/daviddao/kernelspy_viewer/internal/cellindex"
	"github.com/daviddao/kernelspy_viewer/internal/kernelmsg"
	"github.com/daviddao/kernelspy_viewer/internal/session"
	"github.com/daviddao/kernelspy_viewer/internal/threadtree"
)

// DataSnapshot is an immutable, self-contained view of one session.
type DataSnapshot struct {
	KernelID string
	Nodes    []threadtree.Node
	Cells    []cellindex.Record

	// Messages bucketed under each cell, in arrival order.
	CellMessages map[string][]kernelmsg.Message

	LastCompletion *cellindex.Completion

	// Counts.
	TotalMessages int
	Threads       int
	RunningCells  int
	DoneCells     int
	Dropped       int
	Duplicates    int
	Resets        int

	// Timestamp of snapshot creation.
	BuiltAt time.Time
}

// Build reads the session and returns a complete snapshot.
func Build(s *session.Session) (*DataSnapshot, error) {
	v, err := s.View()
	if err != nil {
		return nil, err
	}

	var running, done int
	for _, c := range v.Cells {
		if c.State == cellindex.StateClosed {
			done++
		} else {
			running++
		}
	}

	return &DataSnapshot{
		KernelID:       v.KernelID,
		Nodes:          v.Nodes,
		Cells:          v.Cells,
		CellMessages:   v.CellMessages,
		LastCompletion: v.LastCompletion,
		TotalMessages:  v.Stats.Messages,
		Threads:        v.Stats.Threads,
		RunningCells:   running,
		DoneCells:      done,
		Dropped:        v.Stats.Dropped,
		Duplicates:     v.Stats.Duplicates,
		Resets:         v.Stats.Resets,
		BuiltAt:        time.Now(),
	}, nil
}

// IsLatest reports whether cellID holds the most recently completed
// execution.
func (s *DataSnapshot) IsLatest(cellID string) bool {
	return s.LastCompletion != nil && s.LastCompletion.CellID == cellID
}

// Cell returns the record for cellID.
func (s *DataSnapshot) Cell(cellID string) (cellindex.Record, bool) {
	for _, c := range s.Cells {
		if c.CellID == cellID {
			return c, true
		}
	}
	return cellindex.Record{}, false
}
