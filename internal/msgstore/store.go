// Package msgstore is the append-only arena holding every message observed on
// one kernel connection.
//
// Messages are addressed by arrival index. Parent links are kept as id ->
// []index tables and resolved at query time, so a child that arrives before
// its parent is picked up as soon as the parent is appended.
package msgstore

import (
	"iter"

	"github.com/daviddao/kernelspy_viewer/internal/kernelmsg"
)

// Store is not safe for concurrent use; the owning session serializes access.
type Store struct {
	msgs     []kernelmsg.Message
	byID     map[string]int
	children map[string][]int // declared parent id -> child indices, arrival order
}

// New returns an empty store.
func New() *Store {
	return &Store{
		byID:     make(map[string]int),
		children: make(map[string][]int),
	}
}

// Append adds msg and reports whether it was new. A repeated id is ignored
// without touching existing links.
func (s *Store) Append(msg kernelmsg.Message) bool {
	if _, dup := s.byID[msg.ID]; dup {
		return false
	}
	idx := len(s.msgs)
	s.msgs = append(s.msgs, msg)
	s.byID[msg.ID] = idx
	if msg.ParentID != "" && msg.ParentID != msg.ID {
		s.children[msg.ParentID] = append(s.children[msg.ParentID], idx)
	}
	return true
}

// Len is the number of stored messages.
func (s *Store) Len() int { return len(s.msgs) }

// ByID looks a message up by id.
func (s *Store) ByID(id string) (kernelmsg.Message, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return kernelmsg.Message{}, false
	}
	return s.msgs[idx], true
}

// Index returns the arrival index of id.
func (s *Store) Index(id string) (int, bool) {
	idx, ok := s.byID[id]
	return idx, ok
}

// At returns the message at arrival index i.
func (s *Store) At(i int) kernelmsg.Message { return s.msgs[i] }

// ChildrenOf returns the messages declaring id as parent, in arrival order.
func (s *Store) ChildrenOf(id string) []kernelmsg.Message {
	idxs := s.children[id]
	if len(idxs) == 0 {
		return nil
	}
	out := make([]kernelmsg.Message, len(idxs))
	for i, idx := range idxs {
		out[i] = s.msgs[idx]
	}
	return out
}

// ChildIndices is ChildrenOf by arrival index. The returned slice must not be
// modified.
func (s *Store) ChildIndices(id string) []int { return s.children[id] }

// HasChildren reports whether any stored message declares id as parent.
func (s *Store) HasChildren(id string) bool { return len(s.children[id]) > 0 }

// Resolved reports whether msg's parent is present in the store.
func (s *Store) Resolved(msg kernelmsg.Message) bool {
	if msg.ParentID == "" || msg.ParentID == msg.ID {
		return false
	}
	_, ok := s.byID[msg.ParentID]
	return ok
}

// Roots returns the arrival indices of messages with no resolvable parent,
// in arrival order.
func (s *Store) Roots() []int {
	var roots []int
	for i, m := range s.msgs {
		if !s.Resolved(m) {
			roots = append(roots, i)
		}
	}
	return roots
}

// All yields every message in arrival order.
func (s *Store) All() iter.Seq2[int, kernelmsg.Message] {
	return func(yield func(int, kernelmsg.Message) bool) {
		for i, m := range s.msgs {
			if !yield(i, m) {
				return
			}
		}
	}
}
