// Package threadtree derives the depth-annotated, collapsible thread forest
// of a message store.
//
// Nothing here is cached: every Walk reflects the store contents and collapse
// state at the time it runs.
package threadtree

import (
	"iter"
	"slices"

	"github.com/daviddao/kernelspy_viewer/internal/kernelmsg"
	"github.com/daviddao/kernelspy_viewer/internal/msgstore"
)

// Node is one visited message. Depth is 0 for a thread root, so a consumer
// can detect thread boundaries by Depth == 0.
type Node struct {
	Message     kernelmsg.Message
	Depth       int
	HasChildren bool
	Collapsed   bool
}

// CollapseState records which messages the user folded, keyed by message id.
type CollapseState map[string]bool

// Toggle flips the state of id and returns the new value.
func (c CollapseState) Toggle(id string) bool {
	c[id] = !c[id]
	if !c[id] {
		delete(c, id)
	}
	return c[id]
}

// IsCollapsed is false for ids never toggled.
func (c CollapseState) IsCollapsed(id string) bool { return c[id] }

type frame struct {
	idx   int
	depth int
}

// Walk yields a depth-first pre-order pass over the forest, starting from
// every message without a resolvable parent in arrival order. Children of a
// collapsed message are skipped; the message itself is still yielded.
func Walk(s *msgstore.Store, collapsed CollapseState) iter.Seq[Node] {
	return func(yield func(Node) bool) {
		visited := make(map[int]bool, s.Len())
		var stack []frame
		for _, root := range rootIndices(s) {
			stack = append(stack[:0], frame{idx: root})
			for len(stack) > 0 {
				f := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if visited[f.idx] {
					continue
				}
				visited[f.idx] = true

				m := s.At(f.idx)
				n := Node{
					Message:     m,
					Depth:       f.depth,
					HasChildren: s.HasChildren(m.ID),
					Collapsed:   collapsed.IsCollapsed(m.ID),
				}
				if !yield(n) {
					return
				}
				if n.Collapsed {
					continue
				}
				kids := s.ChildIndices(m.ID)
				for i := len(kids) - 1; i >= 0; i-- {
					stack = append(stack, frame{idx: kids[i], depth: f.depth + 1})
				}
			}
		}
	}
}

// Flatten materializes one Walk.
func Flatten(s *msgstore.Store, collapsed CollapseState) []Node {
	var out []Node
	for n := range Walk(s, collapsed) {
		out = append(out, n)
	}
	return out
}

// rootIndices returns the thread roots in arrival order: messages whose
// parent is unknown, plus the earliest member of every parent cycle so that
// messages trapped in one are still reachable.
func rootIndices(s *msgstore.Store) []int {
	roots := s.Roots()
	if cyc := cycleRoots(s); len(cyc) > 0 {
		roots = append(roots, cyc...)
		slices.Sort(roots)
	}
	return roots
}

const (
	unknown int8 = iota
	reachable
)

func cycleRoots(s *msgstore.Store) []int {
	state := make([]int8, s.Len())
	var roots []int
	for i := range state {
		if state[i] != unknown {
			continue
		}
		var path []int
		onPath := make(map[int]int)
		cur := i
		for {
			if state[cur] != unknown {
				break
			}
			if pos, ok := onPath[cur]; ok {
				roots = append(roots, slices.Min(path[pos:]))
				break
			}
			onPath[cur] = len(path)
			path = append(path, cur)
			m := s.At(cur)
			if !s.Resolved(m) {
				break
			}
			cur, _ = s.Index(m.ParentID)
		}
		for _, p := range path {
			state[p] = reachable
		}
	}
	slices.Sort(roots)
	return roots
}
