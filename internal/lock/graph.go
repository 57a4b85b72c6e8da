package lock

import "slices"

// The wait-for graph is not stored separately: its nodes are the owners in
// m.waiting and the edges of a queued request are derived from the lock table
// by blockersOf. Deriving them keeps the edges exact as holders come and go.

// blockersOf returns the distinct owners w waits for, sorted: holders whose
// mode conflicts with w and conflicting requests queued ahead of w.
func (m *Manager) blockersOf(e *entry, w *waiter) []OwnerID {
	var blockers []OwnerID

	add := func(o OwnerID) {
		if o != w.owner && !slices.Contains(blockers, o) {
			blockers = append(blockers, o)
		}
	}

	for owner, h := range e.holders {
		if !compatible(w.mode, h.mode) {
			add(owner)
		}
	}

	for _, ahead := range e.queue[:position(e, w)] {
		if !compatible(w.mode, ahead.mode) {
			add(ahead.owner)
		}
	}

	slices.Sort(blockers)

	return blockers
}

// reaches walks the wait-for graph depth first from the given owners and
// reports whether target is reachable. It runs in O(V+E).
func (m *Manager) reaches(from []OwnerID, target OwnerID) bool {
	visited := make(map[OwnerID]struct{}, len(m.waiting))
	stack := slices.Clone(from)

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if n == target {
			return true
		}

		if _, ok := visited[n]; ok {
			continue
		}

		visited[n] = struct{}{}

		for w := range m.waiting[n] {
			stack = append(stack, m.blockersOf(m.locks[w.resource], w)...)
		}
	}

	return false
}

// position is the index w has, or would have once queued, in e's queue.
func position(e *entry, w *waiter) int {
	if i := slices.Index(e.queue, w); i >= 0 {
		return i
	}

	if !w.upgrade {
		return len(e.queue)
	}

	i := 0
	for i < len(e.queue) && e.queue[i].upgrade {
		i++
	}

	return i
}
