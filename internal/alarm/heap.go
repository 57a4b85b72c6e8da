package alarm

import "container/heap"

// alarmHeap is a min-heap of pending alarms ordered by fire time, then by
// scheduling sequence so equal fire times pop in scheduling order.
type alarmHeap []*Alarm

func (h alarmHeap) Len() int { return len(h) }

func (h alarmHeap) Less(i, j int) bool {
	if h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].seq < h[j].seq
	}

	return h[i].fireAt.Before(h[j].fireAt)
}

func (h alarmHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *alarmHeap) Push(x any) {
	a := x.(*Alarm) //nolint:forcetypeassert // Only *Alarm is ever pushed.
	a.index = len(*h)
	*h = append(*h, a)
}

func (h *alarmHeap) Pop() any {
	old := *h
	n := len(old)
	a := old[n-1]
	old[n-1] = nil
	a.index = -1
	*h = old[:n-1]

	return a
}

// peek returns the earliest alarm or nil.
func (h alarmHeap) peek() *Alarm {
	if len(h) == 0 {
		return nil
	}

	return h[0]
}

// push adds a to the heap.
func (h *alarmHeap) push(a *Alarm) {
	heap.Push(h, a)
}

// pop removes and returns the earliest alarm.
func (h *alarmHeap) pop() *Alarm {
	return heap.Pop(h).(*Alarm) //nolint:forcetypeassert // Only *Alarm is ever pushed.
}

// remove deletes a in O(log n) using its tracked index.
func (h *alarmHeap) remove(a *Alarm) {
	if a.index >= 0 && a.index < len(*h) && (*h)[a.index] == a {
		heap.Remove(h, a.index)
	}
}
