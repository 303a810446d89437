// Package timerheap implements the idle-connection reaper used by the
// reactor: a min-heap of deadlines with lazy invalidation, so refreshing
// a connection's timer never requires reheapifying the old entry.
package timerheap

import (
	"container/heap"
	"time"
)

// Handle is an opaque reference to a live entry in the heap. It stays
// valid until the entry fires or is cancelled.
type Handle struct {
	node *node
}

// node is one scheduled deadline. valid is flipped to false by Cancel
// instead of removing the node from the underlying slice, so Cancel is
// O(1); the tombstone is skipped the next time Tick walks past it.
type node struct {
	deadline time.Time
	valid    bool
	action   func()
	index    int // maintained by container/heap
}

type nodeHeap []*node

func (h nodeHeap) Len() int           { return len(h) }
func (h nodeHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h nodeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *nodeHeap) Push(x any) {
	n := x.(*node)
	n.index = len(*h)
	*h = append(*h, n)
}

func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Heap is a min-heap of deadlines. It is not safe for concurrent use;
// a caller that shares it across goroutines must serialize access.
type Heap struct {
	now  func() time.Time
	heap nodeHeap
}

// New creates an empty timer heap. now is injected so tests can control
// the clock; production callers pass time.Now.
func New(now func() time.Time) *Heap {
	if now == nil {
		now = time.Now
	}
	return &Heap{now: now}
}

// Len reports the number of entries still in the heap, including
// cancelled tombstones that Tick has not yet popped.
func (h *Heap) Len() int {
	return len(h.heap)
}

// Add schedules action to run delay after now and returns a handle that
// Cancel or Refresh can later reference.
func (h *Heap) Add(delay time.Duration, action func()) Handle {
	n := &node{
		deadline: h.now().Add(delay),
		valid:    true,
		action:   action,
	}
	heap.Push(&h.heap, n)
	return Handle{node: n}
}

// Cancel marks the handle's entry invalid. It is O(1) and never
// reheapifies; the tombstone is collected lazily by Tick.
func Cancel(hnd Handle) {
	if hnd.node != nil {
		hnd.node.valid = false
	}
}

// Refresh is equivalent to Cancel(handle) followed by Add(delay,
// action) for the same action the handle was created with, and returns
// the new handle. Per spec.md's invariant, the caller must discard the
// old handle; it no longer refers to a live entry.
func (h *Heap) Refresh(hnd Handle, delay time.Duration) Handle {
	var action func()
	if hnd.node != nil {
		action = hnd.node.action
		hnd.node.valid = false
	}
	return h.Add(delay, action)
}

// Tick fires and removes every root whose deadline has passed,
// discarding tombstones along the way, and stops at the first live
// entry whose deadline is still in the future.
func (h *Heap) Tick() {
	now := h.now()
	for h.heap.Len() > 0 {
		top := h.heap[0]
		if !top.valid {
			heap.Pop(&h.heap)
			continue
		}
		if top.deadline.After(now) {
			return
		}
		heap.Pop(&h.heap)
		if top.action != nil {
			top.action()
		}
	}
}
