// Package backoff implements the Min-Heap timer that delays retry
// re-insertion of failed messages.
//
// The Timer goroutine peeks at the heap root (the soonest-due retry), sleeps
// until that point, then pops and fires the readyFn callback. A buffered
// notify channel lets Schedule() interrupt the sleep early whenever a newly
// added retry is due sooner than the current root.
package backoff

import "container/heap"

// item is one entry in the backoff Min-Heap.
type item struct {
	id      string // message ULID
	readyAt int64  // UTC milliseconds — sort key

	// heapIdx is the item's current position in the heap slice.
	// Maintained by minHeap.Swap so Cancel can heap.Remove in O(log N).
	heapIdx int

	// cancelled marks an item for lazy deletion.
	// Cancelled items are discarded by the goroutine instead of delivered.
	cancelled bool
}

// minHeap is a slice of *item that satisfies heap.Interface.
// The smallest readyAt sits at index 0 (Min-Heap).
type minHeap []*item

func (h minHeap) Len() int { return len(h) }

func (h minHeap) Less(i, j int) bool {
	return h[i].readyAt < h[j].readyAt
}

func (h minHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *minHeap) Push(x any) {
	n := len(*h)
	it := x.(*item)
	it.heapIdx = n
	*h = append(*h, it)
}

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil  // allow GC
	it.heapIdx = -1 // mark as not in heap
	*h = old[:n-1]
	return it
}

// remove removes the item at position idx and re-heapifies in O(log N).
func (h *minHeap) remove(idx int) *item {
	return heap.Remove(h, idx).(*item)
}
