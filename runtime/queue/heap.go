package queue

// heapItem is one ready-heap entry. Tasks are referenced by id; the heap
// never owns task state.
type heapItem struct {
	priority int
	seq      int64
	id       string
}

// taskHeap is a min-heap keyed by (priority, insertion sequence): lower
// priority values dispatch first, ties dispatch in insertion order.
type taskHeap []*heapItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*heapItem)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
