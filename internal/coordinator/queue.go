package coordinator

import (
	"container/heap"

	"github.com/quantlab/orderflow/internal/domain"
)

// queued is a signal waiting for batched emission.
type queued struct {
	sig      domain.Signal
	priority float64
	index    int
}

// signalHeap orders queued signals by descending priority.
type signalHeap []*queued

func (h signalHeap) Len() int           { return len(h) }
func (h signalHeap) Less(i, j int) bool { return h[i].priority > h[j].priority }
func (h signalHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *signalHeap) Push(x any) {
	item := x.(*queued)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *signalHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// priorityQueue is a bounded max-heap of signals. It is not itself locked;
// the coordinator guards it with its own mutex.
type priorityQueue struct {
	heap     signalHeap
	capacity int
}

func newPriorityQueue(capacity int) *priorityQueue {
	return &priorityQueue{capacity: capacity}
}

func (q *priorityQueue) len() int   { return len(q.heap) }
func (q *priorityQueue) full() bool { return len(q.heap) >= q.capacity }

// push adds a signal; the caller must have ensured capacity.
func (q *priorityQueue) push(sig domain.Signal, priority float64) {
	heap.Push(&q.heap, &queued{sig: sig, priority: priority})
}

// pop removes and returns the highest-priority signal.
func (q *priorityQueue) pop() (domain.Signal, bool) {
	if len(q.heap) == 0 {
		return domain.Signal{}, false
	}
	item := heap.Pop(&q.heap).(*queued)
	return item.sig, true
}

// dropLowest evicts the lowest-priority signal and returns it. Returns false
// on an empty queue.
func (q *priorityQueue) dropLowest() (domain.Signal, bool) {
	if len(q.heap) == 0 {
		return domain.Signal{}, false
	}
	lowest := 0
	for i := 1; i < len(q.heap); i++ {
		if q.heap[i].priority < q.heap[lowest].priority {
			lowest = i
		}
	}
	item := heap.Remove(&q.heap, lowest).(*queued)
	return item.sig, true
}

// lowestPriority returns the priority of the weakest queued signal.
func (q *priorityQueue) lowestPriority() float64 {
	if len(q.heap) == 0 {
		return 0
	}
	low := q.heap[0].priority
	for _, item := range q.heap[1:] {
		if item.priority < low {
			low = item.priority
		}
	}
	return low
}

// penalize scales the confidence of queued signals matching the predicate;
// used by conflict resolution to demote contradicted signals without
// discarding them. reprice derives the new priority from the penalized
// signal so the base-priority component is preserved.
func (q *priorityQueue) penalize(match func(domain.Signal) bool, factor float64, reprice func(domain.Signal) float64) int {
	n := 0
	for _, item := range q.heap {
		if match(item.sig) {
			item.sig.Confidence = domain.ClampConfidence(item.sig.Confidence * (1 - factor))
			item.sig.ConflictPenalized = true
			item.priority = reprice(item.sig)
			n++
		}
	}
	if n > 0 {
		heap.Init(&q.heap)
	}
	return n
}
