package crawler

import (
	"container/heap"

	"github.com/JakeFAU/github-star-crawler/internal/partition"
)

// queueItem pairs a partition with the sequence number assigned at push time.
// The sequence is the final tie-break, which keeps popping order a total
// order regardless of how the underlying heap shuffles equal keys.
type queueItem struct {
	p   partition.Partition
	seq uint64
}

type partitionHeap []queueItem

func (h partitionHeap) Len() int { return len(h) }

func (h partitionHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.p.StarsMax != b.p.StarsMax {
		return a.p.StarsMax > b.p.StarsMax
	}
	if a.p.StarWidth() != b.p.StarWidth() {
		return a.p.StarWidth() < b.p.StarWidth()
	}
	if a.p.DateWidthDays() != b.p.DateWidthDays() {
		return a.p.DateWidthDays() < b.p.DateWidthDays()
	}
	return a.seq < b.seq
}

func (h partitionHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *partitionHeap) Push(x any) { *h = append(*h, x.(queueItem)) }

func (h *partitionHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// partitionQueue schedules partitions by expected value: highest star ceiling
// first, then narrower star ranges, then narrower date ranges, then FIFO.
type partitionQueue struct {
	h       partitionHeap
	nextSeq uint64
}

func newPartitionQueue() *partitionQueue {
	return &partitionQueue{}
}

func (q *partitionQueue) Push(p partition.Partition) {
	heap.Push(&q.h, queueItem{p: p, seq: q.nextSeq})
	q.nextSeq++
}

func (q *partitionQueue) Pop() partition.Partition {
	return heap.Pop(&q.h).(queueItem).p
}

func (q *partitionQueue) Len() int {
	return q.h.Len()
}
