package worker

// fileItem is one schedulable file. Ordering is priority desc, then job
// enqueue order, then file position.
type fileItem struct {
	jobID    string
	fileIdx  int
	priority int
	jobSeq   uint64
}

// fileHeap implements container/heap.Interface.
type fileHeap []*fileItem

func (h fileHeap) Len() int { return len(h) }

func (h fileHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	if a.jobSeq != b.jobSeq {
		return a.jobSeq < b.jobSeq
	}
	return a.fileIdx < b.fileIdx
}

func (h fileHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *fileHeap) Push(x any) { *h = append(*h, x.(*fileItem)) }

func (h *fileHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
