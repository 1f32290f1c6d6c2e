// Package queue provides a bounded priority queue for top-k candidate
// tracking during matrix scans.
package queue

// Item is one scored candidate row.
type Item struct {
	Row   uint32  // Row offset in the embedding matrix.
	Score float32 // Cosine similarity score.
}

// TopK retains the k best candidates seen so far.
//
// Internally it is a min-heap ordered by (score asc, row desc), so the root is
// always the candidate that would be evicted next: the lowest score, and among
// equal scores the highest row offset. This makes "lowest row offset wins"
// tie-breaking fall out of the eviction rule.
type TopK struct {
	k     int
	items []Item
}

// NewTopK creates a bounded top-k queue. k must be positive.
func NewTopK(k int) *TopK {
	return &TopK{
		k:     k,
		items: make([]Item, 0, k),
	}
}

// Len returns the number of retained candidates.
func (q *TopK) Len() int { return len(q.items) }

// Worst returns the current eviction candidate.
func (q *TopK) Worst() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

// beats reports whether a should be retained over b.
func beats(a, b Item) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Row < b.Row
}

// Push offers a candidate. If the queue is full, the candidate replaces the
// worst retained item only when it beats it.
func (q *TopK) Push(it Item) {
	if len(q.items) < q.k {
		q.items = append(q.items, it)
		q.siftUp(len(q.items) - 1)
		return
	}
	if !beats(it, q.items[0]) {
		return
	}
	q.items[0] = it
	q.siftDown(0)
}

// Drain empties the queue and returns items sorted best-first:
// descending score, ties broken by ascending row offset.
func (q *TopK) Drain() []Item {
	out := make([]Item, len(q.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = q.pop()
	}
	return out
}

func (q *TopK) pop() Item {
	n := len(q.items)
	root := q.items[0]
	last := q.items[n-1]
	q.items = q.items[:n-1]
	if n-1 > 0 {
		q.items[0] = last
		q.siftDown(0)
	}
	return root
}

// less orders the heap so the worst candidate is at the root.
func (q *TopK) less(i, j int) bool {
	return beats(q.items[j], q.items[i])
}

func (q *TopK) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !q.less(i, p) {
			return
		}
		q.items[i], q.items[p] = q.items[p], q.items[i]
		i = p
	}
}

func (q *TopK) siftDown(i int) {
	n := len(q.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && q.less(r, l) {
			best = r
		}
		if !q.less(best, i) {
			return
		}
		q.items[i], q.items[best] = q.items[best], q.items[i]
		i = best
	}
}
