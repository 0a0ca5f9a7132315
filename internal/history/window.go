package history

import (
	"math/big"
	"sync"
)

// DefaultCapacity is the number of samples retained per source when no size is configured.
const DefaultCapacity = 1000

// Stats summarises the values currently held by a Window.
type Stats struct {
	Count  int
	Max    *big.Int
	Min    *big.Int
	Mean   *big.Int   // floor of the arithmetic mean
	StdDev *big.Float // population standard deviation, display only
}

// Window is a bounded FIFO history of non-negative magnitudes.
//
// Extrema are tracked with monotonic deques so Stats never rescans the buffer,
// and the mean/deviation come from exact integer running sums.
type Window struct {
	mu sync.RWMutex

	buf   []*big.Int
	head  int // index of the oldest value
	size  int
	seq   uint64 // sequence number of the next appended value
	maxQ  deque
	minQ  deque
	sum   *big.Int
	sumSq *big.Int
}

// New creates a window retaining at most capacity values.
func New(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		buf:   make([]*big.Int, capacity),
		sum:   new(big.Int),
		sumSq: new(big.Int),
	}
}

// Append stores a copy of v, evicting the oldest value when the window is full.
// Negative or nil values are ignored.
func (w *Window) Append(v *big.Int) {
	if v == nil || v.Sign() < 0 {
		return
	}
	val := new(big.Int).Set(v)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size == len(w.buf) {
		w.evictLocked()
	}

	idx := (w.head + w.size) % len(w.buf)
	w.buf[idx] = val
	w.size++

	seq := w.seq
	w.seq++

	for w.maxQ.len() > 0 && w.maxQ.back().val.Cmp(val) <= 0 {
		w.maxQ.popBack()
	}
	w.maxQ.pushBack(entry{seq: seq, val: val})

	for w.minQ.len() > 0 && w.minQ.back().val.Cmp(val) >= 0 {
		w.minQ.popBack()
	}
	w.minQ.pushBack(entry{seq: seq, val: val})

	w.sum.Add(w.sum, val)
	w.sumSq.Add(w.sumSq, new(big.Int).Mul(val, val))
}

func (w *Window) evictLocked() {
	old := w.buf[w.head]
	oldSeq := w.seq - uint64(w.size)

	w.buf[w.head] = nil
	w.head = (w.head + 1) % len(w.buf)
	w.size--

	if w.maxQ.len() > 0 && w.maxQ.front().seq == oldSeq {
		w.maxQ.popFront()
	}
	if w.minQ.len() > 0 && w.minQ.front().seq == oldSeq {
		w.minQ.popFront()
	}

	w.sum.Sub(w.sum, old)
	w.sumSq.Sub(w.sumSq, new(big.Int).Mul(old, old))
}

// Stats returns the current extrema, mean and deviation. ok is false for an empty window.
func (w *Window) Stats() (Stats, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.size == 0 {
		return Stats{}, false
	}

	n := big.NewInt(int64(w.size))
	mean := new(big.Int).Quo(w.sum, n)

	// n²·σ² = n·Σv² − (Σv)²
	variance := new(big.Int).Mul(n, w.sumSq)
	variance.Sub(variance, new(big.Int).Mul(w.sum, w.sum))
	if variance.Sign() < 0 {
		variance.SetInt64(0)
	}
	std := new(big.Float).SetPrec(128).SetInt(variance)
	std.Sqrt(std)
	std.Quo(std, new(big.Float).SetPrec(128).SetInt(n))

	return Stats{
		Count:  w.size,
		Max:    new(big.Int).Set(w.maxQ.front().val),
		Min:    new(big.Int).Set(w.minQ.front().val),
		Mean:   mean,
		StdDev: std,
	}, true
}

// Values returns a copy of the retained values, oldest first.
func (w *Window) Values() []*big.Int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]*big.Int, 0, w.size)
	for i := 0; i < w.size; i++ {
		out = append(out, new(big.Int).Set(w.buf[(w.head+i)%len(w.buf)]))
	}
	return out
}

// Len reports the number of retained values.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.size
}

// Cap reports the maximum number of retained values.
func (w *Window) Cap() int {
	return len(w.buf)
}
