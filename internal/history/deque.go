package history

import "math/big"

type entry struct {
	seq uint64
	val *big.Int
}

// deque is a slice-backed double-ended queue. Popped front slots are reclaimed
// once they make up half of the backing array.
type deque struct {
	items []entry
	start int
}

func (d *deque) len() int { return len(d.items) - d.start }

func (d *deque) front() entry { return d.items[d.start] }

func (d *deque) back() entry { return d.items[len(d.items)-1] }

func (d *deque) pushBack(e entry) { d.items = append(d.items, e) }

func (d *deque) popBack() {
	d.items[len(d.items)-1] = entry{}
	d.items = d.items[:len(d.items)-1]
	if d.len() == 0 {
		d.items = d.items[:0]
		d.start = 0
	}
}

func (d *deque) popFront() {
	d.items[d.start] = entry{}
	d.start++
	if d.len() == 0 {
		d.items = d.items[:0]
		d.start = 0
		return
	}
	if d.start >= len(d.items)/2 && d.start > 32 {
		n := copy(d.items, d.items[d.start:])
		for i := n; i < len(d.items); i++ {
			d.items[i] = entry{}
		}
		d.items = d.items[:n]
		d.start = 0
	}
}
