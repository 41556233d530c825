package detect

import "time"

// ring is a fixed-capacity timestamp buffer. Pushing past capacity
// overwrites the oldest entry.
type ring struct {
	buf  []time.Time
	head int
	n    int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]time.Time, capacity)}
}

func (r *ring) push(ts time.Time) {
	r.buf[(r.head+r.n)%len(r.buf)] = ts
	if r.n < len(r.buf) {
		r.n++
		return
	}
	r.head = (r.head + 1) % len(r.buf)
}

// countSince returns how many buffered timestamps fall at or after the cutoff.
func (r *ring) countSince(cutoff time.Time) int32 {
	var count int32
	for i := 0; i < r.n; i++ {
		if !r.buf[(r.head+i)%len(r.buf)].Before(cutoff) {
			count++
		}
	}
	return count
}

// addressWindows keeps one bounded timestamp ring per address.
type addressWindows struct {
	capacity int
	rings    map[string]*ring
}

func newAddressWindows(capacity int) *addressWindows {
	return &addressWindows{capacity: capacity, rings: make(map[string]*ring)}
}

// observe records one timestamp for the address and returns how many entries
// sit inside the window ending at that timestamp.
func (w *addressWindows) observe(addr string, ts time.Time, window time.Duration) int32 {
	r, ok := w.rings[addr]
	if !ok {
		r = newRing(w.capacity)
		w.rings[addr] = r
	}
	r.push(ts)
	return r.countSince(ts.Add(-window))
}
