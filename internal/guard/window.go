package guard

import "time"

const windowCapacity = 60

// window is a fixed-capacity ring of timestamps, oldest first.
// Pushing into a full window drops the oldest entry.
type window struct {
	buf   [windowCapacity]time.Time
	head  int
	count int
}

func (w *window) push(t time.Time) {
	if w.count == windowCapacity {
		w.buf[w.head] = t
		w.head = (w.head + 1) % windowCapacity
		return
	}
	w.buf[(w.head+w.count)%windowCapacity] = t
	w.count++
}

// evict drops entries more than span older than now.
func (w *window) evict(now time.Time, span time.Duration) {
	for w.count > 0 && now.Sub(w.buf[w.head]) > span {
		w.buf[w.head] = time.Time{}
		w.head = (w.head + 1) % windowCapacity
		w.count--
	}
}

func (w *window) len() int { return w.count }
