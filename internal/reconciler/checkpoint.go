package reconciler

import "sync"

// blockTracker follows which blocks still have events in flight so the
// saved checkpoint never skips an unapplied event.
type blockTracker struct {
	mu       sync.Mutex
	inFlight map[uint64]int
	highest  uint64
	seen     bool
	dirty    bool
}

func newBlockTracker() *blockTracker {
	return &blockTracker{inFlight: make(map[uint64]int)}
}

func (t *blockTracker) begin(block uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inFlight[block]++
	if !t.seen || block > t.highest {
		t.highest = block
	}
	t.seen = true
}

func (t *blockTracker) done(block uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inFlight[block] <= 1 {
		delete(t.inFlight, block)
	} else {
		t.inFlight[block]--
	}
	t.dirty = true
}

func (t *blockTracker) watermark() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.watermarkLocked()
}

// watermarkLocked is the highest seen block when nothing is in flight,
// otherwise the block just below the oldest in-flight one.
func (t *blockTracker) watermarkLocked() (uint64, bool) {
	if !t.seen {
		return 0, false
	}
	if len(t.inFlight) == 0 {
		return t.highest, true
	}

	lowest := t.highest
	for block := range t.inFlight {
		if block < lowest {
			lowest = block
		}
	}
	if lowest == 0 {
		return 0, false
	}
	return lowest - 1, true
}

// dirtyWatermark returns the watermark only if it may have moved since the last call
func (t *blockTracker) dirtyWatermark() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.dirty {
		return 0, false
	}
	t.dirty = false
	return t.watermarkLocked()
}

func (t *blockTracker) markDirty() {
	t.mu.Lock()
	t.dirty = true
	t.mu.Unlock()
}
