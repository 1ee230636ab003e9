package tonegen

import (
	"context"
	"sync"
	"time"
)

// throttle paces sample delivery to real time: it tracks how many
// samples a wall-clock interval "should" have produced at sampRate and
// only releases that many per call, blocking (briefly sleeping) when
// the caller is ahead of real time. Mirrors suscan_throttle's
// get_portion/advance pair.
type throttle struct {
	sampRate float64

	mu       sync.Mutex
	start    time.Time
	consumed uint64
	wakeCh   chan struct{}
}

func newThrottle(sampRate float64) *throttle {
	return &throttle{
		sampRate: sampRate,
		start:    time.Now(),
		wakeCh:   make(chan struct{}, 1),
	}
}

func (t *throttle) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start = time.Now()
	t.consumed = 0
}

// wait blocks until at least one sample's worth of real time has
// elapsed since the last advance, then returns how many of max samples
// (up to max) may be emitted.
func (t *throttle) wait(ctx context.Context, max int) (int, error) {
	for {
		n := t.portion(max)
		if n > 0 {
			return n, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-t.wakeCh:
			return 0, nil
		case <-time.After(time.Millisecond):
		}
	}
}

func (t *throttle) portion(max int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.start).Seconds()
	allowed := uint64(elapsed * t.sampRate)
	if allowed <= t.consumed {
		return 0
	}
	avail := allowed - t.consumed
	if avail > uint64(max) {
		avail = uint64(max)
	}
	return int(avail)
}

func (t *throttle) advance(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consumed += uint64(n)
}

// wake unblocks a goroutine parked in wait, used by Cancel.
func (t *throttle) wake() {
	select {
	case t.wakeCh <- struct{}{}:
	default:
	}
}
