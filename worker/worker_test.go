package worker

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestPushRunsOnce(t *testing.T) {
	w := New()
	defer w.Halt()

	var ran atomic.Bool
	done := make(chan struct{})
	w.Push(func(user any, halting bool) bool {
		ran.Store(true)
		close(done)
		return false
	}, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}
	if !ran.Load() {
		t.Fatal("expected callback to have run")
	}
}

func TestRearmRunsRepeatedly(t *testing.T) {
	w := New()
	defer w.Halt()

	var count atomic.Int32
	done := make(chan struct{})
	w.Push(func(user any, halting bool) bool {
		n := count.Add(1)
		if n >= 3 {
			close(done)
			return false
		}
		return true
	}, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("rearm never reached target count")
	}
	if count.Load() != 3 {
		t.Fatalf("expected 3 runs, got %d", count.Load())
	}
}

func TestHaltDrainsAndJoins(t *testing.T) {
	w := New()

	var drained atomic.Bool
	w.Push(func(user any, halting bool) bool {
		if halting {
			drained.Store(true)
		}
		return true
	}, nil)

	w.Halt()
	if !drained.Load() {
		t.Fatal("expected remaining task to observe halting=true")
	}

	w.Push(func(user any, halting bool) bool {
		t.Fatal("push after halt must not run")
		return false
	}, nil)
}
