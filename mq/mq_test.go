package mq

import (
	"context"
	"testing"
	"time"
)

func TestWriteReadFIFO(t *testing.T) {
	q := New()
	q.Write(Message{Type: 1, Payload: "a"})
	q.Write(Message{Type: 2, Payload: "b"})

	m, err := q.Read(context.Background())
	if err != nil || m.Payload != "a" {
		t.Fatalf("got %+v err=%v", m, err)
	}
	m, err = q.Read(context.Background())
	if err != nil || m.Payload != "b" {
		t.Fatalf("got %+v err=%v", m, err)
	}
}

func TestReadBlocksUntilWrite(t *testing.T) {
	q := New()
	done := make(chan Message, 1)
	go func() {
		m, err := q.Read(context.Background())
		if err != nil {
			t.Error(err)
			return
		}
		done <- m
	}()

	time.Sleep(20 * time.Millisecond)
	q.Write(Message{Type: 7, Payload: 42})

	select {
	case m := <-done:
		if m.Type != 7 || m.Payload != 42 {
			t.Fatalf("unexpected message: %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for read")
	}
}

func TestReadTimeoutExpires(t *testing.T) {
	q := New()
	_, ok := q.ReadTimeout(10 * time.Millisecond)
	if ok {
		t.Fatal("expected timeout on empty queue")
	}
}

func TestPollNonBlocking(t *testing.T) {
	q := New()
	if _, ok := q.Poll(); ok {
		t.Fatal("expected no message")
	}
	q.Write(Message{Type: 1, Payload: "x"})
	m, ok := q.Poll()
	if !ok || m.Payload != "x" {
		t.Fatalf("got %+v ok=%v", m, ok)
	}
}

func TestWaitSkipsUnmatchedAndPreservesOrder(t *testing.T) {
	q := New()
	q.Write(Message{Type: 1, Payload: "skip-me"})
	q.Write(Message{Type: 2, Payload: "match-me"})

	m, ok := q.Wait(map[int]bool{2: true}, 100*time.Millisecond)
	if !ok || m.Payload != "match-me" {
		t.Fatalf("got %+v ok=%v", m, ok)
	}

	left, err := q.Read(context.Background())
	if err != nil || left.Payload != "skip-me" {
		t.Fatalf("expected leftover skip-me, got %+v err=%v", left, err)
	}
}

func TestWaitTimesOut(t *testing.T) {
	q := New()
	q.Write(Message{Type: 1, Payload: "irrelevant"})
	_, ok := q.Wait(map[int]bool{99: true}, 20*time.Millisecond)
	if ok {
		t.Fatal("expected timeout")
	}
}

func TestFinalizeDrainsAndDisposes(t *testing.T) {
	q := New()
	q.Write(Message{Type: 1, Payload: "a"})
	q.Write(Message{Type: 2, Payload: "b"})

	var disposed []any
	q.Finalize(func(m Message) {
		disposed = append(disposed, m.Payload)
	})

	if len(disposed) != 2 {
		t.Fatalf("expected 2 disposed, got %v", disposed)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue after finalize, got %d", q.Len())
	}
}
