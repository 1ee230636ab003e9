// Package mq implements the tagged message queue that every producer in
// sdrcore (sources, inspectors, the local analyzer, the remote-call
// session) uses to hand payloads to a consumer without the consumer
// busy-polling: source status, PSD vectors, sample batches, and control
// replies all travel as (Type, Payload) pairs through a Queue.
package mq

import (
	"context"
	"sync"
	"time"
)

// Message is a single tagged payload. Type identifies the payload's shape
// (the concrete set of types is defined by each queue's consumer, e.g.
// the analyzer package's message-type enum); Payload is the owned value —
// ownership transfers to the queue on Write and to the caller on Read.
type Message struct {
	Type    int
	Payload any
}

// Disposer releases resources held by a message payload that Finalize
// drains without a reader ever claiming it.
type Disposer func(Message)

// Queue is a thread-safe FIFO of Messages, guarded by a mutex and a
// condition variable: writers never block, and readers wait on the cond
// var, which is signaled once per write. The queue gives no ordering
// guarantee across concurrent writers, but messages from a single writer
// are delivered in write order.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	messages []Message
	closed   bool
}

// New returns an empty Queue.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Write enqueues msg and wakes one waiting reader. Write never blocks.
func (q *Queue) Write(msg Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.messages = append(q.messages, msg)
	q.cond.Signal()
}

// Read blocks until a message is available or ctx is done.
func (q *Queue) Read(ctx context.Context) (Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ctx != nil {
		stop := context.AfterFunc(ctx, q.cond.Broadcast)
		defer stop()
	}

	for len(q.messages) == 0 {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return Message{}, ctx.Err()
			default:
			}
		}
		q.cond.Wait()
	}
	return q.pop(), nil
}

// ReadTimeout blocks up to d for a message. It reports ok == false if the
// deadline elapses first.
func (q *Queue) ReadTimeout(d time.Duration) (msg Message, ok bool) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	m, err := q.Read(ctx)
	if err != nil {
		return Message{}, false
	}
	return m, true
}

// Poll performs a non-blocking check for a message.
func (q *Queue) Poll() (msg Message, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return Message{}, false
	}
	return q.pop(), true
}

// Wait blocks up to timeout for a message whose Type is in tagSet. A
// message encountered whose Type is not in tagSet is left in the queue in
// its original position, preserving FIFO order for later readers.
func (q *Queue) Wait(tagSet map[int]bool, timeout time.Duration) (msg Message, ok bool) {
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		for i, m := range q.messages {
			if tagSet[m.Type] {
				q.messages = append(q.messages[:i], q.messages[i+1:]...)
				return m, true
			}
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Message{}, false
		}
		timer := time.AfterFunc(remaining, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		q.cond.Wait()
		timer.Stop()
		if time.Now().After(deadline) && len(q.messages) == 0 {
			return Message{}, false
		}
	}
}

// Finalize drains every remaining message, invoking disposer on each
// payload, and marks the queue closed so further writes are dropped.
func (q *Queue) Finalize(disposer Disposer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range q.messages {
		if disposer != nil {
			disposer(m)
		}
	}
	q.messages = nil
	q.closed = true
	q.cond.Broadcast()
}

// Len reports the number of messages currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

func (q *Queue) pop() Message {
	m := q.messages[0]
	q.messages = q.messages[1:]
	return m
}
