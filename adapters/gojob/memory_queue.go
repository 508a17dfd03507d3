package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// MemoryQueue is an in-process queue.Enqueuer and queue.Dequeuer. Delayed
// requeues are re-enqueued by a timer; idempotency keys that are still
// pending are dropped on enqueue.
type MemoryQueue struct {
	mu          sync.Mutex
	ready       chan *job.ExecutionMessage
	pending     map[string]struct{}
	deadLetters []*job.ExecutionMessage
	closed      bool
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryQueue{
		ready:   make(chan *job.ExecutionMessage, capacity),
		pending: map[string]struct{}{},
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	if q == nil {
		return fmt.Errorf("gojob: memory queue is nil")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("gojob: memory queue is closed")
	}
	key := strings.TrimSpace(msg.IdempotencyKey)
	if key != "" {
		if _, exists := q.pending[key]; exists {
			return nil
		}
		q.pending[key] = struct{}{}
	}
	select {
	case q.ready <- msg:
		return nil
	default:
		delete(q.pending, key)
		return fmt.Errorf("gojob: memory queue is full")
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if q == nil {
		return nil, fmt.Errorf("gojob: memory queue is nil")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-q.ready:
		if !ok {
			return nil, fmt.Errorf("gojob: memory queue is closed")
		}
		return &memoryDelivery{queue: q, msg: msg}, nil
	}
}

// DeadLetters returns the messages nacked to the dead letter queue.
func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.deadLetters...)
}

func (q *MemoryQueue) Len() int {
	return len(q.ready)
}

func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ready)
}

func (q *MemoryQueue) settle(msg *job.ExecutionMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, strings.TrimSpace(msg.IdempotencyKey))
}

func (q *MemoryQueue) deadLetter(msg *job.ExecutionMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, strings.TrimSpace(msg.IdempotencyKey))
	q.deadLetters = append(q.deadLetters, msg)
}

func (q *MemoryQueue) requeue(msg *job.ExecutionMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.ready <- msg:
	default:
		q.deadLetters = append(q.deadLetters, msg)
	}
}

type memoryDelivery struct {
	queue *MemoryQueue
	msg   *job.ExecutionMessage
	once  sync.Once
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.once.Do(func() {
		d.queue.settle(d.msg)
	})
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	d.once.Do(func() {
		switch {
		case opts.DeadLetter:
			d.queue.deadLetter(d.msg)
		case opts.Requeue && opts.Delay > 0:
			msg := d.msg
			time.AfterFunc(opts.Delay, func() {
				d.queue.requeue(msg)
			})
		case opts.Requeue:
			d.queue.requeue(d.msg)
		default:
			d.queue.settle(d.msg)
		}
	})
	return nil
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
