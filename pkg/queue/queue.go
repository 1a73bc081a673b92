package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Handler processes one message. A non-nil error triggers a retry until the
// retry limit is exhausted.
type Handler func(ctx context.Context, msg *Message) error

// Config contains the configuration for the queue.
type Config struct {
	Workers    int           // number of workers
	QueueSize  int           // size of the buffered queue
	RetryLimit int           // number of maximum retries
	RetryDelay time.Duration // base delay between retries, doubled per attempt
}

// Message represents a unit of work in the queue.
type Message struct {
	ID        string
	Type      string
	Payload   interface{}
	Attempts  int
	Timestamp time.Time
}

// DropHandler is invoked when a message exhausts its retries.
type DropHandler func(msg *Message, err error)

// Queue is a bounded in-memory work queue with retrying workers. Enqueue
// applies backpressure when the buffer is full.
type Queue struct {
	cfg    Config
	ch     chan *Message
	handle Handler
	onDrop DropHandler

	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// New creates a queue with the given handler.
func New(cfg Config, handler Handler) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	return &Queue{cfg: cfg, ch: make(chan *Message, cfg.QueueSize), handle: handler}
}

// OnDrop registers a callback for messages that exhaust their retries.
func (q *Queue) OnDrop(fn DropHandler) { q.onDrop = fn }

// Start launches the worker pool. Safe to call once.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-q.ch:
			if !ok {
				return
			}
			q.process(ctx, msg)
		}
	}
}

func (q *Queue) process(ctx context.Context, msg *Message) {
	delay := q.cfg.RetryDelay
	for {
		msg.Attempts++
		err := q.handle(ctx, msg)
		if err == nil {
			return
		}
		if msg.Attempts > q.cfg.RetryLimit {
			if q.onDrop != nil {
				q.onDrop(msg, err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// Enqueue submits work, blocking while the buffer is full.
func (q *Queue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	msg := &Message{
		ID:        fmt.Sprintf("%s-%d", msgType, time.Now().UnixNano()),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- msg:
		return nil
	}
}

// Close drains outstanding work and stops the workers.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	q.mu.Unlock()
	close(q.ch)
	q.wg.Wait()
}
