package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueueProcessesInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string

	q := New(Config{Workers: 1, QueueSize: 16, RetryLimit: 0, RetryDelay: time.Millisecond},
		func(_ context.Context, msg *Message) error {
			mu.Lock()
			got = append(got, msg.Payload.(string))
			mu.Unlock()
			return nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(ctx, "item", fmt.Sprintf("p%d", i)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	q.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 5 {
		t.Fatalf("processed %d items, want 5", len(got))
	}
	for i, p := range got {
		if p != fmt.Sprintf("p%d", i) {
			t.Fatalf("order broken at %d: %v", i, got)
		}
	}
}

func TestQueueRetriesThenDrops(t *testing.T) {
	var attempts atomic.Int32
	q := New(Config{Workers: 1, QueueSize: 4, RetryLimit: 2, RetryDelay: time.Millisecond},
		func(_ context.Context, _ *Message) error {
			attempts.Add(1)
			return fmt.Errorf("downstream unavailable")
		})

	dropped := make(chan *Message, 1)
	q.OnDrop(func(msg *Message, _ error) { dropped <- msg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	if err := q.Enqueue(ctx, "checkpoint", "payload"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case msg := <-dropped:
		if msg.Attempts != 3 {
			t.Fatalf("attempts = %d, want 3 (initial + 2 retries)", msg.Attempts)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("message never dropped")
	}
	if attempts.Load() != 3 {
		t.Fatalf("handler invoked %d times, want 3", attempts.Load())
	}
	q.Close()
}
