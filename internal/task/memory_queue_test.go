package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryQueuePublishAfterClose(t *testing.T) {
	q := NewMemoryQueue(4)
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Publish(context.Background(), "task-1"); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	// 重复关闭应当安全。
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestMemoryQueuePublishConcurrentClose(t *testing.T) {
	// 队列关闭与投递并发进行时，Publish 必须返回 ErrQueueClosed 而不是 panic。
	for i := 0; i < 20; i++ {
		q := NewMemoryQueue(1)
		var wg sync.WaitGroup
		wg.Add(4)
		for w := 0; w < 3; w++ {
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					if err := q.Publish(context.Background(), "task"); err != nil {
						if !errors.Is(err, ErrQueueClosed) {
							t.Errorf("unexpected publish error: %v", err)
						}
						return
					}
				}
			}()
		}
		go func() {
			defer wg.Done()
			_ = q.Close()
		}()
		wg.Wait()
	}
}

func TestMemoryQueueConsumeDelivers(t *testing.T) {
	q := NewMemoryQueue(8)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan string, 8)
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, 2, func(_ context.Context, taskID string) error {
			received <- taskID
			return nil
		})
	}()

	if err := q.Publish(ctx, "task-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-received:
		if got != "task-1" {
			t.Fatalf("unexpected task: %q", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("task not consumed")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected consume error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("consume did not stop after cancel")
	}
}

func TestMemoryQueuePublishBlockedThenClosed(t *testing.T) {
	// 缓冲区满时阻塞的 Publish 应在队列关闭后立即返回。
	q := NewMemoryQueue(1)
	if err := q.Publish(context.Background(), "fill"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		result <- q.Publish(context.Background(), "blocked")
	}()

	time.Sleep(20 * time.Millisecond)
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-result:
		if !errors.Is(err, ErrQueueClosed) {
			t.Fatalf("expected ErrQueueClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("publish stayed blocked after close")
	}
}
