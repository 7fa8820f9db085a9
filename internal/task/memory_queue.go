package task

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed 表示向已关闭的队列投递任务。
var ErrQueueClosed = errors.New("任务队列已关闭")

// MemoryQueue 是基于带缓冲 channel 的进程内队列，默认驱动，
// 也用于测试。不提供跨进程持久化。
type MemoryQueue struct {
	tasks chan string
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue 创建内存队列，size 不合法时回退到 64。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		tasks: make(chan string, size),
		done:  make(chan struct{}),
	}
}

// Publish 投递任务 ID，缓冲区满时阻塞直到消费、队列关闭或 ctx 取消。
// 关闭通过 done 信号广播，tasks channel 始终不关闭，
// 避免并发 Close 触发向已关闭 channel 发送。
func (q *MemoryQueue) Publish(ctx context.Context, taskID string) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	case q.tasks <- taskID:
		return nil
	}
}

// Consume 启动 workerCount 个协程处理任务，阻塞直到 ctx 取消且
// 所有协程退出。处理失败的任务不在这里重投，由 Handler 自行决定。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case taskID := <-q.tasks:
					_ = handler(ctx, taskID)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close 关闭队列，重复调用安全。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.done)
		q.closed = true
	}
	return nil
}
