package task

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"ModelRelay/internal/agent"
	xerrors "ModelRelay/internal/errors"
)

type fakeExecutor struct {
	processed atomic.Int32
	failures  atomic.Int32
	failFirst int32
	latency   time.Duration
}

func (f *fakeExecutor) Execute(ctx context.Context, req agent.ChatRequest) (*agent.ChatResult, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failures.Load() < f.failFirst {
		f.failures.Add(1)
		return nil, xerrors.New(CodeTaskProcessing, "执行失败")
	}
	f.processed.Add(1)
	return &agent.ChatResult{Prompt: req.Prompt, Reply: "ok", FinishReason: "stop"}, nil
}

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &fakeExecutor{latency: 10 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 200
	for i := 0; i < total; i++ {
		prompt := fmt.Sprintf("prompt-%d", i)
		if _, err := service.Submit(ctx, agent.ChatRequest{Prompt: prompt}); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(executor.processed.Load()) >= total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", executor.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestProcessorRetriesFailedTask(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(64)
	executor := &fakeExecutor{failFirst: 2}

	service := NewService(store, queue, 5)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(2))

	go func() {
		_ = processor.Start(ctx)
	}()

	submitted, err := service.Submit(ctx, agent.ChatRequest{Prompt: "retry me"})
	if err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}

	done, err := service.WaitUntilCompleted(ctx, submitted.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("等待任务完成失败: %v", err)
	}
	if done.Status != StatusSucceeded {
		t.Fatalf("任务最终状态应为成功: %+v", done)
	}
	if done.Attempts < 3 {
		t.Fatalf("任务应在重试后成功, attempts=%d", done.Attempts)
	}
	if done.Result == nil || done.Result.Reply != "ok" {
		t.Fatalf("任务结果缺失: %+v", done.Result)
	}
}

func TestServiceSubmitValidation(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryQueue(8), 3)
	if _, err := service.Submit(context.Background(), agent.ChatRequest{Prompt: "   "}); err == nil {
		t.Fatalf("expected validation error for blank prompt")
	}
}

func TestServiceSubmitIdempotentByID(t *testing.T) {
	ctx := context.Background()
	service := NewService(NewMemoryStore(), NewMemoryQueue(8), 3)

	first, err := service.Submit(ctx, agent.ChatRequest{ID: "fixed", Prompt: "hello"})
	if err != nil {
		t.Fatalf("首次提交失败: %v", err)
	}
	second, err := service.Submit(ctx, agent.ChatRequest{ID: "fixed", Prompt: "hello again"})
	if err != nil {
		t.Fatalf("重复提交失败: %v", err)
	}
	if first.ID != second.ID || second.Prompt != "hello" {
		t.Fatalf("重复提交应返回已有任务: %+v", second)
	}
}
