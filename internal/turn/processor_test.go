package turn

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"R0-Agent/internal/agent"
	xerrors "R0-Agent/internal/errors"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
	err       error
}

func (f *fakeExecutor) Execute(ctx context.Context, req agent.TurnRequest) (*agent.TurnResult, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	f.processed.Add(1)
	return &agent.TurnResult{Prompt: req.Prompt, Reply: "ok", Thought: "done", Iterations: 1}, nil
}

func TestProcessorHandlesConcurrentTurns(t *testing.T) {
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
		if _, err := service.Submit(ctx, agent.TurnRequest{Prompt: prompt}); err != nil {
			t.Fatalf("提交回合失败: %v", err)
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
			t.Fatalf("回合未能及时处理，已完成 %d", executor.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestProcessorMarksTerminalFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)

	// 不可重试的校验错误应直接进入终态。
	executor := &fakeExecutor{err: xerrors.New(xerrors.CodeValidationFailed, "参数非法")}
	processor := NewProcessor(executor, store, queue, queue)

	if err := store.Create(ctx, &Turn{ID: "t1", Prompt: "p", Status: StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := processor.handle(ctx, "t1"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	stored, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusFailed || stored.ErrorCode != string(xerrors.CodeValidationFailed) {
		t.Fatalf("unexpected stored turn: %+v", stored)
	}
}

type fallbackRecovery struct{}

func (fallbackRecovery) Recover(_ context.Context, _ *Turn, cause error) (*ExecutionResult, error) {
	return &ExecutionResult{Reply: fmt.Sprintf("降级: %v", cause)}, nil
}

func TestProcessorRecoveryDegradesTurn(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)

	executor := &fakeExecutor{err: xerrors.New(xerrors.CodeValidationFailed, "参数非法")}
	processor := NewProcessor(executor, store, queue, queue, WithRecoveryHandler(fallbackRecovery{}))

	if err := store.Create(ctx, &Turn{ID: "t1", Prompt: "p", Status: StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := processor.handle(ctx, "t1"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	stored, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusSucceeded || stored.Result == nil || stored.Result.Reply == "" {
		t.Fatalf("expected degraded success, got %+v", stored)
	}
}
