package turn

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	turns := []*Turn{
		{ID: "t1", Prompt: "p1", Status: StatusPending, MaxRetries: 3},
		{ID: "t2", Prompt: "p2", Status: StatusFailed, MaxRetries: 3},
		{ID: "t3", Prompt: "p3", Status: StatusSucceeded, MaxRetries: 3},
	}

	for _, item := range turns {
		if err := store.Create(ctx, item); err != nil {
			t.Fatalf("create turn %s: %v", item.ID, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "t2", CodeTurnProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "t3", ExecutionResult{Reply: "ok"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.turns["t1"].UpdatedAt = base.Unix()
	store.turns["t2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.turns["t3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(all))
	}
	if all[0].ID != "t3" {
		t.Fatalf("expected newest turn first, got %s", all[0].ID)
	}

	failed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "t2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	succeeded, err := store.List(ctx, buildListOptions([]ListOption{WithResultPresence(true)}))
	if err != nil {
		t.Fatalf("list with result: %v", err)
	}
	if len(succeeded) != 1 || succeeded[0].ID != "t3" {
		t.Fatalf("unexpected result list: %+v", succeeded)
	}

	since := base.Add(15 * time.Second)
	recent, err := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(since)}))
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 turns to match since filter, got %d", len(recent))
	}

	matched, err := store.List(ctx, buildListOptions([]ListOption{WithQuery("p2")}))
	if err != nil {
		t.Fatalf("list by query: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "t2" {
		t.Fatalf("unexpected query list: %+v", matched)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Turn{ID: "t1", Prompt: "p", Status: StatusPending, MaxRetries: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, err := store.Claim(ctx, "t1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed turn: %+v", claimed)
	}

	// 运行中的回合不能被再次领取。
	if _, err := store.Claim(ctx, "t1"); !IsTurnError(err, CodeTurnConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	if err := store.MarkSucceeded(ctx, "t1", ExecutionResult{Reply: "done"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if _, err := store.Claim(ctx, "t1"); !IsTurnError(err, CodeTurnCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}
}

func TestMemoryStoreClaimExhausted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Turn{ID: "t1", Prompt: "p", Status: StatusPending, MaxRetries: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Claim(ctx, "t1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "t1", CodeTurnProcessing, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "t1"); !IsTurnError(err, CodeTurnExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-3 * time.Minute)
	turns := []*Turn{
		{ID: "a", Prompt: "p1", Status: StatusPending, MaxRetries: 3},
		{ID: "b", Prompt: "p2", Status: StatusPending, MaxRetries: 3},
		{ID: "c", Prompt: "p3", Status: StatusPending, MaxRetries: 3},
	}

	for _, item := range turns {
		if err := store.Create(ctx, item); err != nil {
			t.Fatalf("create turn %s: %v", item.ID, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "b", CodeTurnProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "c", ExecutionResult{Reply: "ok"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.turns["a"].UpdatedAt = base.Unix()
	store.turns["b"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.turns["c"].UpdatedAt = base.Add(2 * time.Minute).Unix()
	store.mu.Unlock()

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.NewestUpdatedAt != base.Add(2*time.Minute).Unix() {
		t.Fatalf("unexpected newest timestamp: %d", stats.NewestUpdatedAt)
	}
	if stats.OldestUpdatedAt != base.Unix() {
		t.Fatalf("unexpected oldest timestamp: %d", stats.OldestUpdatedAt)
	}

	withResults, err := store.Stats(ctx, buildListOptions([]ListOption{WithResultPresence(true)}))
	if err != nil {
		t.Fatalf("stats with result: %v", err)
	}
	if withResults.Total != 1 || withResults.Succeeded != 1 {
		t.Fatalf("unexpected stats with result: %+v", withResults)
	}

	failedOnly, err := store.Stats(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("stats failed only: %v", err)
	}
	if failedOnly.Total != 1 || failedOnly.Failed != 1 {
		t.Fatalf("unexpected failed stats: %+v", failedOnly)
	}
}
