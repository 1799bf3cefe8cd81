package history

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	core "github.com/mohammad-safakhou/insight/internal/agent/core"
)

func newTestArchive(t *testing.T, limit int) *Archive {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, limit)
}

func TestAppendAndRecent(t *testing.T) {
	archive := newTestArchive(t, 10)
	ctx := context.Background()

	msgs := []core.HistoryMessage{
		{Role: "user", Content: "top products last month?"},
		{Role: "assistant", Content: "Widget A led with $100."},
	}
	for _, m := range msgs {
		if err := archive.Append(ctx, "user-1", m); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := archive.Recent(ctx, "user-1")
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].Role != "user" || got[1].Content != "Widget A led with $100." {
		t.Fatalf("messages out of order: %+v", got)
	}
}

func TestRecentEmptyUser(t *testing.T) {
	archive := newTestArchive(t, 10)
	got, err := archive.Recent(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no history, got %+v", got)
	}
}

func TestAppendTrimsToLimit(t *testing.T) {
	archive := newTestArchive(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		msg := core.HistoryMessage{Role: "user", Content: fmt.Sprintf("question %d", i)}
		if err := archive.Append(ctx, "user-1", msg); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := archive.Recent(ctx, "user-1")
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected trim to 3 messages, got %d", len(got))
	}
	if got[0].Content != "question 2" || got[2].Content != "question 4" {
		t.Fatalf("oldest messages must be dropped: %+v", got)
	}
}

func TestHistoryIsPerUser(t *testing.T) {
	archive := newTestArchive(t, 10)
	ctx := context.Background()

	_ = archive.Append(ctx, "user-1", core.HistoryMessage{Role: "user", Content: "mine"})
	_ = archive.Append(ctx, "user-2", core.HistoryMessage{Role: "user", Content: "theirs"})

	got, err := archive.Recent(ctx, "user-1")
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 1 || got[0].Content != "mine" {
		t.Fatalf("history leaked across users: %+v", got)
	}
}

func TestClear(t *testing.T) {
	archive := newTestArchive(t, 10)
	ctx := context.Background()

	_ = archive.Append(ctx, "user-1", core.HistoryMessage{Role: "user", Content: "hello"})
	if err := archive.Clear(ctx, "user-1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	got, _ := archive.Recent(ctx, "user-1")
	if len(got) != 0 {
		t.Fatalf("expected cleared history, got %+v", got)
	}
}
