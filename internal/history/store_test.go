package history

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gatewayz/internal/domain"
	"gatewayz/internal/usage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history.db"), testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func msg(session, role, content string, at time.Time) domain.ChatMessage {
	return domain.ChatMessage{
		SessionID: session,
		Role:      role,
		Content:   content,
		Model:     "gpt-4o",
		TokensIn:  10,
		TokensOut: 20,
		CreatedAt: at,
	}
}

func TestStore_SaveAndListMessages(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	id1, err := s.SaveMessage(ctx, msg("sess-1", "user", "hello", now))
	if err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	id2, err := s.SaveMessage(ctx, msg("sess-1", "assistant", "hi there", now.Add(time.Second)))
	if err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if id2 <= id1 {
		t.Fatalf("ids not increasing: %d then %d", id1, id2)
	}
	// Other sessions stay isolated.
	if _, err := s.SaveMessage(ctx, msg("sess-2", "user", "unrelated", now)); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	msgs, err := s.Messages(ctx, "sess-1", 50)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Content != "hello" || msgs[1].Content != "hi there" {
		t.Fatalf("wrong order: %q then %q", msgs[0].Content, msgs[1].Content)
	}
}

func TestStore_MessagesLimitKeepsNewest(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Now()

	for i, content := range []string{"one", "two", "three", "four"} {
		if _, err := s.SaveMessage(ctx, msg("sess-1", "user", content, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	msgs, err := s.Messages(ctx, "sess-1", 2)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	// The newest two, still in chronological order.
	if len(msgs) != 2 || msgs[0].Content != "three" || msgs[1].Content != "four" {
		t.Fatalf("got %+v", msgs)
	}
}

func TestStore_SessionStats(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	s.SaveMessage(ctx, msg("sess-1", "user", "question", base))
	s.SaveMessage(ctx, msg("sess-1", "assistant", "answer", base.Add(time.Second)))
	s.SaveMessage(ctx, msg("sess-1", "user", "followup", base.Add(2*time.Second)))

	st, err := s.SessionStats(ctx, "sess-1")
	if err != nil {
		t.Fatalf("SessionStats: %v", err)
	}
	if st.MessageCount != 3 || st.UserCount != 2 {
		t.Fatalf("count=%d user=%d", st.MessageCount, st.UserCount)
	}
	if st.TokensIn != 30 || st.TokensOut != 60 {
		t.Fatalf("tokens in=%d out=%d", st.TokensIn, st.TokensOut)
	}
	if st.LastAt.Before(st.FirstAt) {
		t.Fatalf("first=%v last=%v", st.FirstAt, st.LastAt)
	}
}

func TestStore_SessionStatsNoData(t *testing.T) {
	s := testStore(t)
	if _, err := s.SessionStats(context.Background(), "ghost"); !errors.Is(err, domain.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestStore_SearchMessages(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Now()

	s.SaveMessage(ctx, msg("sess-1", "user", "deploy the service", base))
	s.SaveMessage(ctx, msg("sess-1", "assistant", "deployment started", base.Add(time.Second)))
	s.SaveMessage(ctx, msg("sess-1", "user", "check the logs", base.Add(2*time.Second)))
	s.SaveMessage(ctx, msg("sess-2", "user", "deploy everything", base))

	found, err := s.SearchMessages(ctx, "sess-1", "deploy", 20)
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("got %d matches, want 2", len(found))
	}
	// Newest first.
	if found[0].Content != "deployment started" {
		t.Fatalf("first match = %q", found[0].Content)
	}

	none, err := s.SearchMessages(ctx, "sess-1", "nothing here", 20)
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no matches, got %d", len(none))
	}
}

func TestStore_SearchEscapesWildcards(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.SaveMessage(ctx, msg("sess-1", "user", "literal 50% done", time.Now()))
	s.SaveMessage(ctx, msg("sess-1", "user", "fifty percent", time.Now()))

	found, err := s.SearchMessages(ctx, "sess-1", "50%", 20)
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if len(found) != 1 || found[0].Content != "literal 50% done" {
		t.Fatalf("%% must match literally, got %+v", found)
	}
}

func TestStore_SaveUsageSnapshotUpserts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rows := []usage.SnapshotRow{
		{Bucket: "2025-03-14-09", Kind: "model", ID: "gpt-4o", Requests: 5, Successes: 4, LatencyMs: 1000, TokensIn: 500, TokensOut: 250},
		{Bucket: "2025-03-14-09", Kind: "provider", ID: "openai", Requests: 5, Successes: 4, LatencyMs: 1000, TokensIn: 500, TokensOut: 250},
	}
	if err := s.SaveUsageSnapshot(ctx, rows); err != nil {
		t.Fatalf("SaveUsageSnapshot: %v", err)
	}

	// Re-flushing the same bucket replaces, never duplicates.
	rows[0].Requests = 9
	if err := s.SaveUsageSnapshot(ctx, rows); err != nil {
		t.Fatalf("SaveUsageSnapshot upsert: %v", err)
	}

	var count, requests int64
	err := s.db.QueryRow(
		`SELECT COUNT(*), MAX(requests) FROM usage_snapshots WHERE bucket = ? AND kind = 'model'`,
		"2025-03-14-09",
	).Scan(&count, &requests)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 || requests != 9 {
		t.Fatalf("count=%d requests=%d", count, requests)
	}
}

func TestStore_PruneDropsOldMessages(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.SaveMessage(ctx, msg("old-sess", "user", "ancient", time.Now().Add(-48*time.Hour)))
	s.SaveMessage(ctx, msg("live-sess", "user", "fresh", time.Now()))

	n, err := s.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d messages, want 1", n)
	}

	// The emptied session is gone too.
	var sessions int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&sessions); err != nil {
		t.Fatalf("query: %v", err)
	}
	if sessions != 1 {
		t.Fatalf("sessions = %d, want 1", sessions)
	}

	msgs, err := s.Messages(ctx, "live-sess", 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("live session damaged: %v %d", err, len(msgs))
	}
}
