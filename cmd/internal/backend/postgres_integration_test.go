package backend

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"skiff/cmd/internal/chat"
)

// Integration tests are enabled when SKIFF_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgres_InsertAndFetchRecent(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyMessagesSchema(t, pool, schema)

	pg, err := NewPostgres(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres backend: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	key := mustIntegrationKey(t)

	for _, content := range []string{"one", "two", "three", "four"} {
		if err := pg.Insert(ctx, key, "alice", content); err != nil {
			t.Fatalf("insert %q: %v", content, err)
		}
		// Distinct timestamps keep the expected page order unambiguous.
		time.Sleep(5 * time.Millisecond)
	}

	got, err := pg.FetchRecent(ctx, key, 3)
	if err != nil {
		t.Fatalf("fetch recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len=%d, want 3", len(got))
	}
	if got[0].Content != "two" || got[2].Content != "four" {
		t.Fatalf("page window: %q .. %q", got[0].Content, got[2].Content)
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Less(got[i]) {
			t.Fatalf("page not ascending at %d", i)
		}
	}
	for _, m := range got {
		if m.ConversationID != key.ID() || m.SenderID != "alice" || m.ID == "" {
			t.Fatalf("incomplete row: %+v", m)
		}
	}
}

func TestPostgres_FetchRecent_EmptyConversation(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyMessagesSchema(t, pool, schema)

	pg, err := NewPostgres(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres backend: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got, err := pg.FetchRecent(ctx, mustIntegrationKey(t), 50)
	if err != nil {
		t.Fatalf("fetch recent: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len=%d, want 0", len(got))
	}
}

func mustIntegrationKey(t *testing.T) chat.ConversationKey {
	t.Helper()

	// Random participants isolate runs sharing one database.
	key, err := chat.NewConversationKey("it"+randomHex(6), "peer"+randomHex(6))
	if err != nil {
		t.Fatalf("NewConversationKey: %v", err)
	}
	return key
}

func randomHex(nBytes int) string {
	b := make([]byte, nBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("SKIFF_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: SKIFF_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse SKIFF_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "skiff_it_" + randomHex(8)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustApplyMessagesSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	messages := pgIdent(schema, "messages")

	// Minimal schema required by the Postgres backend.
	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id              TEXT PRIMARY KEY,
  conversation_id TEXT NOT NULL,
  sender_id       TEXT NOT NULL,
  content         TEXT NOT NULL,
  created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_conv_created_idx ON %s (conversation_id, created_at DESC, id DESC);
`, messages, messages)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply messages schema: %v", err)
	}
}
