// Package backend provides the engine's boundary sources: a Postgres-backed
// history source and message writer, and a fully in-process backend for dev
// mode and tests.
package backend

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"skiff/cmd/internal/chat"
	"skiff/cmd/internal/ids"
)

// Postgres implements chat.HistorySource and chat.MessageWriter.
//
// Ownership model:
//   - Postgres does NOT own the pgx pool. The caller must close the pool.
//
// The change feed for Postgres deployments is served by a separate feed
// endpoint (see cmd/internal/feed); this type covers only the point-query
// history side and the write path.
type Postgres struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures Postgres behavior.
type PostgresOption func(*Postgres) error

// WithSchema sets the DB schema used by queries (default: "skiff").
// The schema name is validated and safely quoted.
func WithSchema(schema string) PostgresOption {
	return func(p *Postgres) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("backend: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("backend: invalid schema identifier")
		}
		p.schema = schema
		return nil
	}
}

// NewPostgres constructs a Postgres-backed history source and writer.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) (*Postgres, error) {
	p := &Postgres{
		pool:   pool,
		schema: "skiff",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.pool == nil {
		return nil, errors.New("backend: nil pool")
	}
	return p, nil
}

// FetchRecent returns the limit most-recent messages of the conversation,
// ordered ascending by (created_at, id).
//
// The query fetches descending (index-friendly for "latest page") and the
// result is reversed before returning, matching the engine's contract.
func (p *Postgres) FetchRecent(ctx context.Context, key chat.ConversationKey, limit int) ([]chat.Message, error) {
	if key.IsZero() {
		return nil, errors.New("backend: zero conversation key")
	}
	if limit <= 0 {
		limit = 50
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages := pgIdent(p.schema, "messages")

	rows, err := p.pool.Query(ctx,
		`SELECT id, conversation_id, sender_id, content, created_at
		 FROM `+messages+`
		 WHERE conversation_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		key.ID(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("backend: fetch recent: %w", err)
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("backend: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("backend: fetch recent: %w", err)
	}

	reverse(out)
	return out, nil
}

// Insert persists a new message row. The id and timestamp assigned here are
// authoritative; the engine receives the row back through the change feed.
func (p *Postgres) Insert(ctx context.Context, key chat.ConversationKey, senderID, content string) error {
	if key.IsZero() || senderID == "" || content == "" {
		return errors.New("backend: invalid input")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return fmt.Errorf("backend: new message id: %w", err)
	}

	messages := pgIdent(p.schema, "messages")

	if _, err := p.pool.Exec(ctx,
		`INSERT INTO `+messages+` (id, conversation_id, sender_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, key.ID(), senderID, content, now,
	); err != nil {
		return fmt.Errorf("backend: insert message: %w", err)
	}
	return nil
}

func reverse(msgs []chat.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

var pgIdentRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return len(s) <= 63 && pgIdentRe.MatchString(s)
}

// pgIdent joins schema and table into a safely quoted identifier.
func pgIdent(schema, table string) string {
	return `"` + schema + `"."` + table + `"`
}
