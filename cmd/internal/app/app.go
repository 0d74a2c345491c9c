package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"skiff/cmd/internal/actor"
	"skiff/cmd/internal/backend"
	"skiff/cmd/internal/chat"
	"skiff/cmd/internal/feed"
	"skiff/cmd/internal/metrics"
)

// App wires the sync engine to a backend and runs one interactive
// conversation session next to the ops listener.
type App struct {
	cfg Config
	log Logger

	pool      *pgxpool.Pool
	dbEnabled bool

	engine *chat.Engine
	key    chat.ConversationKey
}

// New builds the App from config: conversation key, metrics, backend
// sources and the engine. It does not open the session yet.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	return newApp(ctx, cfg, log, prometheus.DefaultRegisterer)
}

func newApp(ctx context.Context, cfg Config, log Logger, reg prometheus.Registerer) (*App, error) {
	if cfg.ActorID == "" {
		return nil, errors.New("app: SKIFF_ACTOR_ID is required")
	}
	if len(cfg.PeerIDs) == 0 {
		return nil, errors.New("app: SKIFF_PEER_IDS is required")
	}

	key, err := chat.NewConversationKey(append([]string{cfg.ActorID}, cfg.PeerIDs...)...)
	if err != nil {
		return nil, fmt.Errorf("app: conversation key: %w", err)
	}

	met := metrics.New(reg)

	a := &App{cfg: cfg, log: log, key: key}

	var (
		history chat.HistorySource
		source  chat.ChangeFeedSource
		writer  chat.MessageWriter
	)

	switch {
	case cfg.DatabaseURL != "" && cfg.FeedURL != "":
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		pg, err := backend.NewPostgres(pool, backend.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("app: postgres backend: %w", err)
		}
		src, err := feed.NewSource(log, feed.Config{
			URL:               cfg.FeedURL,
			DialTimeout:       cfg.FeedDialTimeout,
			WriteTimeout:      cfg.FeedWriteTimeout,
			HeartbeatInterval: cfg.FeedHeartbeat,
			BackoffBase:       cfg.FeedBackoffBase,
			BackoffCap:        cfg.FeedBackoffCap,
			MaxAttempts:       cfg.FeedMaxAttempts,
			QueueSize:         cfg.FeedQueueSize,
		}, met)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("app: feed source: %w", err)
		}
		a.pool = pool
		a.dbEnabled = true
		history, writer, source = pg, pg, src

	case cfg.DatabaseURL == "" && cfg.FeedURL == "":
		mem := backend.NewMemory(log, cfg.FeedQueueSize)
		history, writer, source = mem, mem, mem

	default:
		return nil, errors.New("app: SKIFF_DATABASE_URL and SKIFF_FEED_URL must be set together")
	}

	engine, err := chat.NewEngine(chat.Options{
		Log:            log,
		Metrics:        met,
		History:        history,
		Feed:           source,
		Writer:         writer,
		Actor:          actor.NewStatic(cfg.ActorID),
		HistoryLimit:   cfg.HistoryLimit,
		HistoryTimeout: cfg.HistoryTimeout,
		EchoWindow:     cfg.EchoWindow,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = engine

	return a, nil
}

// Close releases backend resources. Safe to call after a failed Run.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// Run opens the session, serves the ops listener and pumps stdin lines as
// sends until ctx is canceled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerOps(mux, a.log, a.cfg, a.pool, a.dbEnabled)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
	}

	srvErr := make(chan error, 1)
	go func() {
		a.log.Info("ops.listen", "addr", a.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	sess, err := a.engine.Open(ctx, a.key)
	if err != nil {
		a.shutdownOps(srv)
		return fmt.Errorf("app: open session: %w", err)
	}

	a.log.Info("session.open",
		"conversation", a.key.ID(),
		"actor", sess.ActorID(),
		"participants", a.key.Participants(),
	)

	go a.pumpStdin(ctx, sess)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("app.shutdown", "reason", "signal")
			if err := sess.Close(); err != nil {
				a.log.Warn("session.close.error", "err", err)
			}
			a.shutdownOps(srv)
			return nil

		case err := <-srvErr:
			_ = sess.Close()
			return fmt.Errorf("app: ops listener: %w", err)

		case view := <-sess.Updates():
			a.logView(sess, view)

		case err := <-sess.Errors():
			a.logSessionError(err)
		}
	}
}

func (a *App) logView(sess *chat.Session, view []chat.Message) {
	attrs := []any{
		"conversation", a.key.ID(),
		"state", sess.State().String(),
		"messages", len(view),
	}
	if n := len(view); n > 0 {
		last := view[n-1]
		attrs = append(attrs, "last_sender", last.SenderID, "last_at", last.CreatedAt)
	}
	a.log.Info("view.update", attrs...)
}

func (a *App) logSessionError(err error) {
	switch {
	case chat.IsFeedError(err):
		a.log.Error("feed.error", "err", err)
	case chat.IsFetchError(err):
		a.log.Warn("history.error", "err", err)
	default:
		a.log.Warn("session.error", "err", err)
	}
}

// pumpStdin treats each non-blank stdin line as an outbound send. Failed
// sends are logged with the content so the operator can retype it.
func (a *App) pumpStdin(ctx context.Context, sess *chat.Session) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := sess.Send(ctx, line); err != nil {
			if errors.Is(err, chat.ErrSessionClosed) {
				return
			}
			if content, ok := chat.RestorableContent(err); ok {
				a.log.Warn("send.failed", "err", err, "content", content)
			} else {
				a.log.Warn("send.failed", "err", err)
			}
		}
	}
	if err := sc.Err(); err != nil {
		a.log.Warn("stdin.read.error", "err", err)
	}
}

func (a *App) shutdownOps(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.log.Warn("ops.shutdown.error", "err", err)
	}
}
