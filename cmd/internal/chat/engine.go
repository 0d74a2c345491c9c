package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"skiff/cmd/internal/metrics"
)

const (
	defaultHistoryLimit   = 50
	maxHistoryLimit       = 200
	defaultHistoryTimeout = 10 * time.Second
	defaultEchoWindow     = 2 * time.Minute
)

// Options configures an Engine. History, Feed, Writer and Actor are required.
type Options struct {
	Log     *slog.Logger
	Metrics *metrics.Set

	History HistorySource
	Feed    ChangeFeedSource
	Writer  MessageWriter
	Actor   ActorProvider

	// HistoryLimit is the page size of the initial history fetch.
	HistoryLimit int
	// HistoryTimeout bounds each history fetch so a dead backend cannot pin
	// a session in Loading.
	HistoryTimeout time.Duration
	// EchoWindow bounds the sender+content echo match for outbox entries.
	EchoWindow time.Duration
}

// Engine opens conversation sessions. It is safe for concurrent use; each
// open session owns its resources independently.
type Engine struct {
	log     *slog.Logger
	metrics *metrics.Set

	history HistorySource
	feed    ChangeFeedSource
	writer  MessageWriter
	actor   ActorProvider

	historyLimit   int
	historyTimeout time.Duration
	echoWindow     time.Duration
}

// NewEngine constructs an Engine from Options.
func NewEngine(opts Options) (*Engine, error) {
	if opts.History == nil {
		return nil, errors.New("chat: nil HistorySource")
	}
	if opts.Feed == nil {
		return nil, errors.New("chat: nil ChangeFeedSource")
	}
	if opts.Writer == nil {
		return nil, errors.New("chat: nil MessageWriter")
	}
	if opts.Actor == nil {
		return nil, errors.New("chat: nil ActorProvider")
	}

	log := opts.Log
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	timeout := opts.HistoryTimeout
	if timeout <= 0 {
		timeout = defaultHistoryTimeout
	}

	window := opts.EchoWindow
	if window <= 0 {
		window = defaultEchoWindow
	}

	return &Engine{
		log:            log,
		metrics:        opts.Metrics,
		history:        opts.History,
		feed:           opts.Feed,
		writer:         opts.Writer,
		actor:          opts.Actor,
		historyLimit:   limit,
		historyTimeout: timeout,
		echoWindow:     window,
	}, nil
}

// Open creates a session for the conversation and starts its tasks: the
// history fetch and the feed subscription run concurrently, both draining
// into the session's single apply loop.
//
// ctx governs only the open call itself (actor resolution). The session's
// lifetime ends with Close, not with ctx.
func (e *Engine) Open(ctx context.Context, key ConversationKey) (*Session, error) {
	if key.IsZero() {
		return nil, errors.New("chat: zero conversation key")
	}

	actorID, err := e.actor.CurrentActorID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chat: resolve actor: %w", err)
	}
	if actorID == "" {
		return nil, ErrNoActor
	}
	if !key.HasParticipant(actorID) {
		return nil, fmt.Errorf("chat: actor %q is not a participant of %s", actorID, key)
	}

	return startSession(e, key, actorID)
}
