// Package feed implements the websocket change feed subscriber: it holds a
// live subscription for one conversation, maps transport status onto the
// engine's feed states, reconnects with bounded exponential backoff, and
// applies the client-side conversation filter before forwarding any event.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"skiff/cmd/internal/chat"
	"skiff/cmd/internal/ids"
	"skiff/cmd/internal/metrics"
	v1 "skiff/shared/contracts/changefeed/v1"
)

const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 256 << 10 // 256 KiB

	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultAckTimeout   = 10 * time.Second
	defaultHeartbeat    = 25 * time.Second
	defaultBackoffBase  = 1 * time.Second
	defaultBackoffCap   = 30 * time.Second

	defaultQueueSize = 256
	minQueueSize     = 32

	closeGrace = 1 * time.Second
)

// Config configures a websocket feed Source.
type Config struct {
	// URL of the feed endpoint (ws:// or wss://).
	URL string

	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// AckTimeout bounds the subscribe handshake after a successful dial.
	AckTimeout        time.Duration
	HeartbeatInterval time.Duration

	BackoffBase time.Duration
	BackoffCap  time.Duration
	// MaxAttempts bounds consecutive failed connect/subscribe cycles before
	// the subscription surfaces a terminal failure. 0 means retry forever.
	MaxAttempts int

	// QueueSize is the event channel buffer per subscription.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = defaultAckTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeat
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = defaultBackoffCap
	}
	if c.QueueSize < minQueueSize {
		c.QueueSize = defaultQueueSize
	}
	return c
}

// Source opens websocket subscriptions against one feed endpoint.
// It implements chat.ChangeFeedSource.
type Source struct {
	log     *slog.Logger
	cfg     Config
	metrics *metrics.Set
}

// NewSource validates the endpoint URL and constructs a Source.
func NewSource(log *slog.Logger, cfg Config, m *metrics.Set) (*Source, error) {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("feed: invalid url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("feed: url scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("feed: url host missing")
	}
	return &Source{log: log, cfg: cfg.withDefaults(), metrics: m}, nil
}

// Subscribe opens a live subscription for the conversation. The returned
// subscription keeps reconnecting until ctx is cancelled, Close is called, or
// the attempt budget is exhausted.
func (s *Source) Subscribe(ctx context.Context, key chat.ConversationKey) (chat.Subscription, error) {
	if key.IsZero() {
		return nil, errors.New("feed: zero conversation key")
	}

	sctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		src:    s,
		key:    key,
		log:    s.log.With("topic", key.Topic()),
		events: make(chan chat.Event, s.cfg.QueueSize),
		status: make(chan chat.Status, 8),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.run(sctx)
	return sub, nil
}

type subscription struct {
	src *Source
	key chat.ConversationKey
	log *slog.Logger

	events chan chat.Event
	status chan chat.Status

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscription) Events() <-chan chat.Event  { return s.events }
func (s *subscription) Status() <-chan chat.Status { return s.status }

// Close releases the subscription (idempotent). It returns after the
// connection loop has fully stopped, so the backend attachment is never
// leaked past Close.
func (s *subscription) Close() error {
	s.closeOnce.Do(s.cancel)
	<-s.done
	return nil
}

// run is the connection lifecycle loop: dial, subscribe, read until failure,
// back off, repeat. It owns both output channels and closes them on exit.
func (s *subscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.status)
	defer close(s.events)

	cfg := s.src.cfg
	attempt := 0

	for {
		if ctx.Err() != nil {
			s.emit(chat.Status{State: chat.FeedClosed})
			return
		}

		s.emit(chat.Status{State: chat.FeedConnecting, Attempt: attempt})

		subscribed, err := s.connectAndRead(ctx)
		if subscribed {
			attempt = 0
		}

		if ctx.Err() != nil {
			s.emit(chat.Status{State: chat.FeedClosed})
			return
		}

		attempt++
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			s.log.Warn("feed.exhausted", "attempts", attempt, "err", err)
			s.emit(chat.Status{State: chat.FeedDegraded, Err: err, Attempt: attempt, Terminal: true})
			s.emit(chat.Status{State: chat.FeedClosed})
			return
		}

		s.emit(chat.Status{State: chat.FeedDegraded, Err: err, Attempt: attempt})
		s.src.metrics.FeedReconnect()

		delay := backoffDelay(cfg.BackoffBase, cfg.BackoffCap, attempt)
		s.log.Info("feed.reconnect.scheduled", "attempt", attempt, "delay", delay.String(), "err", err)

		select {
		case <-ctx.Done():
			s.emit(chat.Status{State: chat.FeedClosed})
			return
		case <-time.After(delay):
		}
	}
}

// connectAndRead performs one full connection cycle. It reports whether the
// subscribe handshake completed (used to reset the backoff) and the failure
// that ended the cycle.
func (s *subscription) connectAndRead(ctx context.Context) (subscribed bool, err error) {
	cfg := s.src.cfg

	dctx, dcancel := context.WithTimeout(ctx, cfg.DialTimeout)
	conn, _, err := websocket.Dial(dctx, cfg.URL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
	})
	dcancel()
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		return false, fmt.Errorf("subprotocol mismatch: got %q want %q", sp, v1.Subprotocol)
	}
	conn.SetReadLimit(maxFrameBytes)

	if err := s.writeSubscribe(ctx, conn); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	if err := s.awaitAck(ctx, conn); err != nil {
		return false, fmt.Errorf("subscribe ack: %w", err)
	}

	s.log.Info("feed.live")
	s.emit(chat.Status{State: chat.FeedLive})

	// Connection-scoped context: a heartbeat write failure tears down the
	// read loop as well.
	cctx, ccancel := context.WithCancel(ctx)
	defer ccancel()

	hbErr := make(chan error, 1)
	go func() {
		if err := s.heartbeatLoop(cctx, conn); err != nil {
			hbErr <- err
			ccancel()
		}
	}()

	readErr := s.readLoop(cctx, conn)

	if ctx.Err() != nil {
		// Deliberate teardown: release the server-side subscription before
		// closing so it does not linger until the server notices the drop.
		s.writeUnsubscribe(conn)
		return true, nil
	}

	select {
	case err := <-hbErr:
		return true, fmt.Errorf("heartbeat: %w", err)
	default:
	}
	return true, readErr
}

func (s *subscription) writeSubscribe(ctx context.Context, conn *websocket.Conn) error {
	// The predicate is a server-side scoping hint only; relevance is always
	// re-checked client-side on every received event.
	payload, err := json.Marshal(v1.SubscribePayload{
		Topic:     s.key.Topic(),
		Predicate: "conversation_id=eq." + s.key.ID(),
	})
	if err != nil {
		return err
	}
	return s.write(ctx, conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeSubscribe,
		ID:      newEnvelopeID(),
		Topic:   s.key.Topic(),
		TS:      time.Now().UTC(),
		Payload: payload,
	})
}

func (s *subscription) awaitAck(ctx context.Context, conn *websocket.Conn) error {
	actx, cancel := context.WithTimeout(ctx, s.src.cfg.AckTimeout)
	defer cancel()

	for {
		env, err := readEnvelope(actx, conn)
		if err != nil {
			return err
		}
		switch env.Type {
		case v1.TypeSubscribeAck:
			var p v1.SubscribeAckPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return fmt.Errorf("decode ack: %w", err)
			}
			if p.Topic != s.key.Topic() {
				return fmt.Errorf("ack topic mismatch: got %q want %q", p.Topic, s.key.Topic())
			}
			return nil
		case v1.TypeError:
			return decodeServerError(env)
		case v1.TypeHeartbeat:
			// Server may tick before acking; keep waiting.
		default:
			return fmt.Errorf("unexpected envelope before ack: %q", env.Type)
		}
	}
}

func (s *subscription) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			return err
		}

		switch env.Type {
		case v1.TypeChange:
			var p v1.ChangePayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return fmt.Errorf("decode change: %w", err)
			}
			if err := p.Validate(); err != nil {
				s.log.Warn("feed.change.invalid", "err", err)
				continue
			}
			ev, ok := s.toEvent(p)
			if !ok {
				continue
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return nil
			}

		case v1.TypeHeartbeat, v1.TypeSubscribeAck, v1.TypeUnsubscribeAck:
			// Keepalive echoes and duplicate acks carry no state.

		case v1.TypeError:
			return decodeServerError(env)

		default:
			s.log.Warn("feed.envelope.unexpected", "type", env.Type)
		}
	}
}

// toEvent decodes one change into a chat.Event, applying the client-side
// safety filter. Events that do not match the session's conversation key are
// dropped here — counted and logged, never forwarded.
func (s *subscription) toEvent(p v1.ChangePayload) (chat.Event, bool) {
	switch p.Action {
	case v1.ActionInsert, v1.ActionUpdate:
		m := rowToMessage(p.Record)
		if !s.key.Matches(m) {
			s.dropFiltered(p.Action, m.ConversationID)
			return chat.Event{}, false
		}
		action := chat.EventInsert
		if p.Action == v1.ActionUpdate {
			action = chat.EventUpdate
		}
		return chat.Event{Action: action, Message: m}, true

	case v1.ActionDelete:
		// Delete payloads may carry only the row id; when the old record
		// names a conversation, it still must match.
		if cid := p.OldRecord.ConversationID; cid != "" && cid != s.key.ID() {
			s.dropFiltered(p.Action, cid)
			return chat.Event{}, false
		}
		return chat.Event{Action: chat.EventDelete, DeletedID: p.OldRecord.ID}, true
	}
	return chat.Event{}, false
}

func (s *subscription) dropFiltered(action, conversationID string) {
	s.src.metrics.FilterDrop()
	s.log.Warn("feed.event.filtered",
		"action", action,
		"event_conversation_id", conversationID,
	)
}

func (s *subscription) heartbeatLoop(ctx context.Context, conn *websocket.Conn) error {
	t := time.NewTicker(s.src.cfg.HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			env := v1.Envelope{
				V:    v1.Version,
				Type: v1.TypeHeartbeat,
				ID:   newEnvelopeID(),
				TS:   time.Now().UTC(),
			}
			if err := s.write(ctx, conn, env); err != nil {
				return err
			}
		}
	}
}

// writeUnsubscribe is a best-effort release on deliberate teardown.
func (s *subscription) writeUnsubscribe(conn *websocket.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
	defer cancel()

	payload, err := json.Marshal(v1.UnsubscribePayload{Topic: s.key.Topic()})
	if err != nil {
		return
	}
	_ = s.write(ctx, conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeUnsubscribe,
		ID:      newEnvelopeID(),
		Topic:   s.key.Topic(),
		TS:      time.Now().UTC(),
		Payload: payload,
	})
}

func (s *subscription) write(ctx context.Context, conn *websocket.Conn, env v1.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, s.src.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, b)
}

// emit never blocks the connection loop; the status channel is buffered and a
// slow consumer loses intermediate states, not the channel itself.
func (s *subscription) emit(st chat.Status) {
	select {
	case s.status <- st:
	default:
		s.log.Debug("feed.status.dropped", "state", st.State.String())
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func decodeServerError(env v1.Envelope) error {
	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return errors.New("server error (undecodable payload)")
	}
	return fmt.Errorf("server error: %s: %s", p.Code, p.Message)
}

func rowToMessage(r *v1.MessageRow) chat.Message {
	return chat.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Content:        r.Content,
		CreatedAt:      r.CreatedAt,
	}
}

// newEnvelopeID returns a ULID envelope id (sortable in logs and traces).
func newEnvelopeID() string {
	id, err := ids.NewULID(time.Now())
	if err != nil {
		return ""
	}
	return id
}
