package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Session is one open conversation: it owns the Store, the feed subscription
// and the background tasks, and publishes the current ordered view on every
// change.
//
// Design notes:
//   - The Store is mutated only from the apply loop; Snapshot reads go
//     through an atomic copy published by that loop.
//   - Close is idempotent and releases the feed subscription; it never leaks
//     the backend attachment.
type Session struct {
	log     *slog.Logger
	key     ConversationKey
	actorID string

	history        HistorySource
	writer         MessageWriter
	metrics        metricsSink
	historyLimit   int
	historyTimeout time.Duration

	store  *Store
	outbox *outbox
	sub    Subscription

	state atomic.Int32
	view  atomic.Value // []Message, latest published snapshot

	updates chan []Message
	errs    chan error

	historyCh chan historyResult
	refreshCh chan struct{}

	cancel    context.CancelFunc
	group     *errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

// metricsSink is the narrow slice of metrics the session records.
// Kept as an interface so tests can run without a prometheus registry;
// *metrics.Set satisfies it (including the nil no-op form).
type metricsSink interface {
	FeedEvent(action string)
	FilterDrop()
	HistoryFetch(result string)
	Send(result string)
	StoreSize(conversationID string, n int)
	DropStore(conversationID string)
}

type historyResult struct {
	batch []Message
	err   error
}

func startSession(e *Engine, key ConversationKey, actorID string) (*Session, error) {
	sctx, cancel := context.WithCancel(context.Background())

	sub, err := e.feed.Subscribe(sctx, key)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &Session{
		log:            e.log.With("conversation_id", key.ID()),
		key:            key,
		actorID:        actorID,
		history:        e.history,
		writer:         e.writer,
		metrics:        e.metrics,
		historyLimit:   e.historyLimit,
		historyTimeout: e.historyTimeout,
		store:          NewStore(),
		outbox:         newOutbox(e.echoWindow),
		sub:            sub,
		updates:        make(chan []Message, 1),
		errs:           make(chan error, 4),
		historyCh:      make(chan historyResult, 1),
		refreshCh:      make(chan struct{}, 1),
		cancel:         cancel,
	}
	s.state.Store(int32(SessionLoading))
	s.view.Store([]Message{})

	g, gctx := errgroup.WithContext(sctx)
	s.group = g
	g.Go(func() error { return s.applyLoop(gctx) })
	g.Go(func() error { return s.historyLoop(gctx) })

	s.log.Info("session.open", "actor_id", actorID, "history_limit", s.historyLimit)
	return s, nil
}

// Key returns the session's conversation key.
func (s *Session) Key() ConversationKey { return s.key }

// ActorID returns the local actor this session sends as.
func (s *Session) ActorID() string { return s.actorID }

// State returns the current session state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Updates streams the live ordered view. The channel is conflated: a slow
// consumer always observes the latest snapshot, never a backlog of stale
// ones. It is closed by Close.
func (s *Session) Updates() <-chan []Message { return s.updates }

// Errors streams surfaced failures: FetchError after a failed history load
// and at most one terminal FeedError. Transient feed drops are absorbed into
// the Degraded state and never appear here. Closed by Close.
func (s *Session) Errors() <-chan error { return s.errs }

// Snapshot returns the latest published ordered view.
func (s *Session) Snapshot() []Message {
	v, _ := s.view.Load().([]Message)
	return v
}

// PendingSends returns the unresolved outbox entries in submission order.
func (s *Session) PendingSends() []OutboxEntry { return s.outbox.snapshot() }

// RefreshHistory schedules another history fetch, e.g. after a FetchError.
// Coalesced: at most one refresh is queued at a time.
func (s *Session) RefreshHistory() {
	select {
	case s.refreshCh <- struct{}{}:
	default:
	}
}

// Send validates and submits a new message. The persisted row reaches the
// Store only through the feed echo — there is no optimistic local insert, so
// the view always carries authoritative server ids and timestamps.
//
// On failure the Store is untouched and the returned WriteError carries the
// attempted content for restoring into the caller's input state.
func (s *Session) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return WriteError{Key: s.key, Content: content, Err: ErrBlankContent}
	}
	if s.State() == SessionClosed {
		return WriteError{Key: s.key, Content: content, Err: ErrSessionClosed}
	}

	entry := s.outbox.add(s.key.ID(), s.actorID, content, time.Now().UTC())

	if err := s.writer.Insert(ctx, s.key, s.actorID, content); err != nil {
		s.outbox.fail(entry.ID, err)
		s.metrics.Send("error")
		s.log.Info("send.fail", "outbox_id", entry.ID, "err", err)
		return WriteError{Key: s.key, Content: content, Err: err}
	}

	s.metrics.Send("ok")
	s.log.Debug("send.accepted", "outbox_id", entry.ID)
	return nil
}

// Close tears the session down: cancels the loader and apply loop, releases
// the feed subscription and drops the Store. Idempotent; terminal.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.state.Store(int32(SessionClosed))
		s.cancel()
		s.closeErr = s.sub.Close()
		_ = s.group.Wait()

		close(s.updates)
		close(s.errs)
		s.metrics.DropStore(s.key.ID())
		s.log.Info("session.close")
	})
	return s.closeErr
}

// applyLoop is the single serialization point: every Store mutation —
// history batch, insert, update, delete — is applied here, in arrival order,
// with no interleaving.
func (s *Session) applyLoop(ctx context.Context) error {
	events := s.sub.Events()
	status := s.sub.Status()

	// Closed feed channels are nil-ed out; a nil case blocks forever, so the
	// select keeps serving historyCh after the subscription ends and refreshes
	// still land while the session is open.
	for {
		select {
		case <-ctx.Done():
			return nil

		case res := <-s.historyCh:
			s.onHistory(res)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.onEvent(ev)

		case st, ok := <-status:
			if !ok {
				status = nil
				continue
			}
			s.onFeedStatus(st)
		}
	}
}

func (s *Session) onHistory(res historyResult) {
	if res.err != nil {
		s.metrics.HistoryFetch("error")
		s.log.Info("history.fetch.fail", "err", res.err)
		s.reportErr(FetchError{Key: s.key, Err: res.err})
		return
	}

	// Insert-or-ignore: live events applied before this batch landed win and
	// must not be dropped by its arrival.
	added := mergeHistory(s.store, res.batch)
	s.metrics.HistoryFetch("ok")
	s.log.Debug("history.merged", "batch", len(res.batch), "added", added)
	if added > 0 {
		s.publish()
	}
}

func (s *Session) onEvent(ev Event) {
	// Defensive re-check behind the subscriber's own filter; an event for
	// another conversation must never touch this Store.
	if ev.Action != EventDelete && !s.key.Matches(ev.Message) {
		s.metrics.FilterDrop()
		s.log.Warn("feed.event.filtered",
			"action", ev.Action.String(),
			"event_conversation_id", ev.Message.ConversationID,
		)
		return
	}

	changed := mergeEvent(s.store, ev)
	s.metrics.FeedEvent(ev.Action.String())

	if ev.Action == EventInsert {
		if entry, ok := s.outbox.ack(ev.Message, time.Now().UTC()); ok {
			s.log.Debug("send.echoed", "outbox_id", entry.ID, "message_id", ev.Message.ID)
		}
	}

	if changed {
		s.publish()
	}
}

func (s *Session) onFeedStatus(st Status) {
	switch st.State {
	case FeedLive:
		s.transition(SessionActive)

	case FeedDegraded:
		s.log.Info("feed.degraded", "attempt", st.Attempt, "terminal", st.Terminal, "err", st.Err)
		if st.Terminal {
			s.reportErr(FeedError{Key: s.key, Attempts: st.Attempt, Err: st.Err})
		}
		// Only an active session degrades; while loading, the feed connect is
		// simply still in flight.
		s.transitionFrom(SessionActive, SessionDegraded)

	case FeedConnecting, FeedClosed, FeedIdle:
		// Connecting is covered by Loading/Degraded; Closed follows either a
		// terminal status (already surfaced) or our own Close.
	}
}

// publish stores and emits the current snapshot, conflating the channel so
// only the latest view is pending.
func (s *Session) publish() {
	snap := s.store.Snapshot()
	s.view.Store(snap)
	s.metrics.StoreSize(s.key.ID(), len(snap))

	for {
		select {
		case s.updates <- snap:
			return
		default:
			select {
			case <-s.updates:
			default:
			}
		}
	}
}

// reportErr surfaces an error without ever blocking the apply loop.
func (s *Session) reportErr(err error) {
	select {
	case s.errs <- err:
	default:
		s.log.Warn("session.error.dropped", "err", err)
	}
}

func (s *Session) historyLoop(ctx context.Context) error {
	fetch := func() {
		fctx, cancel := context.WithTimeout(ctx, s.historyTimeout)
		defer cancel()

		batch, err := s.history.FetchRecent(fctx, s.key, s.historyLimit)
		select {
		case s.historyCh <- historyResult{batch: batch, err: err}:
		case <-ctx.Done():
		}
	}

	fetch()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.refreshCh:
			fetch()
		}
	}
}

// transition moves to the target state unless the session is already closed.
func (s *Session) transition(to SessionState) {
	for {
		cur := SessionState(s.state.Load())
		if cur == to || cur == SessionClosed {
			return
		}
		if s.state.CompareAndSwap(int32(cur), int32(to)) {
			s.log.Info("session.state", "from", cur.String(), "to", to.String())
			return
		}
	}
}

// transitionFrom moves from -> to only when currently in from.
func (s *Session) transitionFrom(from, to SessionState) {
	if s.state.CompareAndSwap(int32(from), int32(to)) {
		s.log.Info("session.state", "from", from.String(), "to", to.String())
	}
}
