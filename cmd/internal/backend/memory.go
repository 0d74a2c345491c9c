package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"skiff/cmd/internal/chat"
	"skiff/cmd/internal/ids"
)

const (
	memMaxMessagesPerConversation = 10_000

	memDefaultQueueSize = 64
	memMinQueueSize     = 8
)

// Memory is a fully in-process backend: history source, message writer and
// change feed in one. It exists for dev mode (no DB, no feed server) and for
// tests; a write fans out to the conversation's subscribers exactly like a
// real feed echo would.
type Memory struct {
	log       *slog.Logger
	queueSize int

	mu    sync.Mutex
	convs map[string]*memConv
	seq   int
}

type memConv struct {
	msgs []chat.Message // ordered ascending; appends carry monotonic timestamps
	subs map[int]*memSub
}

// NewMemory constructs an in-memory backend.
func NewMemory(log *slog.Logger, queueSize int) *Memory {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if queueSize < memMinQueueSize {
		queueSize = memDefaultQueueSize
	}
	return &Memory{
		log:       log,
		queueSize: queueSize,
		convs:     make(map[string]*memConv),
	}
}

// FetchRecent returns the limit most-recent messages ascending.
func (m *Memory) FetchRecent(ctx context.Context, key chat.ConversationKey, limit int) ([]chat.Message, error) {
	if key.IsZero() {
		return nil, errors.New("backend: zero conversation key")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.convs[key.ID()]
	if c == nil || len(c.msgs) == 0 {
		return nil, nil
	}

	start := len(c.msgs) - limit
	if start < 0 {
		start = 0
	}
	return append([]chat.Message(nil), c.msgs[start:]...), nil
}

// Insert appends a message with a backend-assigned ULID id and timestamp and
// fans it out to the conversation's subscribers.
func (m *Memory) Insert(ctx context.Context, key chat.ConversationKey, senderID, content string) error {
	if key.IsZero() || senderID == "" || content == "" {
		return errors.New("backend: invalid input")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return err
	}

	msg := chat.Message{
		ID:             id,
		ConversationID: key.ID(),
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      now,
	}

	m.mu.Lock()
	c := m.conv(key.ID())
	c.msgs = append(c.msgs, msg)
	// Bound memory to avoid unbounded growth in dev.
	if len(c.msgs) > memMaxMessagesPerConversation {
		c.msgs = c.msgs[len(c.msgs)-memMaxMessagesPerConversation:]
	}
	m.fanoutLocked(c, chat.Event{Action: chat.EventInsert, Message: msg})
	m.mu.Unlock()
	return nil
}

// Update edits a stored message in place and fans out the update event.
func (m *Memory) Update(key chat.ConversationKey, id, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.convs[key.ID()]
	if c == nil {
		return fmt.Errorf("backend: unknown conversation %s", key.ID())
	}
	for i, msg := range c.msgs {
		if msg.ID != id {
			continue
		}
		msg.Content = content
		c.msgs[i] = msg
		m.fanoutLocked(c, chat.Event{Action: chat.EventUpdate, Message: msg})
		return nil
	}
	return fmt.Errorf("backend: unknown message %s", id)
}

// Delete removes a stored message and fans out the delete event.
func (m *Memory) Delete(key chat.ConversationKey, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.convs[key.ID()]
	if c == nil {
		return fmt.Errorf("backend: unknown conversation %s", key.ID())
	}
	for i, msg := range c.msgs {
		if msg.ID != id {
			continue
		}
		c.msgs = append(c.msgs[:i], c.msgs[i+1:]...)
		m.fanoutLocked(c, chat.Event{Action: chat.EventDelete, DeletedID: id})
		return nil
	}
	return fmt.Errorf("backend: unknown message %s", id)
}

// Subscribe attaches a live in-process subscription for the conversation.
func (m *Memory) Subscribe(ctx context.Context, key chat.ConversationKey) (chat.Subscription, error) {
	if key.IsZero() {
		return nil, errors.New("backend: zero conversation key")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &memSub{
		mem:    m,
		key:    key,
		events: make(chan chat.Event, m.queueSize),
		status: make(chan chat.Status, 8),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.seq++
	sub.id = m.seq
	m.conv(key.ID()).subs[sub.id] = sub
	m.mu.Unlock()

	sub.status <- chat.Status{State: chat.FeedConnecting}
	sub.status <- chat.Status{State: chat.FeedLive}

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// conv returns the conversation bucket, creating it when absent.
// Callers hold m.mu.
func (m *Memory) conv(id string) *memConv {
	c := m.convs[id]
	if c == nil {
		c = &memConv{subs: make(map[int]*memSub)}
		m.convs[id] = c
	}
	return c
}

// fanoutLocked delivers an event to every subscriber of the conversation.
// Non-blocking: a full subscriber queue drops rather than stalling the write
// path. Callers hold m.mu, which also excludes concurrent unsubscribes.
func (m *Memory) fanoutLocked(c *memConv, ev chat.Event) {
	for _, sub := range c.subs {
		select {
		case sub.events <- ev:
		default:
			m.log.Warn("memory.fanout.drop", "conversation_id", ev.Message.ConversationID)
		}
	}
}

type memSub struct {
	mem *Memory
	key chat.ConversationKey
	id  int

	events chan chat.Event
	status chan chat.Status

	done      chan struct{}
	closeOnce sync.Once
}

func (s *memSub) Events() <-chan chat.Event  { return s.events }
func (s *memSub) Status() <-chan chat.Status { return s.status }

// Close unregisters the subscription (idempotent). Channel closes happen
// after removal under the backend lock, so no fanout can race them.
func (s *memSub) Close() error {
	s.closeOnce.Do(func() {
		s.mem.mu.Lock()
		if c := s.mem.convs[s.key.ID()]; c != nil {
			delete(c.subs, s.id)
		}
		s.mem.mu.Unlock()

		select {
		case s.status <- chat.Status{State: chat.FeedClosed}:
		default:
		}
		close(s.status)
		close(s.events)
		close(s.done)
	})
	return nil
}
