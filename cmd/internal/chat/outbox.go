package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus is the lifecycle state of one send request.
type OutboxStatus int

const (
	OutboxPending OutboxStatus = iota + 1
	OutboxAcked
	OutboxFailed
)

func (s OutboxStatus) String() string {
	switch s {
	case OutboxPending:
		return "pending"
	case OutboxAcked:
		return "acked"
	case OutboxFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// OutboxEntry tracks one in-flight send until the feed echoes the persisted
// row back or the write fails. Entries only drive caller feedback (e.g.
// restoring unsent input); they never enter the Store.
type OutboxEntry struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	SubmittedAt    time.Time
	Status         OutboxStatus
	Err            error
}

// outbox holds the pending entries of one session.
//
// Confirmed messages carry the server-assigned id, not a client id, so the
// echo is matched heuristically: same sender, same content, submitted within
// the configured window. Oldest pending entry wins; resolved entries are
// discarded immediately.
type outbox struct {
	mu      sync.Mutex
	window  time.Duration
	pending []OutboxEntry
}

func newOutbox(window time.Duration) *outbox {
	return &outbox{window: window}
}

// add registers a new pending entry and returns a copy.
func (o *outbox) add(conversationID, senderID, content string, now time.Time) OutboxEntry {
	e := OutboxEntry{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		SubmittedAt:    now,
		Status:         OutboxPending,
	}

	o.mu.Lock()
	o.pending = append(o.pending, e)
	o.mu.Unlock()
	return e
}

// fail resolves the entry with the given id as failed and removes it.
func (o *outbox) fail(id string, err error) (OutboxEntry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, e := range o.pending {
		if e.ID != id {
			continue
		}
		o.pending = append(o.pending[:i], o.pending[i+1:]...)
		e.Status = OutboxFailed
		e.Err = err
		return e, true
	}
	return OutboxEntry{}, false
}

// ack matches a feed echo against the oldest pending entry with the same
// sender and content inside the time window, resolves it and removes it.
func (o *outbox) ack(m Message, now time.Time) (OutboxEntry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, e := range o.pending {
		if e.SenderID != m.SenderID || e.Content != m.Content {
			continue
		}
		if now.Sub(e.SubmittedAt) > o.window {
			continue
		}
		o.pending = append(o.pending[:i], o.pending[i+1:]...)
		e.Status = OutboxAcked
		return e, true
	}
	return OutboxEntry{}, false
}

// snapshot returns the pending entries in submission order.
func (o *outbox) snapshot() []OutboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]OutboxEntry(nil), o.pending...)
}
