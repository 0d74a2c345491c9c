// Package chat implements Skiff's per-conversation sync engine: an ordered,
// deduplicated message view folded from a one-shot history fetch and a live
// change feed, plus the send coordination against the feed echo.
//
// Concurrency model:
//   - Every Store mutation of a session flows through one apply loop goroutine.
//   - Sessions for different conversations share no mutable state.
package chat

import "time"

// Message is one persisted chat message.
//
// ID is assigned by the backend and unique within a conversation. CreatedAt
// is server-assigned and NOT unique; (CreatedAt, ID) is the total order used
// everywhere in this package.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	CreatedAt      time.Time
}

// Less reports whether m sorts strictly before other under (CreatedAt, ID).
func (m Message) Less(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// sameOrderKey reports whether two messages occupy the same order position.
func sameOrderKey(a, b Message) bool {
	return a.CreatedAt.Equal(b.CreatedAt) && a.ID == b.ID
}

// equalMessage compares field-by-field. time.Time is compared with Equal to
// ignore monotonic clock readings.
func equalMessage(a, b Message) bool {
	return a.ID == b.ID &&
		a.ConversationID == b.ConversationID &&
		a.SenderID == b.SenderID &&
		a.Content == b.Content &&
		a.CreatedAt.Equal(b.CreatedAt)
}
