package chat

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// keyPrefix keeps feed topics recognizable in server logs.
const keyPrefix = "chat"

// ConversationKey addresses one logical message stream.
//
// It is derived deterministically and symmetrically from the participant ids:
// Key(a, b) == Key(b, a). The derived id is stable across restarts so that a
// reconnect attaches to the same feed topic.
type ConversationKey struct {
	id           string
	participants []string
}

// NewConversationKey derives the key for the given participants (two or more).
func NewConversationKey(participants ...string) (ConversationKey, error) {
	cleaned := make([]string, 0, len(participants))
	for _, p := range participants {
		p = strings.TrimSpace(p)
		if p == "" {
			return ConversationKey{}, errors.New("chat: empty participant id")
		}
		if strings.Contains(p, "-") {
			// Participant ids become topic segments; "-" is the separator.
			return ConversationKey{}, fmt.Errorf("chat: participant id %q contains separator", p)
		}
		cleaned = append(cleaned, p)
	}
	if len(cleaned) < 2 {
		return ConversationKey{}, errors.New("chat: conversation needs at least two participants")
	}

	sort.Strings(cleaned)
	return ConversationKey{
		id:           keyPrefix + "-" + strings.Join(cleaned, "-"),
		participants: cleaned,
	}, nil
}

// ID returns the conversation identifier. Messages belonging to this
// conversation carry the same value in Message.ConversationID.
func (k ConversationKey) ID() string { return k.id }

// Topic returns the feed topic addressed by this key.
// Currently identical to ID; kept separate because wire topics and storage
// ids may diverge on future backends.
func (k ConversationKey) Topic() string { return k.id }

// Participants returns a copy of the sorted participant ids.
func (k ConversationKey) Participants() []string {
	return append([]string(nil), k.participants...)
}

// HasParticipant reports whether id is one of the key's participants.
func (k ConversationKey) HasParticipant(id string) bool {
	for _, p := range k.participants {
		if p == id {
			return true
		}
	}
	return false
}

// IsZero reports whether the key is uninitialized.
func (k ConversationKey) IsZero() bool { return k.id == "" }

// Matches reports whether a message belongs to this conversation.
//
// This is the client-side safety filter: server-side feed predicates cannot
// reliably express the symmetric participant condition, so every received
// event is re-checked here before it may touch the Store.
func (k ConversationKey) Matches(m Message) bool {
	if m.ConversationID != k.id {
		return false
	}
	if m.SenderID != "" && !k.HasParticipant(m.SenderID) {
		return false
	}
	return true
}

func (k ConversationKey) String() string { return k.id }
