package chat

import (
	"testing"
	"time"
)

func TestNewConversationKey_Symmetric(t *testing.T) {
	t.Parallel()

	ab, err := NewConversationKey("alice", "bob")
	if err != nil {
		t.Fatalf("NewConversationKey: %v", err)
	}
	ba, err := NewConversationKey("bob", "alice")
	if err != nil {
		t.Fatalf("NewConversationKey: %v", err)
	}

	if ab.ID() != ba.ID() {
		t.Fatalf("key not symmetric: %q vs %q", ab.ID(), ba.ID())
	}
	if ab.Topic() != ab.ID() {
		t.Fatalf("topic diverges from id: %q vs %q", ab.Topic(), ab.ID())
	}
}

func TestNewConversationKey_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		participants []string
	}{
		{name: "empty id", participants: []string{"alice", ""}},
		{name: "whitespace id", participants: []string{"alice", "   "}},
		{name: "separator in id", participants: []string{"alice", "b-ob"}},
		{name: "single participant", participants: []string{"alice"}},
		{name: "no participants", participants: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewConversationKey(tc.participants...); err == nil {
				t.Fatalf("expected error for %v", tc.participants)
			}
		})
	}
}

func TestConversationKey_Matches(t *testing.T) {
	t.Parallel()

	key, err := NewConversationKey("alice", "bob")
	if err != nil {
		t.Fatalf("NewConversationKey: %v", err)
	}

	base := Message{
		ID:             "m1",
		ConversationID: key.ID(),
		SenderID:       "alice",
		CreatedAt:      time.Now().UTC(),
	}

	tests := []struct {
		name   string
		mutate func(Message) Message
		want   bool
	}{
		{name: "participant sender", mutate: func(m Message) Message { return m }, want: true},
		{
			name:   "foreign conversation",
			mutate: func(m Message) Message { m.ConversationID = "chat-x-y"; return m },
			want:   false,
		},
		{
			name:   "non-participant sender",
			mutate: func(m Message) Message { m.SenderID = "mallory"; return m },
			want:   false,
		},
		{
			// Some feeds omit the sender on partial rows; conversation id alone decides.
			name:   "empty sender",
			mutate: func(m Message) Message { m.SenderID = ""; return m },
			want:   true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := key.Matches(tc.mutate(base)); got != tc.want {
				t.Fatalf("Matches=%v, want %v", got, tc.want)
			}
		})
	}
}

func TestConversationKey_Participants(t *testing.T) {
	t.Parallel()

	key, err := NewConversationKey("bob", "alice", "carol")
	if err != nil {
		t.Fatalf("NewConversationKey: %v", err)
	}

	got := key.Participants()
	want := []string{"alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("participants len=%d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("participant %d: got %q, want %q", i, got[i], want[i])
		}
	}

	got[0] = "mutated"
	if key.Participants()[0] != "alice" {
		t.Fatalf("Participants returned aliased slice")
	}
}
