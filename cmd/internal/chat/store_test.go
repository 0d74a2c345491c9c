package chat

import (
	"testing"
	"time"
)

var storeEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, offset time.Duration) Message {
	return Message{
		ID:             id,
		ConversationID: "chat-a-b",
		SenderID:       "a",
		Content:        "content-" + id,
		CreatedAt:      storeEpoch.Add(offset),
	}
}

func assertInvariants(t *testing.T, s *Store) {
	t.Helper()

	view := s.Snapshot()
	seen := make(map[string]struct{}, len(view))
	for i, m := range view {
		if _, dup := seen[m.ID]; dup {
			t.Fatalf("duplicate id %q in view", m.ID)
		}
		seen[m.ID] = struct{}{}
		if i > 0 && !view[i-1].Less(m) {
			t.Fatalf("order violation at %d: %q !< %q", i, view[i-1].ID, m.ID)
		}
	}
	if len(view) != s.Len() {
		t.Fatalf("snapshot len=%d, store len=%d", len(view), s.Len())
	}
}

func TestStore_Insert_OrdersByCreatedAtThenID(t *testing.T) {
	t.Parallel()

	s := NewStore()

	// Same timestamp for m2/m3: the ID breaks the tie.
	inserts := []Message{
		msg("m3", 2*time.Second),
		msg("m1", 1*time.Second),
		msg("m2", 2*time.Second),
		msg("m0", 0),
	}
	for _, m := range inserts {
		if !s.Insert(m) {
			t.Fatalf("insert %q reported no change", m.ID)
		}
	}

	assertInvariants(t, s)

	want := []string{"m0", "m1", "m2", "m3"}
	view := s.Snapshot()
	for i, id := range want {
		if view[i].ID != id {
			t.Fatalf("position %d: got %q, want %q", i, view[i].ID, id)
		}
	}
}

func TestStore_Insert_DuplicateIDIgnored(t *testing.T) {
	t.Parallel()

	s := NewStore()
	first := msg("m1", time.Second)
	s.Insert(first)

	dup := first
	dup.Content = "changed"
	if s.Insert(dup) {
		t.Fatalf("duplicate insert reported a change")
	}

	got, _ := s.Get("m1")
	if got.Content != first.Content {
		t.Fatalf("duplicate insert overwrote content: %q", got.Content)
	}
	assertInvariants(t, s)
}

func TestStore_Replace(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(Message) Message
		changed   bool
		wantFirst string
	}{
		{
			name:      "content only keeps position",
			mutate:    func(m Message) Message { m.Content = "edited"; return m },
			changed:   true,
			wantFirst: "m1",
		},
		{
			name: "new timestamp repositions",
			mutate: func(m Message) Message {
				m.CreatedAt = storeEpoch.Add(time.Hour)
				return m
			},
			changed:   true,
			wantFirst: "m2",
		},
		{
			name:    "identical message is a no-op",
			mutate:  func(m Message) Message { return m },
			changed: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := NewStore()
			s.Insert(msg("m1", time.Second))
			s.Insert(msg("m2", 2*time.Second))

			target, _ := s.Get("m1")
			if got := s.Replace(tc.mutate(target)); got != tc.changed {
				t.Fatalf("Replace changed=%v, want %v", got, tc.changed)
			}
			assertInvariants(t, s)

			if tc.wantFirst != "" {
				if view := s.Snapshot(); view[0].ID != tc.wantFirst {
					t.Fatalf("first after replace: got %q, want %q", view[0].ID, tc.wantFirst)
				}
			}
		})
	}
}

func TestStore_Replace_AbsentIDInserts(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Insert(msg("m1", time.Second))

	if !s.Replace(msg("m9", 2*time.Second)) {
		t.Fatalf("Replace of absent id reported no change")
	}
	if _, ok := s.Get("m9"); !ok {
		t.Fatalf("upserted message not found")
	}
	assertInvariants(t, s)
}

func TestStore_Remove(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Insert(msg("m1", time.Second))
	s.Insert(msg("m2", 2*time.Second))

	if !s.Remove("m1") {
		t.Fatalf("remove reported no change")
	}
	if _, ok := s.Get("m1"); ok {
		t.Fatalf("removed message still retrievable")
	}
	if s.Remove("m1") {
		t.Fatalf("second remove reported a change")
	}
	if s.Remove("never-existed") {
		t.Fatalf("remove of unknown id reported a change")
	}
	assertInvariants(t, s)
}

func TestStore_Snapshot_IsACopy(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Insert(msg("m1", time.Second))

	view := s.Snapshot()
	view[0].Content = "mutated"

	got, _ := s.Get("m1")
	if got.Content == "mutated" {
		t.Fatalf("snapshot aliases store memory")
	}
}
