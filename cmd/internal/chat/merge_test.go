package chat

import (
	"testing"
	"time"
)

// A live insert can land before the history batch that contains the same
// row. The batch must not clobber or duplicate it.
func TestMergeHistory_LiveInsertBeforeHistoryBatch(t *testing.T) {
	t.Parallel()

	s := NewStore()

	live := msg("m2", 2*time.Second)
	if !mergeEvent(s, Event{Action: EventInsert, Message: live}) {
		t.Fatalf("live insert reported no change")
	}

	batch := []Message{msg("m1", time.Second), msg("m2", 2*time.Second), msg("m3", 3*time.Second)}
	if added := mergeHistory(s, batch); added != 2 {
		t.Fatalf("added=%d, want 2", added)
	}

	assertInvariants(t, s)
	if s.Len() != 3 {
		t.Fatalf("len=%d, want 3", s.Len())
	}
}

func TestMergeHistory_EmptyBatch(t *testing.T) {
	t.Parallel()

	s := NewStore()
	if added := mergeHistory(s, nil); added != 0 {
		t.Fatalf("added=%d, want 0", added)
	}
}

func TestMergeEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		seed    []Message
		ev      Event
		changed bool
		wantLen int
	}{
		{
			name:    "insert new",
			ev:      Event{Action: EventInsert, Message: msg("m1", time.Second)},
			changed: true,
			wantLen: 1,
		},
		{
			name:    "insert duplicate is idempotent",
			seed:    []Message{msg("m1", time.Second)},
			ev:      Event{Action: EventInsert, Message: msg("m1", time.Second)},
			changed: false,
			wantLen: 1,
		},
		{
			name: "update replaces",
			seed: []Message{msg("m1", time.Second)},
			ev: Event{Action: EventUpdate, Message: func() Message {
				m := msg("m1", time.Second)
				m.Content = "edited"
				return m
			}()},
			changed: true,
			wantLen: 1,
		},
		{
			name:    "update for unseen row upserts",
			ev:      Event{Action: EventUpdate, Message: msg("m1", time.Second)},
			changed: true,
			wantLen: 1,
		},
		{
			name:    "delete removes",
			seed:    []Message{msg("m1", time.Second)},
			ev:      Event{Action: EventDelete, DeletedID: "m1"},
			changed: true,
			wantLen: 0,
		},
		{
			name:    "delete of absent id is a no-op",
			ev:      Event{Action: EventDelete, DeletedID: "m1"},
			changed: false,
			wantLen: 0,
		},
		{
			name:    "unknown action ignored",
			ev:      Event{Action: EventAction(99), Message: msg("m1", time.Second)},
			changed: false,
			wantLen: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := NewStore()
			for _, m := range tc.seed {
				s.Insert(m)
			}

			if got := mergeEvent(s, tc.ev); got != tc.changed {
				t.Fatalf("changed=%v, want %v", got, tc.changed)
			}
			if s.Len() != tc.wantLen {
				t.Fatalf("len=%d, want %d", s.Len(), tc.wantLen)
			}
			assertInvariants(t, s)
		})
	}
}
