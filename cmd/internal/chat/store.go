package chat

import "sort"

// Store is the in-memory ordered message collection for one conversation.
//
// Invariants (hold after every exported mutation):
//   - messages are sorted ascending by (CreatedAt, ID)
//   - no two messages share an ID
//
// Store is a pure data structure: no locking, no I/O. The owning session
// serializes all access through its apply loop.
type Store struct {
	msgs []Message
	byID map[string]Message
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		msgs: make([]Message, 0, 64),
		byID: make(map[string]Message),
	}
}

// Len returns the number of messages.
func (s *Store) Len() int { return len(s.msgs) }

// Get returns the message with the given id, if present.
func (s *Store) Get(id string) (Message, bool) {
	m, ok := s.byID[id]
	return m, ok
}

// Snapshot returns a copy of the ordered view.
func (s *Store) Snapshot() []Message {
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Insert adds a message unless its id is already present.
// Returns true when the Store changed.
func (s *Store) Insert(m Message) bool {
	if _, ok := s.byID[m.ID]; ok {
		return false
	}
	s.insertAt(m)
	return true
}

// Replace substitutes the stored message with the same id, repositioning it
// when the order key changed. When the id is absent it behaves like Insert.
// Returns true when the Store changed.
func (s *Store) Replace(m Message) bool {
	old, ok := s.byID[m.ID]
	if !ok {
		s.insertAt(m)
		return true
	}
	if equalMessage(old, m) {
		return false
	}
	if sameOrderKey(old, m) {
		// Order key unchanged: replace in place.
		i := s.indexOf(old)
		s.msgs[i] = m
		s.byID[m.ID] = m
		return true
	}
	s.removeAt(s.indexOf(old))
	s.insertAt(m)
	return true
}

// Remove deletes the message with the given id.
// Returns true when the Store changed; removing an absent id is a no-op.
func (s *Store) Remove(id string) bool {
	old, ok := s.byID[id]
	if !ok {
		return false
	}
	s.removeAt(s.indexOf(old))
	delete(s.byID, id)
	return true
}

// insertAt places m at its (CreatedAt, ID) position and indexes it.
func (s *Store) insertAt(m Message) {
	i := sort.Search(len(s.msgs), func(i int) bool { return m.Less(s.msgs[i]) })
	s.msgs = append(s.msgs, Message{})
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = m
	s.byID[m.ID] = m
}

func (s *Store) removeAt(i int) {
	copy(s.msgs[i:], s.msgs[i+1:])
	s.msgs = s.msgs[:len(s.msgs)-1]
}

// indexOf locates a stored message by its unique order key.
// The caller guarantees presence.
func (s *Store) indexOf(m Message) int {
	i := sort.Search(len(s.msgs), func(i int) bool { return !s.msgs[i].Less(m) })
	return i
}
