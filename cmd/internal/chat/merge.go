package chat

// Merge rules. Applied only from a session's apply loop, one unit of work at
// a time, so order of arrival between history and live events cannot
// interleave (§ concurrency model in the package doc).

// mergeHistory folds a history batch into the Store.
//
// Insert-or-ignore per id: a live event that already landed for an id wins
// over the (older) history row. Never a wholesale list replacement — live
// inserts applied before the batch arrives must survive it.
// Returns the number of messages actually added.
func mergeHistory(s *Store, batch []Message) int {
	added := 0
	for _, m := range batch {
		if s.Insert(m) {
			added++
		}
	}
	return added
}

// mergeEvent applies one live event to the Store.
// Returns true when the Store changed.
func mergeEvent(s *Store, ev Event) bool {
	switch ev.Action {
	case EventInsert:
		// Idempotent: duplicate delivery and the history race both resolve
		// to "already present, ignore".
		return s.Insert(ev.Message)
	case EventUpdate:
		// Upsert: an update for a row we never saw (e.g. edited while the
		// history page missed it) is treated as an insert.
		return s.Replace(ev.Message)
	case EventDelete:
		return s.Remove(ev.DeletedID)
	default:
		return false
	}
}
