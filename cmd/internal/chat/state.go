package chat

// SessionState is the lifecycle state of one open conversation session.
type SessionState int32

const (
	SessionNotStarted SessionState = iota
	// SessionLoading: history fetch and feed connect are both in flight.
	SessionLoading
	// SessionActive: the feed is live; the Store is being served and updated.
	SessionActive
	// SessionDegraded: the feed dropped; a reconnect is scheduled while the
	// Store keeps serving the cached view.
	SessionDegraded
	// SessionClosed is terminal. A new session must be opened to reattach.
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionNotStarted:
		return "not_started"
	case SessionLoading:
		return "loading"
	case SessionActive:
		return "active"
	case SessionDegraded:
		return "degraded"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}
