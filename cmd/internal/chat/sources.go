package chat

import "context"

// EventAction tags a change feed event.
type EventAction int

const (
	EventInsert EventAction = iota + 1
	EventUpdate
	EventDelete
)

func (a EventAction) String() string {
	switch a {
	case EventInsert:
		return "insert"
	case EventUpdate:
		return "update"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is one decoded change feed event.
//
// Message is valid for EventInsert and EventUpdate. DeletedID is valid for
// EventDelete; delete payloads may carry nothing but the row id.
type Event struct {
	Action    EventAction
	Message   Message
	DeletedID string
}

// FeedState is the engine-side view of the subscription lifecycle.
type FeedState int

const (
	FeedIdle FeedState = iota
	FeedConnecting
	FeedLive
	FeedDegraded
	FeedClosed
)

func (s FeedState) String() string {
	switch s {
	case FeedIdle:
		return "idle"
	case FeedConnecting:
		return "connecting"
	case FeedLive:
		return "live"
	case FeedDegraded:
		return "degraded"
	case FeedClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status is one subscription state change.
//
// Err is set for FeedDegraded. Terminal marks a degraded status that will not
// be retried (the reconnect budget is exhausted); the subscription closes
// after emitting it.
type Status struct {
	State    FeedState
	Err      error
	Attempt  int
	Terminal bool
}

// Subscription is a live change feed attachment for one conversation.
//
// Events and Status are closed when the subscription ends. Close is
// idempotent and releases the backend subscription; an unreleased
// subscription keeps consuming server resources indefinitely.
type Subscription interface {
	Events() <-chan Event
	Status() <-chan Status
	Close() error
}

// HistorySource fetches the most recent page of a conversation.
//
// Implementations return messages ordered ascending by (CreatedAt, ID) and
// respect ctx cancellation/deadline. Failures are surfaced as-is; the engine
// wraps them into FetchError.
type HistorySource interface {
	FetchRecent(ctx context.Context, key ConversationKey, limit int) ([]Message, error)
}

// ChangeFeedSource opens live subscriptions.
type ChangeFeedSource interface {
	Subscribe(ctx context.Context, key ConversationKey) (Subscription, error)
}

// MessageWriter persists a new message.
//
// The write is acknowledged by the backend; the persisted row (with its
// authoritative id and timestamp) arrives through the change feed echo, never
// through this interface.
type MessageWriter interface {
	Insert(ctx context.Context, key ConversationKey, senderID, content string) error
}

// ActorProvider resolves the current actor id.
// Authentication is an external collaborator; this is its only surface here.
type ActorProvider interface {
	CurrentActorID(ctx context.Context) (string, error)
}
