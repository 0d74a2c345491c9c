package chat

import (
	"errors"
	"fmt"
)

// Sentinel error kinds (stable for errors.Is in callers and tests).
var (
	ErrFetchFailed   = errors.New("fetch_failed")
	ErrFeedFailed    = errors.New("feed_failed")
	ErrWriteFailed   = errors.New("write_failed")
	ErrBlankContent  = errors.New("blank_content")
	ErrNoActor       = errors.New("no_actor")
	ErrSessionClosed = errors.New("session_closed")
)

// FetchError reports a failed history load. Recoverable: the caller may
// re-invoke the loader via Session.RefreshHistory.
type FetchError struct {
	Key ConversationKey
	Err error
}

func (e FetchError) Error() string {
	return fmt.Sprintf("history fetch %s: %v", e.Key, e.Err)
}

func (e FetchError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrFetchFailed) hold for any FetchError.
func (e FetchError) Is(target error) bool { return target == ErrFetchFailed }

// FeedError reports an exhausted feed connection. Transient feed failures are
// absorbed into the Degraded state and never materialize as a FeedError; one
// is surfaced only when the reconnect budget runs out, and it is terminal for
// the session's subscription.
type FeedError struct {
	Key      ConversationKey
	Attempts int
	Err      error
}

func (e FeedError) Error() string {
	return fmt.Sprintf("feed %s: gave up after %d attempts: %v", e.Key, e.Attempts, e.Err)
}

func (e FeedError) Unwrap() error { return e.Err }

func (e FeedError) Is(target error) bool { return target == ErrFeedFailed }

// WriteError reports a failed send. Content carries the attempted text
// unmodified so the caller can restore it into editable input state.
type WriteError struct {
	Key     ConversationKey
	Content string
	Err     error
}

func (e WriteError) Error() string {
	return fmt.Sprintf("send %s: %v", e.Key, e.Err)
}

func (e WriteError) Unwrap() error { return e.Err }

func (e WriteError) Is(target error) bool { return target == ErrWriteFailed }

// IsFetchError reports whether err is (or wraps) a FetchError.
func IsFetchError(err error) bool {
	var fe FetchError
	return errors.As(err, &fe)
}

// IsFeedError reports whether err is (or wraps) a FeedError.
func IsFeedError(err error) bool {
	var fe FeedError
	return errors.As(err, &fe)
}

// IsWriteError reports whether err is (or wraps) a WriteError.
func IsWriteError(err error) bool {
	var we WriteError
	return errors.As(err, &we)
}

// RestorableContent extracts the attempted content from a failed send, so UI
// layers can hand it back to the input field without knowing error internals.
func RestorableContent(err error) (string, bool) {
	var we WriteError
	if errors.As(err, &we) {
		return we.Content, true
	}
	return "", false
}
