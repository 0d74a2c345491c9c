// Package actor resolves the current actor identity.
//
// Authentication and session management live outside the sync engine; this
// package is the engine-facing surface of that collaborator. The CLI runtime
// uses the static provider; an app embedding the engine supplies its own
// chat.ActorProvider backed by its auth stack.
package actor

import (
	"context"
	"errors"
	"strings"
)

// ErrNoActor is returned when no actor identity is configured.
var ErrNoActor = errors.New("actor: not configured")

// Static returns a fixed actor id.
type Static struct {
	id string
}

// NewStatic constructs a Static provider. An empty id is allowed here and
// surfaces as ErrNoActor on use, so callers can wire configuration
// unconditionally and fail only when a session is actually opened.
func NewStatic(id string) Static {
	return Static{id: strings.TrimSpace(id)}
}

// CurrentActorID returns the configured actor id.
func (s Static) CurrentActorID(_ context.Context) (string, error) {
	if s.id == "" {
		return "", ErrNoActor
	}
	return s.id, nil
}
