// Package identity resolves who is calling the backend and turns that into
// request headers.
package identity

import (
	"context"
	"fmt"
)

// Kind distinguishes the two identity variants.
type Kind int

const (
	Anonymous Kind = iota
	Authenticated
)

func (k Kind) String() string {
	switch k {
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "guest"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// TokenSource yields a bearer token. Implementations fetch a fresh token on
// every call; callers must not cache the result.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

func (f TokenSourceFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Principal is the resolved caller. Exactly one of UserID or SessionID is set,
// according to Kind.
type Principal struct {
	Kind      Kind
	UserID    string
	SessionID string
	tokens    TokenSource
}

// NewAuthenticated returns a principal for a signed-in user.
func NewAuthenticated(userID string, tokens TokenSource) Principal {
	return Principal{Kind: Authenticated, UserID: userID, tokens: tokens}
}

// NewAnonymous returns a principal for a guest session.
func NewAnonymous(sessionID string) Principal {
	return Principal{Kind: Anonymous, SessionID: sessionID}
}

// ID is the identifier used to scope history: the user id or the session id.
func (p Principal) ID() string {
	if p.Kind == Authenticated {
		return p.UserID
	}
	return p.SessionID
}

// Token fetches a fresh bearer token for an authenticated principal.
func (p Principal) Token(ctx context.Context) (string, error) {
	if p.Kind != Authenticated {
		return "", fmt.Errorf("anonymous principal has no token")
	}
	if p.tokens == nil {
		return "", fmt.Errorf("no token source for user %s", p.UserID)
	}
	return p.tokens.Token(ctx)
}
