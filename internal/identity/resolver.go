package identity

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/reconctl/api/schemas"
)

// Resolver turns the provider state and the session store into a Principal.
// The provider is consulted on every call so a sign-in or sign-out between
// calls is honoured.
type Resolver struct {
	provider  Provider
	store     SessionStore
	generator *SessionIDGenerator
	logger    *zap.Logger

	// mu serializes get-or-create of the guest session id.
	mu sync.Mutex
}

// NewResolver creates a Resolver. A nil generator uses crypto/rand with no
// marker offset.
func NewResolver(provider Provider, store SessionStore, generator *SessionIDGenerator, logger *zap.Logger) *Resolver {
	if provider == nil {
		provider = AnonymousProvider{}
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if generator == nil {
		generator = NewSessionIDGenerator(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{provider: provider, store: store, generator: generator, logger: logger.Named("identity")}
}

// Resolve returns the authenticated user if one is signed in, otherwise the
// guest session, creating and persisting it on first use.
func (r *Resolver) Resolve(ctx context.Context) (Principal, error) {
	user, err := r.provider.CurrentUser(ctx)
	if err != nil {
		return Principal{}, schemas.NewJobError(schemas.ErrIdentity, "resolve", err)
	}
	if user != nil {
		return NewAuthenticated(user.ID, user.Tokens), nil
	}

	id, err := r.SessionID()
	if err != nil {
		return Principal{}, schemas.NewJobError(schemas.ErrIdentity, "resolve", err)
	}
	return NewAnonymous(id), nil
}

// SessionID returns the stored guest session id or mints a new one.
func (r *Resolver) SessionID() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.store.Get()
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	id, err = r.generator.Generate()
	if err != nil {
		return "", err
	}
	if err := r.store.Set(id); err != nil {
		return "", err
	}
	r.logger.Debug("Created guest session", zap.String("session_id", id))
	return id, nil
}

// ClearSession forgets the guest session; the next Resolve mints a new one.
func (r *Resolver) ClearSession() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Clear()
}
