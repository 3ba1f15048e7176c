package identity

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/reconctl/api/schemas"
	"github.com/xkilldash9x/reconctl/internal/config"
)

var sessionPattern = regexp.MustCompile(`^session_[0-9a-z]{9}_[0-9]+$`)

func fixedNow() time.Time { return time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC) }

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

// switchableProvider lets a test sign a user in or out between calls.
type switchableProvider struct {
	mu   sync.Mutex
	user *User
	err  error
}

func (s *switchableProvider) CurrentUser(context.Context) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user, s.err
}

func (s *switchableProvider) set(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
}

// -- Session ids --

func TestSessionIDGenerator_Format(t *testing.T) {
	gen := &SessionIDGenerator{
		Random:       bytes.NewReader([]byte{0, 1, 2, 10, 35, 36, 71, 200, 255}),
		Now:          fixedNow,
		MarkerOffset: 3 * time.Hour,
	}
	id, err := gen.Generate()
	require.NoError(t, err)

	assert.Regexp(t, sessionPattern, id)
	assert.Equal(t, "session_012az0zk3_", id[:len("session_012az0zk3_")])

	marker, ok := ParseSessionMarker(id)
	require.True(t, ok)
	assert.True(t, marker.Equal(fixedNow().Add(3*time.Hour)))
}

func TestSessionIDGenerator_RandomFailure(t *testing.T) {
	gen := &SessionIDGenerator{Random: bytes.NewReader([]byte{1, 2}), Now: fixedNow}
	_, err := gen.Generate()
	assert.Error(t, err)
}

func TestParseSessionMarker_Invalid(t *testing.T) {
	for _, id := range []string{"", "session_", "session_abc", "guest_abc_123", "session_abc_notanumber"} {
		_, ok := ParseSessionMarker(id)
		assert.False(t, ok, id)
	}
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Equal(t, path, store.Path())

	id, err := store.Get()
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, store.Set("session_abcdefghi_1"))
	id, err = store.Get()
	require.NoError(t, err)
	assert.Equal(t, "session_abcdefghi_1", id)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear(), "clearing twice is fine")
	id, _ = store.Get()
	assert.Empty(t, id)

	_, err = NewFileStore("  ")
	assert.Error(t, err)
}

// -- Resolver --

func TestResolver_AnonymousSessionReuse(t *testing.T) {
	store := NewMemoryStore()
	resolver := NewResolver(AnonymousProvider{}, store, NewSessionIDGenerator(3*time.Hour), zaptest.NewLogger(t))
	ctx := context.Background()

	first, err := resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, Anonymous, first.Kind)
	assert.Regexp(t, sessionPattern, first.SessionID)
	assert.Empty(t, first.UserID)

	second, err := resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	require.NoError(t, resolver.ClearSession())
	third, err := resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, third.SessionID)
	assert.Regexp(t, sessionPattern, third.SessionID)
}

func TestResolver_ExistingSessionIsUsed(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set("session_preexist_1"))
	resolver := NewResolver(nil, store, nil, nil)

	p, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "session_preexist_1", p.ID())
}

func TestResolver_ConcurrentResolveMintsOneSession(t *testing.T) {
	resolver := NewResolver(AnonymousProvider{}, NewMemoryStore(), nil, nil)

	const workers = 16
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := resolver.Resolve(context.Background())
			assert.NoError(t, err)
			ids[i] = p.SessionID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestResolver_ReevaluatesProvider(t *testing.T) {
	provider := &switchableProvider{}
	resolver := NewResolver(provider, NewMemoryStore(), nil, nil)
	ctx := context.Background()

	guest, err := resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, Anonymous, guest.Kind)

	provider.set(&User{ID: "uid-42", Tokens: TokenSourceFunc(func(context.Context) (string, error) { return "tok", nil })})
	user, err := resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, Authenticated, user.Kind)
	assert.Equal(t, "uid-42", user.ID())
	assert.Empty(t, user.SessionID)

	provider.set(nil)
	again, err := resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, guest.SessionID, again.SessionID, "guest session survives a sign-in")
}

func TestResolver_ProviderError(t *testing.T) {
	provider := &switchableProvider{err: errors.New("idp unavailable")}
	resolver := NewResolver(provider, nil, nil, nil)

	_, err := resolver.Resolve(context.Background())
	require.Error(t, err)
	assert.True(t, schemas.IsKind(err, schemas.ErrIdentity))
}

// -- Header builder --

func TestBuildHeaders_Authenticated(t *testing.T) {
	calls := 0
	p := NewAuthenticated("uid-1", TokenSourceFunc(func(context.Context) (string, error) {
		calls++
		return "fresh-token", nil
	}))

	headers, err := BuildHeaders(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Headers{
		"Authorization": "Bearer fresh-token",
		"Content-Type":  "application/json",
		"User-ID":       "uid-1",
		"User-Type":     "authenticated",
	}, headers)
	assert.NotContains(t, headers, HeaderSessionID)

	_, err = BuildHeaders(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "token is fetched on every build")
}

func TestBuildHeaders_Anonymous(t *testing.T) {
	headers, err := BuildHeaders(context.Background(), NewAnonymous("session_abc_1"))
	require.NoError(t, err)
	assert.Equal(t, Headers{
		"Content-Type": "application/json",
		"Session-ID":   "session_abc_1",
		"User-Type":    "guest",
	}, headers)
	assert.NotContains(t, headers, HeaderAuthorization)
	assert.NotContains(t, headers, HeaderUserID)
}

func TestBuildHeaders_TokenFailurePropagates(t *testing.T) {
	p := NewAuthenticated("uid-1", TokenSourceFunc(func(context.Context) (string, error) {
		return "", errors.New("refresh failed")
	}))
	headers, err := BuildHeaders(context.Background(), p)
	require.Error(t, err)
	assert.Nil(t, headers)
	assert.True(t, schemas.IsKind(err, schemas.ErrIdentity))
	assert.Contains(t, err.Error(), "refresh failed")
}

// -- Providers --

func TestStaticProvider(t *testing.T) {
	token := signToken(t, jwt.MapClaims{"user_id": "abc123"})
	user, err := StaticProvider{Token: token, Claim: "user_id"}.CurrentUser(context.Background())
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "abc123", user.ID)

	got, err := user.Tokens.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, token, got)

	none, err := StaticProvider{}.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStaticProvider_OpaqueTokenNeedsUserID(t *testing.T) {
	_, err := StaticProvider{Token: "opaque"}.CurrentUser(context.Background())
	assert.Error(t, err)

	user, err := StaticProvider{Token: "opaque", UserID: "u-9"}.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u-9", user.ID)
}

func TestFileTokenProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	provider, err := NewFileTokenProvider(path, "", "")
	require.NoError(t, err)
	provider.Now = fixedNow
	ctx := context.Background()

	user, err := provider.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, user, "missing file means signed out")

	first := signToken(t, jwt.MapClaims{"sub": "subject-1", "exp": fixedNow().Add(time.Hour).Unix()})
	require.NoError(t, os.WriteFile(path, []byte(first+"\n"), 0o600))

	user, err = provider.CurrentUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "subject-1", user.ID)

	tok, err := user.Tokens.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, tok)

	refreshed := signToken(t, jwt.MapClaims{"sub": "subject-1", "exp": fixedNow().Add(2 * time.Hour).Unix()})
	require.NoError(t, os.WriteFile(path, []byte(refreshed), 0o600))
	tok, err = user.Tokens.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, refreshed, tok, "token source re-reads the file")

	expired := signToken(t, jwt.MapClaims{"sub": "subject-1", "exp": fixedNow().Add(-time.Minute).Unix()})
	require.NoError(t, os.WriteFile(path, []byte(expired), 0o600))
	_, err = user.Tokens.Token(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestNewProviderFromConfig(t *testing.T) {
	p, err := NewProviderFromConfig(config.IdentityConfig{})
	require.NoError(t, err)
	assert.IsType(t, AnonymousProvider{}, p)

	p, err = NewProviderFromConfig(config.IdentityConfig{Token: "t", TokenFile: "/tmp/x"})
	require.NoError(t, err)
	assert.IsType(t, StaticProvider{}, p)

	p, err = NewProviderFromConfig(config.IdentityConfig{TokenFile: "/tmp/x"})
	require.NoError(t, err)
	assert.IsType(t, &FileTokenProvider{}, p)
}
