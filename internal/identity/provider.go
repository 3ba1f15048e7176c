package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/go-homedir"

	"github.com/xkilldash9x/reconctl/internal/config"
)

// User is a signed-in user as reported by the identity provider.
type User struct {
	ID     string
	Tokens TokenSource
}

// Provider reports the currently signed-in user. It returns (nil, nil) when
// nobody is signed in.
type Provider interface {
	CurrentUser(ctx context.Context) (*User, error)
}

// AnonymousProvider never has a signed-in user.
type AnonymousProvider struct{}

func (AnonymousProvider) CurrentUser(context.Context) (*User, error) { return nil, nil }

// StaticProvider serves a fixed token, typically from the environment.
type StaticProvider struct {
	Token  string
	UserID string
	// Claim names the JWT claim holding the user id when UserID is empty.
	Claim string
	Now   func() time.Time
}

func (s StaticProvider) CurrentUser(context.Context) (*User, error) {
	token := strings.TrimSpace(s.Token)
	if token == "" {
		return nil, nil
	}
	uid, err := resolveUserID(token, s.UserID, s.Claim)
	if err != nil {
		return nil, err
	}
	now := s.Now
	return &User{ID: uid, Tokens: TokenSourceFunc(func(context.Context) (string, error) {
		if err := checkExpiry(token, now); err != nil {
			return "", err
		}
		return token, nil
	})}, nil
}

// FileTokenProvider reads a bearer token from a file maintained by an
// external login flow. The file is read again on every token fetch, so a
// refreshed token is picked up without restarting.
type FileTokenProvider struct {
	Path   string
	UserID string
	Claim  string
	Now    func() time.Time
}

// NewFileTokenProvider expands a leading ~ in path.
func NewFileTokenProvider(path, userID, claim string) (*FileTokenProvider, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expanding token file path: %w", err)
	}
	return &FileTokenProvider{Path: expanded, UserID: userID, Claim: claim}, nil
}

func (f *FileTokenProvider) read() (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (f *FileTokenProvider) CurrentUser(context.Context) (*User, error) {
	token, err := f.read()
	if errors.Is(err, os.ErrNotExist) || (err == nil && token == "") {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}
	uid, err := resolveUserID(token, f.UserID, f.Claim)
	if err != nil {
		return nil, err
	}
	return &User{ID: uid, Tokens: TokenSourceFunc(f.fetch)}, nil
}

func (f *FileTokenProvider) fetch(context.Context) (string, error) {
	token, err := f.read()
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", f.Path)
	}
	if err := checkExpiry(token, f.Now); err != nil {
		return "", err
	}
	return token, nil
}

// NewProviderFromConfig prefers an inline token, then a token file, and
// falls back to anonymous access.
func NewProviderFromConfig(cfg config.IdentityConfig) (Provider, error) {
	switch {
	case strings.TrimSpace(cfg.Token) != "":
		return StaticProvider{Token: cfg.Token, UserID: cfg.UserID, Claim: cfg.UserIDClaim}, nil
	case cfg.TokenFile != "":
		return NewFileTokenProvider(cfg.TokenFile, cfg.UserID, cfg.UserIDClaim)
	default:
		return AnonymousProvider{}, nil
	}
}

// resolveUserID returns the configured override or reads the id from the
// token claims. Tokens are not verified here; the backend does that.
func resolveUserID(token, override, claim string) (string, error) {
	if override != "" {
		return override, nil
	}
	claims, err := parseClaims(token)
	if err != nil {
		return "", fmt.Errorf("token is not a JWT and no user id is configured: %w", err)
	}
	for _, name := range []string{claim, "user_id", "sub"} {
		if name == "" {
			continue
		}
		if id := claimString(claims[name]); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("token has no user id claim")
}

func parseClaims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func claimString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}

// checkExpiry rejects JWTs whose exp claim has passed. Opaque tokens pass.
func checkExpiry(token string, now func() time.Time) error {
	claims, err := parseClaims(token)
	if err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	current := time.Now()
	if now != nil {
		current = now()
	}
	if !current.Before(exp.Time) {
		return fmt.Errorf("token expired at %s", exp.Time.UTC().Format(time.RFC3339))
	}
	return nil
}
