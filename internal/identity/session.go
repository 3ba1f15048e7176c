package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
)

const (
	sessionPrefix   = "session_"
	sessionRandLen  = 9
	base36Alphabet  = "0123456789abcdefghijklmnopqrstuvwxyz"
	sessionFileMode = 0o600
)

// SessionStore persists the anonymous session id for the lifetime of a
// client session. Get returns "" when nothing is stored.
type SessionStore interface {
	Get() (string, error)
	Set(id string) error
	Clear() error
}

// MemoryStore keeps the session id for the life of the process.
type MemoryStore struct {
	mu sync.Mutex
	id string
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Get() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, nil
}

func (m *MemoryStore) Set(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = id
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = ""
	return nil
}

// FileStore keeps the session id in a single file, so consecutive CLI
// invocations share one guest session until it is cleared.
type FileStore struct {
	path string
}

// NewFileStore expands a leading ~ in path.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("session file path is empty")
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expanding session file path: %w", err)
	}
	return &FileStore{path: expanded}, nil
}

// Path is the expanded location of the session file.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Get() (string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading session file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (f *FileStore) Set(id string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	if err := os.WriteFile(f.path, []byte(id+"\n"), sessionFileMode); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	return nil
}

func (f *FileStore) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}

// SessionIDGenerator mints guest session ids of the form
// session_<9 base36 chars>_<unix millis + MarkerOffset>. The trailing
// marker is informational and is never checked as an expiry.
type SessionIDGenerator struct {
	Random       io.Reader
	Now          func() time.Time
	MarkerOffset time.Duration
}

// NewSessionIDGenerator uses crypto/rand and the wall clock.
func NewSessionIDGenerator(markerOffset time.Duration) *SessionIDGenerator {
	return &SessionIDGenerator{Random: rand.Reader, Now: time.Now, MarkerOffset: markerOffset}
}

// Generate returns a new session id.
func (g *SessionIDGenerator) Generate() (string, error) {
	buf := make([]byte, sessionRandLen)
	if _, err := io.ReadFull(g.Random, buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	var sb strings.Builder
	sb.Grow(len(sessionPrefix) + sessionRandLen + 15)
	sb.WriteString(sessionPrefix)
	for _, b := range buf {
		sb.WriteByte(base36Alphabet[int(b)%len(base36Alphabet)])
	}
	sb.WriteByte('_')
	sb.WriteString(strconv.FormatInt(g.Now().Add(g.MarkerOffset).UnixMilli(), 10))
	return sb.String(), nil
}

// ParseSessionMarker extracts the timestamp embedded in a session id.
func ParseSessionMarker(id string) (time.Time, bool) {
	if !strings.HasPrefix(id, sessionPrefix) {
		return time.Time{}, false
	}
	idx := strings.LastIndexByte(id, '_')
	if idx < len(sessionPrefix) {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(id[idx+1:], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
