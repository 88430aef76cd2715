package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidFileID is returned when attempting to generate a share link
// without a file identifier.
var ErrInvalidFileID = errors.New("fileID is required")

// ShareLinkRecord captures a share-link row retrieved from the backing store.
type ShareLinkRecord struct {
	FileID    string
	Token     string
	CreatedAt time.Time
}

// ShareLinkStore defines the persistence contract for share-link tokens.
// Assign must atomically replace any prior token for the same file: after it
// returns, the previous token no longer resolves.
type ShareLinkStore interface {
	Assign(fileID, token string, createdAt time.Time) error
	Resolve(token string) (ShareLinkRecord, bool, error)
	TokenFor(fileID string) (string, bool, error)
	Remove(fileID string) error
}

// ShareLinkOption configures a ShareLinkManager instance.
type ShareLinkOption func(*ShareLinkManager)

// WithShareLinkStore injects a custom ShareLinkStore implementation.
func WithShareLinkStore(store ShareLinkStore) ShareLinkOption {
	return func(m *ShareLinkManager) {
		m.store = store
	}
}

// WithShareTokenFactory overrides the token generator. Intended for tests.
func WithShareTokenFactory(factory func() (string, error)) ShareLinkOption {
	return func(m *ShareLinkManager) {
		if factory != nil {
			m.tokenFactory = factory
		}
	}
}

// ShareLinkManager coordinates issuing and resolving the opaque,
// unauthenticated download tokens. A resolved token grants read access only;
// nothing in this subsystem accepts it for mutation.
type ShareLinkManager struct {
	store        ShareLinkStore
	tokenFactory func() (string, error)
}

// NewShareLinkManager constructs a ShareLinkManager. It defaults to an
// in-memory store for local development when no store is supplied.
func NewShareLinkManager(opts ...ShareLinkOption) *ShareLinkManager {
	manager := &ShareLinkManager{tokenFactory: generateShareToken}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	if manager.store == nil {
		manager.store = NewMemoryShareLinkStore()
	}
	return manager
}

// Generate issues a fresh token for the file and invalidates any previously
// issued token for it.
func (m *ShareLinkManager) Generate(fileID string) (string, error) {
	if fileID == "" {
		return "", ErrInvalidFileID
	}
	token, err := m.tokenFactory()
	if err != nil {
		return "", err
	}
	if err := m.store.Assign(fileID, token, time.Now().UTC()); err != nil {
		return "", err
	}
	return token, nil
}

// Resolve looks up the file a token points at. It consults no principal.
func (m *ShareLinkManager) Resolve(token string) (string, bool, error) {
	if token == "" {
		return "", false, nil
	}
	record, ok, err := m.store.Resolve(token)
	if err != nil || !ok {
		return "", false, err
	}
	return record.FileID, true, nil
}

// TokenFor returns the currently active token for a file, if one exists.
func (m *ShareLinkManager) TokenFor(fileID string) (string, bool, error) {
	if fileID == "" {
		return "", false, nil
	}
	return m.store.TokenFor(fileID)
}

// Revoke removes the active token for a file. Used when the file itself is
// deleted.
func (m *ShareLinkManager) Revoke(fileID string) error {
	if fileID == "" {
		return nil
	}
	return m.store.Remove(fileID)
}

func generateShareToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MemoryShareLinkStore keeps share links in-memory. It is safe for
// concurrent use and primarily intended for development or single-instance
// deployments.
type MemoryShareLinkStore struct {
	mu      sync.RWMutex
	byToken map[string]ShareLinkRecord
	byFile  map[string]string
}

// NewMemoryShareLinkStore constructs an in-memory store implementation.
func NewMemoryShareLinkStore() *MemoryShareLinkStore {
	return &MemoryShareLinkStore{
		byToken: make(map[string]ShareLinkRecord),
		byFile:  make(map[string]string),
	}
}

// Assign records the token for the file, dropping any prior token under the
// same lock so readers never observe both.
func (s *MemoryShareLinkStore) Assign(fileID, token string, createdAt time.Time) error {
	s.mu.Lock()
	if previous, ok := s.byFile[fileID]; ok {
		delete(s.byToken, previous)
	}
	s.byFile[fileID] = token
	s.byToken[token] = ShareLinkRecord{FileID: fileID, Token: token, CreatedAt: createdAt}
	s.mu.Unlock()
	return nil
}

// Resolve retrieves the record for the provided token.
func (s *MemoryShareLinkStore) Resolve(token string) (ShareLinkRecord, bool, error) {
	s.mu.RLock()
	record, ok := s.byToken[token]
	s.mu.RUnlock()
	return record, ok, nil
}

// TokenFor retrieves the active token for the provided file.
func (s *MemoryShareLinkStore) TokenFor(fileID string) (string, bool, error) {
	s.mu.RLock()
	token, ok := s.byFile[fileID]
	s.mu.RUnlock()
	return token, ok, nil
}

// Remove deletes the active token for the provided file.
func (s *MemoryShareLinkStore) Remove(fileID string) error {
	s.mu.Lock()
	if token, ok := s.byFile[fileID]; ok {
		delete(s.byToken, token)
		delete(s.byFile, fileID)
	}
	s.mu.Unlock()
	return nil
}
