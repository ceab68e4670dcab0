package client

import "sync"

// TokenKey is the storage key the access token is kept under
const TokenKey = "token"

// KeyValueStore is the persistent storage available to the client
// (local storage in a browser, a keyring or file on a desktop).
type KeyValueStore interface {
	GetItem(key string) (string, bool)
	SetItem(key, value string)
	RemoveItem(key string)
}

// MemoryStore is a KeyValueStore that lives for the process lifetime
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]string)}
}

func (s *MemoryStore) GetItem(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

func (s *MemoryStore) SetItem(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
}

func (s *MemoryStore) RemoveItem(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// TokenStore reads and writes the access token under TokenKey
type TokenStore struct {
	store KeyValueStore
}

// NewTokenStore wraps a key-value store
func NewTokenStore(store KeyValueStore) *TokenStore {
	return &TokenStore{store: store}
}

// Token returns the stored token, or "" when none is stored
func (t *TokenStore) Token() string {
	v, _ := t.store.GetItem(TokenKey)
	return v
}

func (t *TokenStore) SetToken(token string) {
	if token == "" {
		t.store.RemoveItem(TokenKey)
		return
	}
	t.store.SetItem(TokenKey, token)
}

func (t *TokenStore) RemoveToken() {
	t.store.RemoveItem(TokenKey)
}
