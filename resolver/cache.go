package resolver

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Token is an opaque access token together with its expiry
type Token struct {
	Value  string    `json:"token"`
	Expiry time.Time `json:"expiry"`
}

// Expired returns whether the token is expired, or will be within margin
func (t Token) Expired(now time.Time, margin time.Duration) bool {
	return !now.Add(margin).Before(t.Expiry)
}

// Signer obtains a fresh token for a scope from the signing endpoint
type Signer interface {
	SignScope(ctx context.Context, scope Scope) (Token, error)
}

// TokenStore holds the cached tokens. MemoryStore is the default,
// signer.RedisStore can be shared between processes.
type TokenStore interface {
	Get(ctx context.Context, scope Scope) (Token, bool, error)
	Put(ctx context.Context, scope Scope, token Token) error
}

// MemoryStore implements TokenStore in process memory
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[Scope]Token
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: map[Scope]Token{}}
}

func (m *MemoryStore) Get(_ context.Context, scope Scope) (Token, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[scope]
	return t, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, scope Scope, token Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[scope] = token
	return nil
}

const defaultMargin = time.Minute

// Cache caches tokens per scope until their expiry margin, with at most one
// in-flight signing call per scope.
type Cache struct {
	store  TokenStore
	now    func() time.Time
	margin time.Duration
	group  singleflight.Group
}

type CacheOption func(*Cache)

// WithClock replaces the wall clock (expiry is testable without waiting)
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithMargin sets how long before its expiry a token is considered stale
func WithMargin(margin time.Duration) CacheOption {
	return func(c *Cache) { c.margin = margin }
}

func WithStore(store TokenStore) CacheOption {
	return func(c *Cache) { c.store = store }
}

func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{store: NewMemoryStore(), now: time.Now, margin: defaultMargin}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Token returns a valid token for the scope, calling signer only if the cached
// entry is missing or inside its expiry margin. Concurrent calls for the same
// scope are coalesced into a single signing request.
func (c *Cache) Token(ctx context.Context, scope Scope, signer Signer) (Token, error) {
	if token, ok, err := c.store.Get(ctx, scope); err == nil && ok && !token.Expired(c.now(), c.margin) {
		return token, nil
	}
	v, err, _ := c.group.Do(scope.String(), func() (interface{}, error) {
		// re-check: another caller may have refreshed while this one was queued
		if token, ok, err := c.store.Get(ctx, scope); err == nil && ok && !token.Expired(c.now(), c.margin) {
			return token, nil
		}
		token, err := signer.SignScope(ctx, scope)
		if err != nil {
			return Token{}, err
		}
		if err := c.store.Put(ctx, scope, token); err != nil {
			return Token{}, err
		}
		return token, nil
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}
