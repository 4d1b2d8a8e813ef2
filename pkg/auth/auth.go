// Package auth verifies connect-time JWTs and resolves them to player
// identities. Tokens arrive once per connection via a query parameter;
// there is no mid-connection rotation.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated covers every token failure a caller can act on:
// bad signature, expired, malformed, missing subject.
var ErrUnauthenticated = errors.New("unauthenticated")

// cacheTTL bounds how long a verified identity is served without
// re-checking the token. Expiry inside the window is accepted; 15
// minutes keeps that slack tolerable.
const cacheTTL = 15 * time.Minute

// Identity is the authenticated principal behind a connection.
type Identity struct {
	UserID string
	Email  string
	Admin  bool
}

type cacheEntry struct {
	identity Identity
	expires  time.Time
}

// Verifier validates HS256 tokens against a pre-shared secret and
// caches decoded identities keyed by token hash.
type Verifier struct {
	secret []byte

	mu    sync.RWMutex
	cache map[string]cacheEntry

	now func() time.Time
}

// NewVerifier builds a Verifier over the shared signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		cache:  make(map[string]cacheEntry),
		now:    time.Now,
	}
}

type claims struct {
	Email string `json:"email,omitempty"`
	Admin bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// Authenticate resolves a raw token to an identity, or
// ErrUnauthenticated.
func (v *Verifier) Authenticate(token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("empty token: %w", ErrUnauthenticated)
	}

	key := tokenHash(token)
	if id, ok := v.cached(key); ok {
		return id, nil
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("verify token: %w", ErrUnauthenticated)
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("token has no subject: %w", ErrUnauthenticated)
	}

	id := Identity{UserID: c.Subject, Email: c.Email, Admin: c.Admin}
	v.store(key, id)
	return id, nil
}

func (v *Verifier) cached(key string) (Identity, bool) {
	v.mu.RLock()
	entry, ok := v.cache[key]
	v.mu.RUnlock()
	if !ok || v.now().After(entry.expires) {
		return Identity{}, false
	}
	return entry.identity, true
}

func (v *Verifier) store(key string, id Identity) {
	v.mu.Lock()
	defer v.mu.Unlock()
	// Evict stale entries opportunistically so the map tracks live
	// tokens rather than every token ever seen.
	now := v.now()
	for k, e := range v.cache {
		if now.After(e.expires) {
			delete(v.cache, k)
		}
	}
	v.cache[key] = cacheEntry{identity: id, expires: now.Add(cacheTTL)}
}

// tokenHash keys the cache without retaining raw token material.
func tokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
