// Package auth decides whether a presented credential may invoke the query
// pipeline. Decisions are cached by credential fingerprint so the backing
// secret store is consulted at most once per TTL window per credential.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"
)

// SecretStore is the capability that holds the canonical API secret.
type SecretStore interface {
	GetSecret(ctx context.Context, key string) (string, error)
}

// Options configures the validator.
type Options struct {
	// SecretKey is the key looked up in the secret store.
	SecretKey string
	// CacheTTL bounds how long a cached decision is trusted.
	CacheTTL time.Duration
	// MaxCacheEntries bounds the decision cache.
	MaxCacheEntries int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		SecretKey:       "api_key",
		CacheTTL:        5 * time.Minute,
		MaxCacheEntries: 1024,
	}
}

// decision is one cached allow/deny with its expiry.
type decision struct {
	allowed   bool
	expiresAt time.Time
}

// Validator validates caller credentials against the secret store,
// caching decisions per credential fingerprint. Safe for concurrent use.
type Validator struct {
	store  SecretStore
	opts   Options
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]decision

	now func() time.Time // for testing
}

// New creates a Validator.
func New(store SecretStore, opts Options, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultOptions().CacheTTL
	}
	if opts.MaxCacheEntries <= 0 {
		opts.MaxCacheEntries = DefaultOptions().MaxCacheEntries
	}
	return &Validator{
		store:  store,
		opts:   opts,
		logger: logger,
		cache:  make(map[string]decision),
		now:    time.Now,
	}
}

// Validate reports whether the credential may invoke the pipeline.
// Empty or malformed credentials deny without touching the cache or the
// store. A secret store failure denies (fail-closed). The cache holds
// fingerprints only, never the raw secret, and entries expire lazily on
// lookup.
func (v *Validator) Validate(ctx context.Context, credential string) bool {
	if credential == "" || !printable(credential) {
		return false
	}

	fp := Fingerprint(credential)

	if allowed, ok := v.lookup(fp); ok {
		return allowed
	}

	// The store call happens outside any lock; two concurrent misses may
	// both consult the store, last write wins on the cache entry.
	secret, err := v.store.GetSecret(ctx, v.opts.SecretKey)
	if err != nil {
		v.logger.Warn("auth: secret store lookup failed, denying", "err", err)
		return false
	}

	allowed := subtle.ConstantTimeCompare([]byte(credential), []byte(secret)) == 1
	v.put(fp, allowed)
	return allowed
}

// lookup returns the cached decision for a fingerprint, if fresh.
func (v *Validator) lookup(fp string) (allowed, ok bool) {
	v.mu.RLock()
	d, ok := v.cache[fp]
	v.mu.RUnlock()
	if !ok {
		return false, false
	}
	if v.now().After(d.expiresAt) {
		v.mu.Lock()
		// Re-check under the write lock; a concurrent miss may have refreshed it.
		if d2, still := v.cache[fp]; still && v.now().After(d2.expiresAt) {
			delete(v.cache, fp)
		}
		v.mu.Unlock()
		return false, false
	}
	return d.allowed, true
}

func (v *Validator) put(fp string, allowed bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.cache) >= v.opts.MaxCacheEntries {
		v.evictExpiredLocked()
	}
	if len(v.cache) >= v.opts.MaxCacheEntries {
		// Still full of fresh entries; skip caching rather than grow unbounded.
		return
	}
	v.cache[fp] = decision{allowed: allowed, expiresAt: v.now().Add(v.opts.CacheTTL)}
}

// evictExpiredLocked drops all expired entries. Must hold mu.
func (v *Validator) evictExpiredLocked() {
	now := v.now()
	for fp, d := range v.cache {
		if now.After(d.expiresAt) {
			delete(v.cache, fp)
		}
	}
}

// CacheLen returns the number of cached decisions, expired or not.
func (v *Validator) CacheLen() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.cache)
}

// printable reports whether the credential consists solely of printable
// non-space characters, the only shape a real API key can have.
func printable(credential string) bool {
	return !strings.ContainsFunc(credential, func(r rune) bool {
		return !unicode.IsPrint(r) || unicode.IsSpace(r)
	})
}

// Fingerprint derives a one-way cache key from a credential.
func Fingerprint(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}
