package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type countingStore struct {
	mu     sync.Mutex
	secret string
	err    error
	calls  int
}

func (s *countingStore) GetSecret(_ context.Context, _ string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.secret, s.err
}

func (s *countingStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestValidator(store SecretStore) *Validator {
	return New(store, DefaultOptions(), nil)
}

func TestValidate_Allow(t *testing.T) {
	store := &countingStore{secret: "sk-valid"}
	v := newTestValidator(store)

	if !v.Validate(context.Background(), "sk-valid") {
		t.Fatal("expected allow for matching credential")
	}
}

func TestValidate_Deny(t *testing.T) {
	store := &countingStore{secret: "sk-valid"}
	v := newTestValidator(store)

	if v.Validate(context.Background(), "sk-wrong") {
		t.Fatal("expected deny for mismatched credential")
	}
}

func TestValidate_EmptyCredentialSkipsStore(t *testing.T) {
	store := &countingStore{secret: "sk-valid"}
	v := newTestValidator(store)

	if v.Validate(context.Background(), "") {
		t.Fatal("expected deny for empty credential")
	}
	if store.callCount() != 0 {
		t.Fatalf("store consulted %d times for empty credential", store.callCount())
	}
}

func TestValidate_MalformedCredentialSkipsStore(t *testing.T) {
	store := &countingStore{secret: "sk-valid"}
	v := newTestValidator(store)

	for _, cred := range []string{"sk\nvalid", "sk valid", "sk\x00valid", "\tsk-valid"} {
		if v.Validate(context.Background(), cred) {
			t.Errorf("expected deny for malformed credential %q", cred)
		}
	}
	if store.callCount() != 0 {
		t.Fatalf("store consulted %d times for malformed credentials", store.callCount())
	}
}

func TestValidate_StoreFailureDenies(t *testing.T) {
	store := &countingStore{err: errors.New("secrets backend down")}
	v := newTestValidator(store)

	if v.Validate(context.Background(), "sk-valid") {
		t.Fatal("expected fail-closed deny on store error")
	}
}

func TestValidate_CacheHitSkipsSecondLookup(t *testing.T) {
	store := &countingStore{secret: "sk-valid"}
	v := newTestValidator(store)

	first := v.Validate(context.Background(), "sk-valid")
	second := v.Validate(context.Background(), "sk-valid")

	if first != second {
		t.Fatalf("cached decision differs: first=%v second=%v", first, second)
	}
	if store.callCount() != 1 {
		t.Fatalf("expected 1 store lookup, got %d", store.callCount())
	}
}

func TestValidate_DenyIsCachedToo(t *testing.T) {
	store := &countingStore{secret: "sk-valid"}
	v := newTestValidator(store)

	v.Validate(context.Background(), "sk-wrong")
	v.Validate(context.Background(), "sk-wrong")

	if store.callCount() != 1 {
		t.Fatalf("expected deny to be cached, got %d lookups", store.callCount())
	}
}

func TestValidate_TTLExpiryRevalidates(t *testing.T) {
	store := &countingStore{secret: "sk-valid"}
	v := newTestValidator(store)

	current := time.Now()
	v.now = func() time.Time { return current }

	v.Validate(context.Background(), "sk-valid")

	// Advance past the TTL; the cached decision must be discarded.
	current = current.Add(DefaultOptions().CacheTTL + time.Second)

	if !v.Validate(context.Background(), "sk-valid") {
		t.Fatal("expected allow after revalidation")
	}
	if store.callCount() != 2 {
		t.Fatalf("expected revalidation lookup, got %d calls", store.callCount())
	}
}

func TestValidate_CacheBounded(t *testing.T) {
	store := &countingStore{secret: "sk-valid"}
	opts := DefaultOptions()
	opts.MaxCacheEntries = 4
	v := New(store, opts, nil)

	for i := 0; i < 10; i++ {
		v.Validate(context.Background(), Fingerprint(string(rune('a'+i))))
	}
	if v.CacheLen() > 4 {
		t.Fatalf("cache exceeded bound: %d entries", v.CacheLen())
	}
}

func TestValidate_ConcurrentMisses(t *testing.T) {
	store := &countingStore{secret: "sk-valid"}
	v := newTestValidator(store)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !v.Validate(context.Background(), "sk-valid") {
				t.Error("expected allow")
			}
		}()
	}
	wg.Wait()
}

func TestFingerprint_NotTheSecret(t *testing.T) {
	fp := Fingerprint("sk-valid")
	if fp == "sk-valid" {
		t.Fatal("fingerprint must not equal the credential")
	}
	if len(fp) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(fp))
	}
	if fp != Fingerprint("sk-valid") {
		t.Fatal("fingerprint must be deterministic")
	}
}
