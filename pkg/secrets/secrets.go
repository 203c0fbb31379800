// Package secrets provides secret store adapters for the auth validator.
package secrets

import (
	"context"
	"errors"
	"os"
	"strings"
)

// ErrNotFound indicates the requested secret does not exist.
var ErrNotFound = errors.New("secret not found")

// Env reads secrets from environment variables. The lookup key is
// upper-cased with dashes and dots mapped to underscores, so a lookup for
// "api_key" with prefix "CIVICRAG" reads CIVICRAG_API_KEY.
type Env struct {
	Prefix string
}

// GetSecret implements auth.SecretStore.
func (e *Env) GetSecret(_ context.Context, key string) (string, error) {
	name := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
	if e.Prefix != "" {
		name = e.Prefix + "_" + name
	}
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

// Static is a fixed in-memory secret store, for tests and local use.
type Static map[string]string

// GetSecret implements auth.SecretStore.
func (s Static) GetSecret(_ context.Context, key string) (string, error) {
	v, ok := s[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}
