// Package kv defines the durable key-value port the session core persists
// through. Values are opaque strings; JSON helpers cover the structured records.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Well-known keys.
const (
	KeySession            = "session"
	KeyCredentialRegistry = "credentialRegistry"
)

var ErrMalformed = errors.New("kv: malformed value")

// Store is a synchronous string-keyed store. Implementations must give
// read-your-writes within one process; nothing more is assumed.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// CartKey and WishlistKey address one partition's collections.
func CartKey(partition string) string     { return "cart:" + partition }
func WishlistKey(partition string) string { return "wishlist:" + partition }

// GetJSON loads and decodes key. A value that does not decode into T is
// reported as ErrMalformed so callers can discard it.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var out T
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return out, ok, err
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, true, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	return out, true, nil
}

// PutJSON encodes v and writes it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(b))
}
