// Package kv is the typed adapter over the remote key-value store. Backends
// only implement raw byte get/put/delete/list; this package adds JSON
// encoding, error classification and an optional request-scoped read cache.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"mcq-bot/internal/domain"
)

// ErrNotFound is returned by backends when a key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// ErrValueTooLarge is returned by backends enforcing a per-key size limit.
var ErrValueTooLarge = errors.New("kv: value exceeds size limit")

// Store is the raw contract every backend satisfies. Each call is atomic for
// its own key only; there is no compare-and-swap.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// GetJSON decodes the value at key into a T. found is false when the key is absent.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var out T
	data, found, err := getRaw(ctx, s, key)
	if err != nil || !found {
		return out, found, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, true, &domain.DataIntegrityError{Key: key, Reason: "undecodable value: " + err.Error()}
	}
	return out, true, nil
}

// PutJSON encodes v and writes it at key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return putRaw(ctx, s, key, data)
}

// GetInt reads an integer counter; absent keys read as fallback.
func GetInt(ctx context.Context, s Store, key string, fallback int) (int, error) {
	data, found, err := getRaw(ctx, s, key)
	if err != nil || !found {
		return fallback, err
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return fallback, &domain.DataIntegrityError{Key: key, Reason: "not an integer"}
	}
	return n, nil
}

// PutInt writes an integer counter.
func PutInt(ctx context.Context, s Store, key string, n int) error {
	return putRaw(ctx, s, key, []byte(strconv.Itoa(n)))
}

// Delete removes key; deleting an absent key is not an error.
func Delete(ctx context.Context, s Store, key string) error {
	if err := s.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return &domain.TransientStoreError{Op: "delete", Key: key, Err: err}
	}
	if c := cacheFrom(ctx); c != nil {
		c.set(key, nil, false)
	}
	return nil
}

// List returns every key starting with prefix.
func List(ctx context.Context, s Store, prefix string) ([]string, error) {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return nil, &domain.TransientStoreError{Op: "list", Key: prefix, Err: err}
	}
	return keys, nil
}

func getRaw(ctx context.Context, s Store, key string) ([]byte, bool, error) {
	if c := cacheFrom(ctx); c != nil {
		return c.get(ctx, s, key)
	}
	return fetch(ctx, s, key)
}

func fetch(ctx context.Context, s Store, key string) ([]byte, bool, error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &domain.TransientStoreError{Op: "get", Key: key, Err: err}
	}
	return data, true, nil
}

func putRaw(ctx context.Context, s Store, key string, data []byte) error {
	if err := s.Put(ctx, key, data); err != nil {
		if c := cacheFrom(ctx); c != nil {
			c.forget(key)
		}
		return &domain.TransientStoreError{Op: "put", Key: key, Err: err}
	}
	if c := cacheFrom(ctx); c != nil {
		c.set(key, data, true)
	}
	return nil
}
