package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Document is one JSON object stored at a path.
type Document map[string]any

// Store is the shared key-value document store both sides of the bridge
// poll. Get returns (nil, nil) when nothing is stored at path. Update merges
// the given top-level fields into the document, creating it when absent.
type Store interface {
	Get(ctx context.Context, path string) (Document, error)
	Set(ctx context.Context, path string, doc Document) error
	Update(ctx context.Context, path string, fields Document) error
	Delete(ctx context.Context, path string) error
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AccessError marks a failure talking to the backing store. Pollers treat it
// as transient; anything else is a bug.
type AccessError struct {
	Op   string
	Path string
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

func Wrap(op string, path string, err error) error {
	if err == nil {
		return nil
	}
	var accessErr *AccessError
	if errors.As(err, &accessErr) {
		return err
	}
	return &AccessError{Op: op, Path: path, Err: err}
}

func IsAccessError(err error) bool {
	var accessErr *AccessError
	return errors.As(err, &accessErr)
}

// CleanPath trims slashes so "bridge/request" and "/bridge/request/" address
// the same document.
func CleanPath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}

// Normalize round-trips the document through JSON so every backend hands back
// the same value shapes (float64 numbers, []any lists, map[string]any objects).
func Normalize(doc Document) (Document, error) {
	if doc == nil {
		return Document{}, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	normalized := Document{}
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}
