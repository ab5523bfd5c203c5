// Package backend selects a document store implementation by name.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/borsabridge/control-plane/internal/store"
	"github.com/borsabridge/control-plane/internal/store/memory"
	"github.com/borsabridge/control-plane/internal/store/postgres"
	"github.com/borsabridge/control-plane/internal/store/redis"
)

const (
	Memory   = "memory"
	Redis    = "redis"
	Postgres = "postgres"
)

// Backend is a store that can report reachability and release its resources.
type Backend interface {
	store.Store
	store.Pinger
	Close() error
}

type Settings struct {
	Kind        string
	RedisURL    string
	PostgresURL string
}

var (
	newRedis = func(url string) (Backend, error) {
		st, err := redis.New(url)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	newPostgres = func(conn string) (Backend, error) {
		st, err := postgres.New(conn)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
)

type memoryBackend struct {
	*memory.MemoryStore
}

func (memoryBackend) Close() error { return nil }

// Open returns the named backend. Memory is only shared within one process.
func Open(settings Settings) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(settings.Kind)) {
	case Memory, "":
		return memoryBackend{memory.New()}, nil
	case Redis:
		return newRedis(settings.RedisURL)
	case Postgres:
		return newPostgres(settings.PostgresURL)
	}
	return nil, fmt.Errorf("unknown store backend %q", settings.Kind)
}

// IsShared reports whether separate processes can meet on the backend.
func IsShared(kind string) bool {
	kind = strings.ToLower(strings.TrimSpace(kind))
	return kind == Redis || kind == Postgres
}

// Check pings the backend once with the given context.
func Check(ctx context.Context, b Backend) error {
	if err := b.Ping(ctx); err != nil {
		return fmt.Errorf("store backend unreachable: %w", err)
	}
	return nil
}
