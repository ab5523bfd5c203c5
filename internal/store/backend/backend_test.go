package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestOpen_Memory(t *testing.T) {
	for _, kind := range []string{"", "memory", " MEMORY "} {
		b, err := Open(Settings{Kind: kind})
		require.NoError(t, err)
		require.NoError(t, Check(context.Background(), b))
		require.NoError(t, b.Close())
	}
}

func TestOpen_Redis(t *testing.T) {
	server := miniredis.RunT(t)
	b, err := Open(Settings{Kind: "redis", RedisURL: "redis://" + server.Addr() + "/0"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	ctx := context.Background()
	require.NoError(t, b.Set(ctx, "bridge/request", map[string]any{"status": "pending"}))
	doc, err := b.Get(ctx, "bridge/request")
	require.NoError(t, err)
	require.Equal(t, "pending", doc.String("status"))
}

func TestOpen_PostgresUsesConstructor(t *testing.T) {
	orig := newPostgres
	t.Cleanup(func() { newPostgres = orig })
	var gotConn string
	newPostgres = func(conn string) (Backend, error) {
		gotConn = conn
		return nil, errors.New("no database")
	}

	_, err := Open(Settings{Kind: "postgres", PostgresURL: "postgres://bridge@db/bridge"})
	require.EqualError(t, err, "no database")
	require.Equal(t, "postgres://bridge@db/bridge", gotConn)
}

func TestOpen_Unknown(t *testing.T) {
	_, err := Open(Settings{Kind: "etcd"})
	require.ErrorContains(t, err, `unknown store backend "etcd"`)
}

func TestIsShared(t *testing.T) {
	require.True(t, IsShared("redis"))
	require.True(t, IsShared("Postgres"))
	require.False(t, IsShared("memory"))
	require.False(t, IsShared(""))
}
