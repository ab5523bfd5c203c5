package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	require.NoError(t, Wrap("get", "bridge/request", nil))

	base := errors.New("connection refused")
	err := Wrap("get", "bridge/request", base)
	require.True(t, IsAccessError(err))
	require.ErrorIs(t, err, base)
	require.Equal(t, `store get "bridge/request": connection refused`, err.Error())

	require.Same(t, err, Wrap("set", "other", err))
	require.False(t, IsAccessError(base))
}

func TestCleanPath(t *testing.T) {
	require.Equal(t, "bridge/request", CleanPath(" /bridge/request/ "))
	require.Equal(t, "", CleanPath("/"))
}

func TestNormalize(t *testing.T) {
	doc, err := Normalize(Document{
		"options":   []string{"AKBNK", "AKSA"},
		"timestamp": 12,
		"nested":    map[string]string{"a": "b"},
	})
	require.NoError(t, err)
	require.Equal(t, []any{"AKBNK", "AKSA"}, doc["options"])
	require.Equal(t, float64(12), doc["timestamp"])
	require.Equal(t, map[string]any{"a": "b"}, doc["nested"])

	empty, err := Normalize(nil)
	require.NoError(t, err)
	require.Equal(t, Document{}, empty)

	_, err = Normalize(Document{"bad": make(chan int)})
	require.Error(t, err)
}

func TestDocumentAccessors(t *testing.T) {
	doc := Document{
		"status":    " pending ",
		"timestamp": 1700000000.25,
		"count":     3,
		"options":   []any{"AKBNK", 7, " ", "AKSA"},
		"plain":     []string{"x"},
		"empty":     nil,
	}
	require.Equal(t, "pending", doc.String("status"))
	require.Equal(t, "", doc.String("timestamp"))
	require.Equal(t, 1700000000.25, doc.Float("timestamp"))
	require.Equal(t, float64(3), doc.Float("count"))
	require.Equal(t, float64(0), doc.Float("status"))
	require.Equal(t, []string{"AKBNK", "AKSA"}, doc.Strings("options"))
	require.Equal(t, []string{"x"}, doc.Strings("plain"))
	require.Nil(t, doc.Strings("status"))
	require.True(t, doc.Has("status"))
	require.False(t, doc.Has("empty"))
	require.False(t, doc.Has("missing"))

	var nilDoc Document
	require.Equal(t, "", nilDoc.String("status"))
	require.Nil(t, nilDoc.Strings("options"))
	require.False(t, nilDoc.Has("status"))
}
