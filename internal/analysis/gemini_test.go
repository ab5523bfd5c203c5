package analysis

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeGeminiAPI serves the streaming and unary generate endpoints. Keys
// starting with "bad" get a 403.
type fakeGeminiAPI struct {
	mu     sync.Mutex
	bodies []string
	paths  []string
}

func (f *fakeGeminiAPI) handler(chunks []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.bodies = append(f.bodies, string(body))
		f.paths = append(f.paths, r.URL.Path)
		f.mu.Unlock()

		key := r.Header.Get("x-goog-api-key")
		if key == "" {
			key = r.URL.Query().Get("key")
		}
		if strings.HasPrefix(key, "bad") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"error":{"code":403,"message":"API key not valid. Please pass a valid API key.","status":"PERMISSION_DENIED"}}`)
			return
		}
		if strings.Contains(r.URL.Path, ":streamGenerateContent") {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, chunk := range chunks {
				fmt.Fprintf(w, "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":%q}]}}]}\n\n", chunk)
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"ok"}]}}]}`)
	}
}

func TestGeminiProducer_StreamsText(t *testing.T) {
	api := &fakeGeminiAPI{}
	server := httptest.NewServer(api.handler([]string{"## 1. Derinlik [OLUMLU]\n", "alıcılar güçlü\n"}))
	defer server.Close()

	gemini := NewGemini(NewKeyPool([]string{"good-key-123456"}, time.Minute), GeminiOptions{BaseURL: server.URL})
	producer, err := gemini.Source("")
	require.NoError(t, err)
	require.Equal(t, DefaultModel, producer.(*GeminiProducer).Model())

	var text strings.Builder
	for fragment, err := range producer.Stream(context.Background(), oneImage, "instruction text") {
		require.NoError(t, err)
		text.WriteString(fragment)
	}
	require.Equal(t, "## 1. Derinlik [OLUMLU]\nalıcılar güçlü\n", text.String())

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.paths, 1)
	require.Contains(t, api.paths[0], "gemini-2.5-flash:streamGenerateContent")
	require.Contains(t, api.bodies[0], "instruction text")
	require.Contains(t, api.bodies[0], "image/png")
}

func TestGeminiProducer_BadKeyGoesOnCooldown(t *testing.T) {
	api := &fakeGeminiAPI{}
	server := httptest.NewServer(api.handler(nil))
	defer server.Close()

	pool := NewKeyPool([]string{"bad-key-0000001", "good-key-000002"}, time.Minute)
	gemini := NewGemini(pool, GeminiOptions{BaseURL: server.URL})
	producer, err := gemini.Source(DefaultLiteModel)
	require.NoError(t, err)

	var streamErr error
	for _, err := range producer.Stream(context.Background(), oneImage, "x") {
		if err != nil {
			streamErr = err
		}
	}
	require.Error(t, streamErr)
	require.False(t, IsTransient(streamErr))
	require.True(t, pool.CoolingDown("bad-key-0000001"))

	key, ok := pool.Current()
	require.True(t, ok)
	require.Equal(t, "good-key-000002", key)
}

func TestGeminiProducer_NoKeys(t *testing.T) {
	gemini := NewGemini(NewKeyPool(nil, time.Minute), GeminiOptions{})
	producer, err := gemini.Source(DefaultModel)
	require.NoError(t, err)

	for _, err := range producer.Stream(context.Background(), oneImage, "x") {
		require.ErrorIs(t, err, ErrNoKeys)
	}
}

func TestGemini_Check(t *testing.T) {
	api := &fakeGeminiAPI{}
	server := httptest.NewServer(api.handler(nil))
	defer server.Close()

	gemini := NewGemini(NewKeyPool(nil, time.Minute), GeminiOptions{BaseURL: server.URL})
	require.NoError(t, gemini.Check(context.Background(), "good-key-123456", DefaultModel))
	require.Error(t, gemini.Check(context.Background(), "bad-key-123456", DefaultLiteModel))

	results := ProbeKeys(context.Background(), gemini, []string{"good-key-123456"}, DefaultModel, DefaultLiteModel)
	require.True(t, results[0].PrimaryOK)
	require.True(t, results[0].LiteOK)
}

func TestImageContents_SniffsMIME(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	contents := imageContents([]Image{{Data: png}})
	require.Len(t, contents, 1)
	require.Len(t, contents[0].Parts, 2)
	require.Equal(t, UserPrompt, contents[0].Parts[0].Text)
	require.Equal(t, "image/png", contents[0].Parts[1].InlineData.MIMEType)
}
