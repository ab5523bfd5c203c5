package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/borsabridge/control-plane/internal/bridge"
	"github.com/borsabridge/control-plane/internal/metrics"
	"github.com/borsabridge/control-plane/internal/store"
	"github.com/borsabridge/control-plane/internal/store/memory"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

var paths = bridge.NewPaths("bridge")

func writeRequest(t *testing.T, st store.Store, req bridge.Request) {
	t.Helper()
	require.NoError(t, st.Set(context.Background(), paths.Request, req.Document()))
}

func readRequest(t *testing.T, st store.Store) bridge.Request {
	t.Helper()
	doc, err := st.Get(context.Background(), paths.Request)
	require.NoError(t, err)
	require.NotNil(t, doc)
	return bridge.RequestFromDocument(doc)
}

func readResponse(t *testing.T, st store.Store) bridge.Response {
	t.Helper()
	doc, err := st.Get(context.Background(), paths.Response)
	require.NoError(t, err)
	return bridge.ResponseFromDocument(doc)
}

func staticFetcher(result Result, err error) Fetcher {
	return FetcherFunc(func(context.Context, bridge.Request) (Result, error) {
		return result, err
	})
}

func TestTick_NoRequest(t *testing.T) {
	w := New(memory.New(), staticFetcher(Result{}, nil), Options{})
	action, err := w.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, ActionIdle, action)
}

func TestTick_DeliversImage(t *testing.T) {
	st := memory.New()
	registry := prometheus.NewRegistry()
	w := New(st, staticFetcher(Result{Image: pngHeader}, nil), Options{Metrics: metrics.MustNewMetrics(registry)})
	writeRequest(t, st, bridge.Request{Symbol: "THYAO", Type: "derinlik", Status: bridge.StatusPending, Timestamp: 10})

	action, err := w.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, ActionCompleted, action)
	require.Equal(t, bridge.StatusCompleted, readRequest(t, st).Status)
	require.Equal(t, 10.0, readRequest(t, st).Timestamp)
	require.Equal(t, base64.StdEncoding.EncodeToString(pngHeader), readResponse(t, st).ImageBase64)

	count, err := testutil.GatherAndCount(registry, "bridge_worker_actions_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestTick_ActsOncePerTimestamp(t *testing.T) {
	st := memory.New()
	calls := 0
	w := New(st, FetcherFunc(func(context.Context, bridge.Request) (Result, error) {
		calls++
		return Result{Image: pngHeader}, nil
	}), Options{})
	writeRequest(t, st, bridge.Request{Type: "sinyal", Status: bridge.StatusPending, Timestamp: 5})

	_, err := w.Tick(context.Background())
	require.NoError(t, err)
	require.NoError(t, st.Update(context.Background(), paths.Request, store.Document{"status": "pending"}))
	action, err := w.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, ActionIdle, action)
	require.Equal(t, 1, calls)

	writeRequest(t, st, bridge.Request{Type: "sinyal", Status: bridge.StatusPending, Timestamp: 6})
	action, err = w.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, ActionCompleted, action)
	require.Equal(t, 2, calls)
}

func TestTick_OptionsThenSelection(t *testing.T) {
	st := memory.New()
	var seen []bridge.Request
	w := New(st, FetcherFunc(func(_ context.Context, req bridge.Request) (Result, error) {
		seen = append(seen, req)
		if req.Selection == "" {
			return Result{Options: []string{"AKBNK", "AKSA"}}, nil
		}
		return Result{Image: pngHeader}, nil
	}), Options{})
	writeRequest(t, st, bridge.Request{Symbol: "AK", Type: "derinlik", Status: bridge.StatusPending, Timestamp: 1})

	action, err := w.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, ActionOptions, action)
	require.Equal(t, []string{"AKBNK", "AKSA"}, readResponse(t, st).Options)
	require.Equal(t, bridge.StatusWaitingUserSelection, readRequest(t, st).Status)

	require.NoError(t, st.Update(context.Background(), paths.Request, store.Document{
		"status": "selection_made", "selection": "AKSA", "timestamp": 2.0,
	}))
	action, err = w.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, ActionCompleted, action)
	require.Len(t, seen, 2)
	require.Equal(t, "AKSA", seen[1].Selection)
}

func TestTick_UploadAndTimeout(t *testing.T) {
	t.Run("upload", func(t *testing.T) {
		st := memory.New()
		w := New(st, staticFetcher(Result{NeedsUpload: true}, nil), Options{})
		writeRequest(t, st, bridge.Request{Type: "teorikliste", Status: bridge.StatusPending, Timestamp: 1})
		action, err := w.Tick(context.Background())
		require.NoError(t, err)
		require.Equal(t, ActionUpload, action)
		require.Equal(t, bridge.StatusMiniAppWaitingUpload, readRequest(t, st).Status)
	})

	t.Run("fetch error", func(t *testing.T) {
		st := memory.New()
		w := New(st, staticFetcher(Result{}, errors.New("telegram unreachable")), Options{})
		writeRequest(t, st, bridge.Request{Type: "sinyal", Status: bridge.StatusPending, Timestamp: 1})
		action, err := w.Tick(context.Background())
		require.NoError(t, err)
		require.Equal(t, ActionTimeout, action)
		require.Equal(t, bridge.StatusTimeout, readRequest(t, st).Status)
	})

	t.Run("deadline", func(t *testing.T) {
		st := memory.New()
		w := New(st, FetcherFunc(func(ctx context.Context, _ bridge.Request) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		}), Options{FetchTimeout: 10 * time.Millisecond})
		writeRequest(t, st, bridge.Request{Type: "sinyal", Status: bridge.StatusPending, Timestamp: 1})
		action, err := w.Tick(context.Background())
		require.NoError(t, err)
		require.Equal(t, ActionTimeout, action)
	})

	t.Run("empty result", func(t *testing.T) {
		st := memory.New()
		w := New(st, staticFetcher(Result{}, nil), Options{})
		writeRequest(t, st, bridge.Request{Type: "sinyal", Status: bridge.StatusPending, Timestamp: 1})
		action, err := w.Tick(context.Background())
		require.NoError(t, err)
		require.Equal(t, ActionTimeout, action)
	})
}

func TestTick_IgnoresOtherTargetsAndStatuses(t *testing.T) {
	st := memory.New()
	w := New(st, staticFetcher(Result{Image: pngHeader}, nil), Options{Target: "@b0pt_bot"})

	writeRequest(t, st, bridge.Request{Type: "sinyal", TargetWorker: "@xFinans_bot", Status: bridge.StatusPending, Timestamp: 1})
	action, err := w.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, ActionIdle, action)

	writeRequest(t, st, bridge.Request{Type: "sinyal", TargetWorker: "@b0pt_bot", Status: bridge.StatusCancelled, Timestamp: 2})
	action, err = w.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, ActionIdle, action)
}

func TestTick_SupersededRequestDropped(t *testing.T) {
	st := memory.New()
	w := New(st, FetcherFunc(func(ctx context.Context, _ bridge.Request) (Result, error) {
		writeRequest(t, st, bridge.Request{Type: "akd", Symbol: "ASELS", Status: bridge.StatusPending, Timestamp: 9})
		return Result{Image: pngHeader}, nil
	}), Options{})
	writeRequest(t, st, bridge.Request{Type: "akd", Symbol: "THYAO", Status: bridge.StatusPending, Timestamp: 8})

	action, err := w.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, ActionSuperseded, action)
	require.Equal(t, bridge.StatusPending, readRequest(t, st).Status)

	doc, err := st.Get(context.Background(), paths.Response)
	require.NoError(t, err)
	require.Nil(t, doc)
}

func TestTick_RestartResetsState(t *testing.T) {
	st := memory.New()
	calls := 0
	w := New(st, FetcherFunc(func(context.Context, bridge.Request) (Result, error) {
		calls++
		return Result{Image: pngHeader}, nil
	}), Options{})
	writeRequest(t, st, bridge.Request{Type: "sinyal", Status: bridge.StatusPending, Timestamp: 3})
	_, err := w.Tick(context.Background())
	require.NoError(t, err)

	command := bridge.SystemCommand{Command: bridge.CommandRestart, Timestamp: 4}
	require.NoError(t, st.Set(context.Background(), paths.SystemCommand, command.Document()))
	action, err := w.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, ActionRestarted, action)

	// The same command is not applied twice.
	require.NoError(t, st.Update(context.Background(), paths.Request, store.Document{"status": "pending"}))
	action, err = w.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, ActionCompleted, action)
	require.Equal(t, 2, calls)
}

func TestTick_StoreError(t *testing.T) {
	st := memory.New()
	w := New(st, staticFetcher(Result{}, nil), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.Tick(ctx)
	require.True(t, store.IsAccessError(err))
}

// The engine and the worker share nothing but the store.
func TestProtocol_EngineAndWorker(t *testing.T) {
	st := memory.New()
	engine := bridge.New(st, bridge.Options{Paths: paths})
	w := New(st, FetcherFunc(func(_ context.Context, req bridge.Request) (Result, error) {
		if req.Selection == "" {
			return Result{Options: []string{"AKBNK", "AKSA"}}, nil
		}
		return Result{Image: pngHeader}, nil
	}), Options{Paths: paths})
	ctx := context.Background()

	require.NoError(t, engine.Submit(ctx, "AK", "derinlik", "@xFinans_bot"))
	action, err := w.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, ActionOptions, action)

	result, err := engine.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, bridge.OutcomeOptions, result.Outcome)
	require.Equal(t, []string{"AKBNK", "AKSA"}, result.Options)

	require.NoError(t, engine.SubmitSelection(ctx, "AKBNK"))
	action, err = w.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, ActionCompleted, action)

	result, err = engine.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, bridge.OutcomeImage, result.Outcome)
	require.Equal(t, pngHeader, result.Image)
	require.Equal(t, bridge.StepIdle, engine.Flow().Step)
}

func TestRun_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	st := memory.New()
	delivered := make(chan struct{}, 1)
	w := New(st, FetcherFunc(func(context.Context, bridge.Request) (Result, error) {
		delivered <- struct{}{}
		return Result{Image: pngHeader}, nil
	}), Options{})
	writeRequest(t, st, bridge.Request{Type: "sinyal", Status: bridge.StatusPending, Timestamp: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, 5*time.Millisecond) }()

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never fetched")
	}
	cancel()
	require.NoError(t, <-done)
}
