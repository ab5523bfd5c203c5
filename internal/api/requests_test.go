package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/borsabridge/control-plane/internal/analysis"
	"github.com/borsabridge/control-plane/internal/bridge"
	"github.com/borsabridge/control-plane/internal/session"
	"github.com/borsabridge/control-plane/internal/store"
)

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var value T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&value))
	return value
}

func TestSubmitRequest(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		server := newTestServer(t, h)

		resp := postJSON(t, server.URL+"/requests", `{"symbol":"thyao","type":"derinlik"}`)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		flow := decodeBody[bridge.Flow](t, resp)
		require.Equal(t, bridge.StepProcessing, flow.Step)
		require.Equal(t, "THYAO", flow.Symbol)

		doc, err := h.store.Get(context.Background(), h.paths.Request)
		require.NoError(t, err)
		require.Equal(t, "@xFinans_bot", doc.String("target_worker"))
	})

	t.Run("symbol optional type", func(t *testing.T) {
		server := newTestServer(t, newHarness(t, harnessOptions{}))
		resp := postJSON(t, server.URL+"/requests", `{"type":"sinyal"}`)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	})

	t.Run("missing type fails validation", func(t *testing.T) {
		server := newTestServer(t, newHarness(t, harnessOptions{}))
		resp := postJSON(t, server.URL+"/requests", `{"symbol":"THYAO"}`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		payload := decodeBody[errorResponse](t, resp)
		require.Equal(t, "validation failed", payload.Error)
		require.Equal(t, []string{"Type:required"}, payload.Fields)
	})

	t.Run("malformed body", func(t *testing.T) {
		server := newTestServer(t, newHarness(t, harnessOptions{}))
		resp := postJSON(t, server.URL+"/requests", `{"type":`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("symbol required", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		server := newTestServer(t, h)
		resp := postJSON(t, server.URL+"/requests", `{"symbol":"  ","type":"derinlik"}`)
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		doc, err := h.store.Get(context.Background(), h.paths.Request)
		require.NoError(t, err)
		require.Nil(t, doc)
	})
}

func TestSelectionFlow(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	server := newTestServer(t, h)

	resp := postJSON(t, server.URL+"/requests/selection", `{"option":"AKBNK"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = postJSON(t, server.URL+"/requests", `{"symbol":"AK","type":"derinlik"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	h.workerWrites(t, bridge.StatusWaitingUserSelection, store.Document{"options": []any{"AKBNK", "AKSA"}})

	snap := decodeBody[session.Snapshot](t, mustGet(t, server.URL+"/session"))
	require.Equal(t, bridge.StepShowButtons, snap.Flow.Step)
	require.Equal(t, []string{"AKBNK", "AKSA"}, snap.Flow.Options)

	resp = postJSON(t, server.URL+"/requests/selection", `{}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, server.URL+"/requests/selection", `{"option":"AKSA"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	doc, err := h.store.Get(context.Background(), h.paths.Request)
	require.NoError(t, err)
	require.Equal(t, "AKSA", doc.String("selection"))
	require.Equal(t, string(bridge.StatusSelectionMade), doc.String("status"))
}

func mustGet(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func multipartBody(t *testing.T, files ...[]byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	for i, data := range files {
		part, err := writer.CreateFormFile("images", "upload-"+string(rune('a'+i))+".png")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return buf, writer.FormDataContentType()
}

func TestCompleteManually(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	server := newTestServer(t, h)

	resp := postJSON(t, server.URL+"/requests/manual-complete", `{}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = postJSON(t, server.URL+"/requests", `{"type":"teorikliste"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	h.workerWrites(t, bridge.StatusMiniAppWaitingUpload, nil)

	body, contentType := multipartBody(t, []byte("not an image"))
	resp, err := http.Post(server.URL+"/requests/manual-complete", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	body, contentType = multipartBody(t, pngHeader)
	resp, err = http.Post(server.URL+"/requests/manual-complete", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decodeBody[session.Snapshot](t, resp)
	require.Equal(t, bridge.StepIdle, snap.Flow.Step)
	require.Len(t, snap.Images, 1)
	require.Equal(t, "image/png", snap.Images[0].MIME)
}

func TestCancelRequest(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	server := newTestServer(t, h)

	resp := postJSON(t, server.URL+"/requests", `{"type":"teorikliste"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	h.workerWrites(t, bridge.StatusMiniAppWaitingUpload, nil)

	resp = postJSON(t, server.URL+"/requests/cancel", ``)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	doc, err := h.store.Get(context.Background(), h.paths.Request)
	require.NoError(t, err)
	require.Equal(t, string(bridge.StatusCancelled), doc.String("status"))

	resp = postJSON(t, server.URL+"/requests/cancel", ``)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRestartWorker(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	server := newTestServer(t, h)

	resp := postJSON(t, server.URL+"/worker/restart", ``)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	doc, err := h.store.Get(context.Background(), h.paths.SystemCommand)
	require.NoError(t, err)
	require.Equal(t, "restart", doc.String("command"))
}

func TestImages(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	server := newTestServer(t, h)

	resp := postJSON(t, server.URL+"/requests", `{"type":"sinyal"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	h.workerWrites(t, bridge.StatusCompleted, store.Document{"image_base64": base64.StdEncoding.EncodeToString(pngHeader)})

	resp = mustGet(t, server.URL+"/images/0")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, pngHeader, data)

	require.Equal(t, http.StatusNotFound, mustGet(t, server.URL+"/images/3").StatusCode)
	require.Equal(t, http.StatusBadRequest, mustGet(t, server.URL+"/images/first").StatusCode)

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/images", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Empty(t, h.session.Images())
}

func collectImage(t *testing.T, h *harness) {
	t.Helper()
	require.NoError(t, h.session.Submit(context.Background(), "", "sinyal"))
	h.workerWrites(t, bridge.StatusCompleted, store.Document{"image_base64": base64.StdEncoding.EncodeToString(pngHeader)})
}

func TestRunAnalysis(t *testing.T) {
	t.Run("no images", func(t *testing.T) {
		server := newTestServer(t, newHarness(t, harnessOptions{analyzer: staticAnalyzer(sampleReport, nil)}))
		resp := postJSON(t, server.URL+"/analysis", `{}`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unsupported model", func(t *testing.T) {
		h := newHarness(t, harnessOptions{analyzer: staticAnalyzer(sampleReport, nil)})
		server := newTestServer(t, h)
		collectImage(t, h)
		resp := postJSON(t, server.URL+"/analysis", `{"model":"gpt-4"}`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("report built", func(t *testing.T) {
		var gotModel string
		h := newHarness(t, harnessOptions{analyzer: analyzerFunc(func(_ context.Context, req analysis.Request, _ func(float64)) (string, error) {
			gotModel = req.Model
			return sampleReport, nil
		})})
		server := newTestServer(t, h)
		collectImage(t, h)

		resp := postJSON(t, server.URL+"/analysis", `{"model":"gemini-2.5-flash-lite"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		view := decodeBody[session.ReportView](t, resp)
		require.Len(t, view.Sections, 2)
		require.Equal(t, 2, view.Included)
		require.Equal(t, analysis.DefaultLiteModel, gotModel)
	})

	t.Run("fatal producer error", func(t *testing.T) {
		h := newHarness(t, harnessOptions{analyzer: staticAnalyzer("partial ", &analysis.FatalError{Err: errors.New("quota exceeded")})})
		server := newTestServer(t, h)
		collectImage(t, h)

		resp := postJSON(t, server.URL+"/analysis", `{}`)
		require.Equal(t, http.StatusBadGateway, resp.StatusCode)
		payload := decodeBody[errorResponse](t, resp)
		require.Contains(t, payload.Error, "quota exceeded")
	})
}
