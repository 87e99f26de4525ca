package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipvault/internal/clip"
	"go.klb.dev/clipvault/internal/engine"
	"go.klb.dev/clipvault/internal/events"
	"go.klb.dev/clipvault/internal/history"
	"go.klb.dev/clipvault/internal/media"
)

type apiEnv struct {
	engine *engine.Engine
	hub    *events.Hub
	server *httptest.Server
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	store, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ms, err := media.Open(t.TempDir())
	require.NoError(t, err)

	hub := events.NewHub()
	eng := engine.New(engine.Options{Store: store, Media: ms, Hub: hub})
	srv := httptest.NewServer(NewRouter(eng, hub))
	t.Cleanup(srv.Close)
	return &apiEnv{engine: eng, hub: hub, server: srv}
}

func (env *apiEnv) ingest(t *testing.T, v clip.Value) history.Entry {
	t.Helper()
	e, err := env.engine.Process(context.Background(), v)
	require.NoError(t, err)
	require.NotNil(t, e)
	return *e
}

func (env *apiEnv) do(t *testing.T, method, path string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, env.server.URL+path, body)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestListEntries(t *testing.T) {
	env := newAPIEnv(t)
	env.ingest(t, clip.Text("alpha"))
	env.ingest(t, clip.Text("beta"))
	env.ingest(t, clip.Text("alphabet"))

	resp := env.do(t, http.MethodGet, "/api/entries?q=ALPHA&limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[history.Page](t, resp)
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "alphabet", page.Items[0].Content)
	require.NotNil(t, page.NextOffset)
	assert.Equal(t, int64(1), *page.NextOffset)
}

func TestListEntries_EmptyIsArray(t *testing.T) {
	env := newAPIEnv(t)
	resp := env.do(t, http.MethodGet, "/api/entries", nil)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"items":[]`)
}

func TestListEntries_BadLimit(t *testing.T) {
	env := newAPIEnv(t)
	resp := env.do(t, http.MethodGet, "/api/entries?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEntryLifecycle(t *testing.T) {
	env := newAPIEnv(t)
	e := env.ingest(t, clip.Text("keep me"))
	path := "/api/entries/" + itoa(e.ID)

	resp := env.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "keep me", decode[history.Entry](t, resp).Content)

	resp = env.do(t, http.MethodPut, path+"/pin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[history.Entry](t, resp).Pinned)

	resp = env.do(t, http.MethodDelete, path+"/pin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[history.Entry](t, resp).Pinned)

	resp = env.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[errorBody](t, resp)
	assert.Equal(t, "not_found", body.Code)
}

func TestEntry_InvalidID(t *testing.T) {
	env := newAPIEnv(t)
	resp := env.do(t, http.MethodGet, "/api/entries/zero", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCopy_WithoutClipboard(t *testing.T) {
	env := newAPIEnv(t)
	e := env.ingest(t, clip.Text("x"))
	resp := env.do(t, http.MethodPost, "/api/entries/"+itoa(e.ID)+"/copy", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClearEntries(t *testing.T) {
	env := newAPIEnv(t)
	env.ingest(t, clip.Text("a"))
	env.ingest(t, clip.Text("b"))

	resp := env.do(t, http.MethodDelete, "/api/entries", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]int{"removed": 2}, decode[map[string]int](t, resp))
}

func TestSettings(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[history.Settings](t, resp)
	assert.Equal(t, history.DefaultSettings(), st)

	st.HistoryLimit = 10
	body, err := json.Marshal(st)
	require.NoError(t, err)
	resp = env.do(t, http.MethodPut, "/api/settings", bytes.NewReader(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(10), decode[history.Settings](t, resp).HistoryLimit)

	resp = env.do(t, http.MethodPut, "/api/settings", strings.NewReader(`{"history_limit":0,"max_clip_bytes":1}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/api/settings", strings.NewReader(`{"bogus":true}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPauseResume(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodPost, "/api/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[history.Settings](t, resp).TrackingPaused)

	e, err := env.engine.Process(context.Background(), clip.Text("ignored"))
	require.NoError(t, err)
	assert.Nil(t, e)

	resp = env.do(t, http.MethodPost, "/api/resume", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[history.Settings](t, resp).TrackingPaused)
}

func TestThumbnail(t *testing.T) {
	env := newAPIEnv(t)

	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.SetNRGBA(1, 1, color.NRGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	e := env.ingest(t, clip.ImageValue(clip.Image{Data: buf.Bytes(), Format: "png", MIME: "image/png"}))

	resp := env.do(t, http.MethodGet, "/api/entries/"+itoa(e.ID)+"/thumbnail", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	txt := env.ingest(t, clip.Text("no image"))
	resp = env.do(t, http.MethodGet, "/api/entries/"+itoa(txt.ID)+"/original", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEvents_StreamsCreated(t *testing.T) {
	env := newAPIEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return env.hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	e := env.ingest(t, clip.Text("live"))

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	var eventLine, dataLine string
	timeout := time.After(2 * time.Second)
	for dataLine == "" {
		select {
		case l, ok := <-lines:
			require.True(t, ok, "stream closed early")
			switch {
			case strings.HasPrefix(l, "event: "):
				eventLine = l
			case strings.HasPrefix(l, "data: "):
				dataLine = strings.TrimPrefix(l, "data: ")
			}
		case <-timeout:
			t.Fatal("no event received")
		}
	}
	assert.Equal(t, "event: created", eventLine)

	var ev events.Event
	require.NoError(t, json.Unmarshal([]byte(dataLine), &ev))
	assert.Equal(t, e.ID, ev.Entry.ID)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.ingest(t, clip.Text("counted"))

	resp := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `clipvault_ingest_total{outcome="stored"}`)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
