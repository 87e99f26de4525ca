package control

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipvault/internal/clip"
	"go.klb.dev/clipvault/internal/engine"
	"go.klb.dev/clipvault/internal/events"
	"go.klb.dev/clipvault/internal/history"
	"go.klb.dev/clipvault/internal/media"
	"go.klb.dev/clipvault/internal/message"
)

// panicky panics on Get(666) to exercise recovery.
type panicky struct {
	*engine.Engine
}

func (p panicky) Get(ctx context.Context, id int64) (history.Entry, error) {
	if id == 666 {
		panic("boom")
	}
	return p.Engine.Get(ctx, id)
}

type testDaemon struct {
	engine *engine.Engine
	hub    *events.Hub
	client *Client
}

func startDaemon(t *testing.T) *testDaemon {
	t.Helper()
	store, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ms, err := media.Open(t.TempDir())
	require.NoError(t, err)

	hub := events.NewHub()
	eng := engine.New(engine.Options{Store: store, Media: ms, Hub: hub})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(panicky{eng}, hub).Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	addr := ln.Addr().String()
	client := &Client{
		Dial:    func() (net.Conn, error) { return net.Dial("tcp", addr) },
		Timeout: 5 * time.Second,
	}
	return &testDaemon{engine: eng, hub: hub, client: client}
}

func (d *testDaemon) ingest(t *testing.T, s string) history.Entry {
	t.Helper()
	e, err := d.engine.Process(context.Background(), clip.Text(s))
	require.NoError(t, err)
	require.NotNil(t, e)
	return *e
}

func TestServer_ListAndGet(t *testing.T) {
	ctx := context.Background()
	d := startDaemon(t)
	d.ingest(t, "first")
	second := d.ingest(t, "second")

	resp, err := d.client.Call(ctx, &message.Message{Type: message.TypeList})
	require.NoError(t, err)
	require.NotNil(t, resp.Page)
	assert.Equal(t, int64(2), resp.Page.Total)
	assert.Equal(t, "second", resp.Page.Items[0].Content)

	resp, err = d.client.Call(ctx, &message.Message{Type: message.TypeGet, ID: second.ID})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Entry.Content)
}

func TestServer_ErrorCodes(t *testing.T) {
	ctx := context.Background()
	d := startDaemon(t)

	_, err := d.client.Call(ctx, &message.Message{Type: message.TypeGet, ID: 42})
	var rerr *message.ResponseError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, message.CodeNotFound, rerr.Code)

	_, err = d.client.Call(ctx, &message.Message{Type: message.TypeCopy, ID: 1})
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, message.CodeInvalid, rerr.Code, "no clipboard attached")

	_, err = d.client.Call(ctx, &message.Message{Type: message.TypeUpdateSettings, Settings: &history.Settings{}})
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, message.CodeInvalid, rerr.Code)

	_, err = d.client.Call(ctx, &message.Message{Type: "BOGUS"})
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, message.CodeInvalid, rerr.Code)
}

func TestServer_RecoversPanic(t *testing.T) {
	ctx := context.Background()
	d := startDaemon(t)
	d.ingest(t, "still here")

	_, err := d.client.Call(ctx, &message.Message{Type: message.TypeGet, ID: 666})
	var rerr *message.ResponseError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, message.CodeInternal, rerr.Code)

	resp, err := d.client.Call(ctx, &message.Message{Type: message.TypeList})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Page.Total, "daemon keeps serving")
}

func TestServer_PinDeleteClearSettings(t *testing.T) {
	ctx := context.Background()
	d := startDaemon(t)
	a := d.ingest(t, "a")
	b := d.ingest(t, "b")

	resp, err := d.client.Call(ctx, &message.Message{Type: message.TypePin, ID: a.ID})
	require.NoError(t, err)
	assert.True(t, resp.Entry.Pinned)

	resp, err = d.client.Call(ctx, &message.Message{Type: message.TypeUnpin, ID: a.ID})
	require.NoError(t, err)
	assert.False(t, resp.Entry.Pinned)

	resp, err = d.client.Call(ctx, &message.Message{Type: message.TypeDelete, ID: b.ID})
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Entry.Content)

	resp, err = d.client.Call(ctx, &message.Message{Type: message.TypeSettings})
	require.NoError(t, err)
	st := *resp.Settings
	assert.Equal(t, history.DefaultHistoryLimit, st.HistoryLimit)

	st.TrackingPaused = true
	resp, err = d.client.Call(ctx, &message.Message{Type: message.TypeUpdateSettings, Settings: &st})
	require.NoError(t, err)
	assert.True(t, resp.Settings.TrackingPaused)

	resp, err = d.client.Call(ctx, &message.Message{Type: message.TypeClear})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Count)
}

func TestServer_PauseResume(t *testing.T) {
	ctx := context.Background()
	d := startDaemon(t)

	resp, err := d.client.Call(ctx, &message.Message{Type: message.TypePause})
	require.NoError(t, err)
	assert.True(t, resp.Settings.TrackingPaused)

	e, err := d.engine.Process(ctx, clip.Text("ignored"))
	require.NoError(t, err)
	assert.Nil(t, e)

	resp, err = d.client.Call(ctx, &message.Message{Type: message.TypeResume})
	require.NoError(t, err)
	assert.False(t, resp.Settings.TrackingPaused)
	d.ingest(t, "recorded")
}

func TestClient_Watch(t *testing.T) {
	d := startDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan events.Event, 4)
	done := make(chan error, 1)
	go func() {
		done <- d.client.Watch(ctx, func(ev events.Event) { got <- ev })
	}()

	require.Eventually(t, func() bool { return d.hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	e := d.ingest(t, "watched")

	select {
	case ev := <-got:
		assert.Equal(t, events.Created, ev.Type)
		assert.Equal(t, e.ID, ev.Entry.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	assert.NoError(t, <-done)
	assert.Eventually(t, func() bool { return d.hub.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func serveIdle(t *testing.T, s *Server) (addr string, cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx, ln) }()
	t.Cleanup(cancel)
	return ln.Addr().String(), cancel, errc
}

func (s *Server) openConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func TestServe_IdleClientDoesNotBlockShutdown(t *testing.T) {
	s := NewServer(nil, nil)
	addr, cancel, done := serveIdle(t, s)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.openConns() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return with an idle client connected")
	}
}

func TestServe_IdleClientTimesOut(t *testing.T) {
	s := NewServer(nil, nil)
	s.ReadTimeout = 50 * time.Millisecond
	addr, _, _ := serveIdle(t, s)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "server hangs up on a silent client")
	assert.Eventually(t, func() bool { return s.openConns() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestClient_WatchEndsWhenDaemonStops(t *testing.T) {
	hub := events.NewHub()
	s := NewServer(nil, hub)
	addr, cancel, done := serveIdle(t, s)
	client := &Client{Dial: func() (net.Conn, error) { return net.Dial("tcp", addr) }}

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- client.Watch(context.Background(), func(events.Event) {})
	}()
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	select {
	case err := <-watchErr:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after the daemon stopped")
	}
}

func TestClient_NoDaemon(t *testing.T) {
	c := &Client{Dial: func() (net.Conn, error) { return net.Dial("tcp", "127.0.0.1:1") }}
	_, err := c.Call(context.Background(), &message.Message{Type: message.TypeList})
	assert.Error(t, err)
}
