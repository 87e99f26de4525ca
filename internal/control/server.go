// Package control serves the engine's commands over the local IPC socket
// and provides the matching client used by the CLI.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.klb.dev/clipvault/internal/engine"
	"go.klb.dev/clipvault/internal/events"
	"go.klb.dev/clipvault/internal/history"
	"go.klb.dev/clipvault/internal/message"
	"go.klb.dev/clipvault/internal/wire"
)

const (
	// DefaultListLimit applies when a LIST request carries no limit.
	DefaultListLimit = 50

	// DefaultReadTimeout bounds how long a new connection may take to send
	// its request.
	DefaultReadTimeout = 10 * time.Second
)

// Service is the set of engine commands exposed over IPC. *engine.Engine
// satisfies it.
type Service interface {
	List(ctx context.Context, query string, limit, offset int64) (history.Page, error)
	Get(ctx context.Context, id int64) (history.Entry, error)
	CopyEntry(ctx context.Context, id int64) error
	SetPinned(ctx context.Context, id int64, pinned bool) (history.Entry, error)
	Delete(ctx context.Context, id int64) (history.Entry, error)
	Clear(ctx context.Context) (int, error)
	Settings(ctx context.Context) (history.Settings, error)
	UpdateSettings(ctx context.Context, st history.Settings) (history.Settings, error)
	SetPaused(ctx context.Context, paused bool) (history.Settings, error)
}

// Server answers control requests on a listener.
type Server struct {
	svc Service
	hub *events.Hub

	// ReadTimeout defaults to DefaultReadTimeout.
	ReadTimeout time.Duration

	nextID atomic.Uint64

	mu     sync.Mutex
	conns  map[*wire.Conn]struct{}
	closed bool
}

// NewServer returns a Server dispatching to svc. hub may be nil, in which
// case WATCH is rejected.
func NewServer(svc Service, hub *events.Hub) *Server {
	return &Server{svc: svc, hub: hub}
}

// Serve accepts connections on ln until ctx is cancelled. It closes ln and
// every open connection, then waits for in-flight requests to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
		s.closeConns()
	}()

	slog.Info("control socket listening", "addr", ln.Addr().String())

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		c := wire.New(conn)
		if !s.track(c) {
			c.Close()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.untrack(c)
			s.handleConn(ctx, c)
		}()
	}
}

func (s *Server) track(c *wire.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.conns == nil {
		s.conns = make(map[*wire.Conn]struct{})
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *wire.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.conns {
		c.Close()
	}
}

func (s *Server) handleConn(ctx context.Context, c *wire.Conn) {
	defer c.Close()

	timeout := s.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	c.SetReadDeadline(timeout)
	req, err := c.ReadMsg()
	if err != nil {
		slog.Debug("control read failed", "err", err)
		return
	}

	if req.Type == message.TypeWatch {
		c.SetReadDeadline(0)
		s.watch(ctx, c)
		return
	}

	resp := s.dispatch(ctx, req)
	if err := c.WriteMsg(resp); err != nil {
		slog.Debug("control write failed", "err", err)
	}
}

// dispatch runs one request. A panicking command is reported to this caller
// only.
func (s *Server) dispatch(ctx context.Context, req *message.Message) (resp *message.Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("control request panicked", "type", req.Type, "panic", r, "stack", string(debug.Stack()))
			resp = message.Errorf(message.CodeInternal, "internal error")
		}
	}()

	switch req.Type {
	case message.TypeList:
		limit := req.Limit
		if limit <= 0 {
			limit = DefaultListLimit
		}
		page, err := s.svc.List(ctx, req.Query, limit, req.Offset)
		if err != nil {
			return errorMsg(err)
		}
		return &message.Message{Type: message.TypeOK, Page: &page}

	case message.TypeGet:
		entry, err := s.svc.Get(ctx, req.ID)
		if err != nil {
			return errorMsg(err)
		}
		return &message.Message{Type: message.TypeOK, Entry: &entry}

	case message.TypeCopy:
		if err := s.svc.CopyEntry(ctx, req.ID); err != nil {
			return errorMsg(err)
		}
		return &message.Message{Type: message.TypeOK, ID: req.ID}

	case message.TypePin, message.TypeUnpin:
		entry, err := s.svc.SetPinned(ctx, req.ID, req.Type == message.TypePin)
		if err != nil {
			return errorMsg(err)
		}
		return &message.Message{Type: message.TypeOK, Entry: &entry}

	case message.TypeDelete:
		entry, err := s.svc.Delete(ctx, req.ID)
		if err != nil {
			return errorMsg(err)
		}
		return &message.Message{Type: message.TypeOK, Entry: &entry}

	case message.TypeClear:
		n, err := s.svc.Clear(ctx)
		if err != nil {
			return errorMsg(err)
		}
		return &message.Message{Type: message.TypeOK, Count: n}

	case message.TypeSettings:
		st, err := s.svc.Settings(ctx)
		if err != nil {
			return errorMsg(err)
		}
		return &message.Message{Type: message.TypeOK, Settings: &st}

	case message.TypeUpdateSettings:
		if req.Settings == nil {
			return message.Errorf(message.CodeInvalid, "settings missing")
		}
		st, err := s.svc.UpdateSettings(ctx, *req.Settings)
		if err != nil {
			return errorMsg(err)
		}
		return &message.Message{Type: message.TypeOK, Settings: &st}

	case message.TypePause, message.TypeResume:
		st, err := s.svc.SetPaused(ctx, req.Type == message.TypePause)
		if err != nil {
			return errorMsg(err)
		}
		return &message.Message{Type: message.TypeOK, Settings: &st}

	default:
		return message.Errorf(message.CodeInvalid, "unknown request type %q", req.Type)
	}
}

// watch streams hub events to c until the client disconnects or ctx ends.
func (s *Server) watch(ctx context.Context, c *wire.Conn) {
	if s.hub == nil {
		_ = c.WriteMsg(message.Errorf(message.CodeInvalid, "watch not available"))
		return
	}

	sub := events.NewChannel(fmt.Sprintf("ipc-%d", s.nextID.Add(1)), 64)
	s.hub.Subscribe(sub)
	defer s.hub.Unsubscribe(sub)

	if err := c.WriteMsg(&message.Message{Type: message.TypeOK}); err != nil {
		return
	}

	// Any read, including EOF, ends the stream.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_, _ = c.ReadMsg()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case ev := <-sub.Events():
			if err := c.WriteMsg(&message.Message{Type: message.TypeEvent, Event: &ev}); err != nil {
				return
			}
		}
	}
}

func errorMsg(err error) *message.Message {
	code := ErrorCode(err)
	if code == message.CodeInternal {
		slog.Error("control request failed", "err", err)
	}
	return message.Errorf(code, "%v", err)
}

// ErrorCode maps an engine error to a protocol error code.
func ErrorCode(err error) string {
	var verr *history.ValidationError
	switch {
	case errors.Is(err, history.ErrNotFound):
		return message.CodeNotFound
	case errors.As(err, &verr), errors.Is(err, engine.ErrUnsupported):
		return message.CodeInvalid
	default:
		return message.CodeInternal
	}
}
