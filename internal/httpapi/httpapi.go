// Package httpapi exposes the history over a local HTTP API with a
// server-sent event stream for live updates.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.klb.dev/clipvault/internal/control"
	"go.klb.dev/clipvault/internal/events"
	"go.klb.dev/clipvault/internal/history"
	"go.klb.dev/clipvault/internal/message"
	"go.klb.dev/clipvault/internal/metrics"
)

const heartbeatInterval = 15 * time.Second

type handler struct {
	svc    control.Service
	hub    *events.Hub
	nextID atomic.Uint64
}

// NewRouter returns the API routes backed by svc. Live events come from hub.
func NewRouter(svc control.Service, hub *events.Hub) http.Handler {
	h := &handler{svc: svc, hub: hub}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(metrics.Middleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/entries", h.listEntries)
		r.Delete("/entries", h.clearEntries)
		r.Route("/entries/{id}", func(r chi.Router) {
			r.Get("/", h.getEntry)
			r.Delete("/", h.deleteEntry)
			r.Post("/copy", h.copyEntry)
			r.Put("/pin", h.pinEntry(true))
			r.Delete("/pin", h.pinEntry(false))
			r.Get("/thumbnail", h.serveMedia(func(e history.Entry) string { return e.ThumbPath }))
			r.Get("/original", h.serveMedia(func(e history.Entry) string { return e.MediaPath }))
		})
		r.Get("/settings", h.getSettings)
		r.Put("/settings", h.putSettings)
		r.Post("/pause", h.setPaused(true))
		r.Post("/resume", h.setPaused(false))
		r.Get("/events", h.streamEvents)
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// ListenAndServe serves h on addr until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http api: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (h *handler) listEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), control.DefaultListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, message.CodeInvalid, "limit: "+err.Error())
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, message.CodeInvalid, "offset: "+err.Error())
		return
	}
	page, err := h.svc.List(r.Context(), q.Get("q"), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if page.Items == nil {
		page.Items = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handler) getEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}
	entry, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *handler) deleteEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}
	entry, err := h.svc.Delete(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *handler) clearEntries(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Clear(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (h *handler) copyEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}
	if err := h.svc.CopyEntry(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) pinEntry(pinned bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := entryID(w, r)
		if !ok {
			return
		}
		entry, err := h.svc.SetPinned(r.Context(), id, pinned)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func (h *handler) serveMedia(pick func(history.Entry) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := entryID(w, r)
		if !ok {
			return
		}
		entry, err := h.svc.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		path := pick(entry)
		if !entry.IsImage() || path == "" {
			writeError(w, http.StatusNotFound, message.CodeNotFound, "entry has no image")
			return
		}
		http.ServeFile(w, r, path)
	}
}

func (h *handler) getSettings(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Settings(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) putSettings(w http.ResponseWriter, r *http.Request) {
	var st history.Settings
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&st); err != nil {
		writeError(w, http.StatusBadRequest, message.CodeInvalid, "decoding settings: "+err.Error())
		return
	}
	updated, err := h.svc.UpdateSettings(r.Context(), st)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) setPaused(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := h.svc.SetPaused(r.Context(), paused)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// streamEvents relays hub events as server-sent events until the client
// goes away.
func (h *handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, message.CodeInternal, "streaming unsupported")
		return
	}

	sub := events.NewChannel(fmt.Sprintf("sse-%d", h.nextID.Add(1)), 64)
	h.hub.Subscribe(sub)
	defer h.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev := <-sub.Events():
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("encoding event", "err", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

// --- helpers ---

func entryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, message.CodeInvalid, "invalid entry id")
		return 0, false
	}
	return id, true
}

func queryInt(s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

func writeServiceError(w http.ResponseWriter, err error) {
	code := control.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case message.CodeNotFound:
		status = http.StatusNotFound
	case message.CodeInvalid:
		status = http.StatusBadRequest
	default:
		slog.Error("api request failed", "err", err)
	}
	writeError(w, status, code, err.Error())
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}
