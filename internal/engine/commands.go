package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.klb.dev/clipvault/internal/clip"
	"go.klb.dev/clipvault/internal/events"
	"go.klb.dev/clipvault/internal/history"
	"go.klb.dev/clipvault/internal/media"
	"go.klb.dev/clipvault/internal/suppress"
)

// CopyEntry places entry id on the clipboard. The write is announced to the
// suppressor first so the detector does not record it again.
func (e *Engine) CopyEntry(ctx context.Context, id int64) error {
	if e.clipboard == nil {
		return ErrUnsupported
	}
	entry, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}

	var (
		value  clip.Value
		marker suppress.Marker
	)
	if entry.IsImage() {
		if entry.MediaPath == "" {
			return fmt.Errorf("image entry %d has no stored original", id)
		}
		data, err := os.ReadFile(entry.MediaPath)
		if err != nil {
			return fmt.Errorf("reading image for entry %d: %w", id, err)
		}
		hash, err := media.CanonicalHash(data)
		if err != nil {
			return fmt.Errorf("hashing image for entry %d: %w", id, err)
		}
		pngData, err := media.EncodePNG(data)
		if err != nil {
			return err
		}
		value = clip.ImageValue(clip.Image{
			Data:   pngData,
			Width:  entry.Width,
			Height: entry.Height,
			MIME:   "image/png",
			Format: "png",
		})
		marker = suppress.ImageMarker(hash)
	} else {
		value = clip.Text(entry.Content)
		marker = suppress.TextMarker(entry.Content)
	}

	e.suppressor.Arm(marker)
	if err := e.clipboard.Write(value); err != nil {
		e.suppressor.Disarm()
		return fmt.Errorf("writing clipboard: %w", err)
	}
	slog.Info("entry copied to clipboard", "id", id, "category", entry.Category)
	return nil
}

// Get returns one entry.
func (e *Engine) Get(ctx context.Context, id int64) (history.Entry, error) {
	return e.store.Get(ctx, id)
}

// List returns a page of entries, pinned first then newest first.
func (e *Engine) List(ctx context.Context, query string, limit, offset int64) (history.Page, error) {
	return e.store.List(ctx, query, limit, offset)
}

// SetPinned pins or unpins entry id.
func (e *Engine) SetPinned(ctx context.Context, id int64, pinned bool) (history.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, err := e.store.SetPinned(ctx, id, pinned)
	if err != nil {
		return history.Entry{}, err
	}
	e.hub.Publish(events.Event{Type: events.Updated, Entry: &entry})

	if !pinned {
		// An unpinned entry counts toward the limit again.
		settings, err := e.store.Settings(ctx)
		if err != nil {
			return entry, err
		}
		if err := e.enforceLimit(ctx, settings.HistoryLimit); err != nil {
			return entry, err
		}
	}
	return entry, nil
}

// Delete removes entry id and releases its files.
func (e *Engine) Delete(ctx context.Context, id int64) (history.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, err := e.store.Delete(ctx, id)
	if err != nil {
		return history.Entry{}, err
	}
	e.releaseMedia(ctx, []history.Entry{entry})
	e.hub.Publish(events.Event{Type: events.Deleted, ID: id})
	return entry, nil
}

// Clear removes every entry, pinned ones included, and returns how many were removed.
func (e *Engine) Clear(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	deleted, err := e.store.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	e.releaseMedia(ctx, deleted)
	e.hub.Publish(events.Event{Type: events.Cleared})
	slog.Info("history cleared", "removed", len(deleted))
	return len(deleted), nil
}

// Settings returns the current settings.
func (e *Engine) Settings(ctx context.Context) (history.Settings, error) {
	return e.store.Settings(ctx)
}

// UpdateSettings stores st and applies a lowered history limit immediately.
func (e *Engine) UpdateSettings(ctx context.Context, st history.Settings) (history.Settings, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	updated, err := e.store.UpdateSettings(ctx, st)
	if err != nil {
		return history.Settings{}, err
	}
	slog.Info("settings updated",
		"history_limit", updated.HistoryLimit,
		"tracking_paused", updated.TrackingPaused,
		"max_clip_bytes", updated.MaxClipBytes,
	)
	if err := e.enforceLimit(ctx, updated.HistoryLimit); err != nil {
		return updated, err
	}
	return updated, nil
}

// SetPaused toggles tracking without touching other settings.
func (e *Engine) SetPaused(ctx context.Context, paused bool) (history.Settings, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.store.Settings(ctx)
	if err != nil {
		return history.Settings{}, err
	}
	st.TrackingPaused = paused
	updated, err := e.store.UpdateSettings(ctx, st)
	if err != nil {
		return history.Settings{}, err
	}
	slog.Info("tracking state changed", "paused", paused)
	return updated, nil
}
