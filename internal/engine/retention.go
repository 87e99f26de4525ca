package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.klb.dev/clipvault/internal/events"
	"go.klb.dev/clipvault/internal/history"
	"go.klb.dev/clipvault/internal/media"
	"go.klb.dev/clipvault/internal/metrics"
)

// DefaultReconcileLimit is how many recent images start-up reconciliation scans.
const DefaultReconcileLimit = 200

// enforceLimit prunes to limit and releases the files of evicted images.
// Must be called with e.mu held.
func (e *Engine) enforceLimit(ctx context.Context, limit int64) error {
	evicted, err := e.store.Prune(ctx, limit)
	if err != nil {
		return fmt.Errorf("pruning history: %w", err)
	}
	if len(evicted) == 0 {
		return nil
	}
	metrics.Evicted.Add(float64(len(evicted)))
	slog.Debug("history pruned", "evicted", len(evicted), "limit", limit)

	e.releaseMedia(ctx, evicted)
	for _, ev := range evicted {
		e.hub.Publish(events.Event{Type: events.Deleted, ID: ev.ID})
	}
	return nil
}

// releaseMedia deletes the files of removed image entries that no surviving
// entry references. Failures are logged; the entries are already gone.
// Must be called with e.mu held.
func (e *Engine) releaseMedia(ctx context.Context, removed []history.Entry) {
	var images []history.Entry
	for _, r := range removed {
		if r.IsImage() {
			images = append(images, r)
		}
	}
	if len(images) == 0 {
		return
	}

	refs, err := e.store.ReferencedMediaPaths(ctx)
	if err != nil {
		slog.Warn("cannot release media, leaving files for orphan cleanup", "err", err)
		return
	}

	for _, img := range images {
		original, thumb := img.MediaPath, img.ThumbPath
		if _, ok := refs[original]; ok {
			original = ""
		}
		if _, ok := refs[thumb]; ok {
			thumb = ""
		}
		if original == "" && thumb == "" {
			continue
		}
		if err := e.media.DeleteFiles(original, thumb); err != nil {
			slog.Warn("failed to remove media for entry", "id", img.ID, "err", err)
			continue
		}
		// Shared paths may repeat across removed entries; delete each once.
		for _, p := range []string{original, thumb} {
			if p != "" {
				refs[p] = struct{}{}
				metrics.MediaRemoved.Inc()
			}
		}
	}
}

// ReconcileImageDuplicates scans the limit most recent image entries, newest
// first, and deletes every entry whose canonical pixel hash equals that of
// the image just before it in the scan. Images that cannot be read or decoded
// are skipped. It returns the number of entries removed.
func (e *Engine) ReconcileImageDuplicates(ctx context.Context, limit int64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	images, err := e.store.ListImages(ctx, limit)
	if err != nil {
		return 0, err
	}

	var (
		last       string
		duplicates []int64
	)
	for _, img := range images {
		if img.MediaPath == "" {
			continue
		}
		canonical, err := media.CanonicalHashFile(img.MediaPath)
		if err != nil {
			slog.Warn("skipping image during reconciliation", "id", img.ID, "err", err)
			continue
		}
		if canonical == last {
			duplicates = append(duplicates, img.ID)
			continue
		}
		last = canonical
	}
	if len(duplicates) == 0 {
		return 0, nil
	}

	deleted, err := e.store.DeleteMany(ctx, duplicates)
	if err != nil {
		return 0, fmt.Errorf("deleting duplicate images: %w", err)
	}
	e.releaseMedia(ctx, deleted)
	for _, d := range deleted {
		e.hub.Publish(events.Event{Type: events.Deleted, ID: d.ID})
	}
	slog.Info("collapsed duplicate images", "removed", len(deleted))
	return len(deleted), nil
}

// CleanupOrphans removes media files no entry references.
func (e *Engine) CleanupOrphans(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	refs, err := e.store.ReferencedMediaPaths(ctx)
	if err != nil {
		return 0, err
	}
	n, err := e.media.CleanupOrphans(refs)
	metrics.MediaRemoved.Add(float64(n))
	if err != nil {
		return n, fmt.Errorf("cleaning orphaned media: %w", err)
	}
	if n > 0 {
		slog.Info("removed orphaned media files", "count", n)
	}
	return n, nil
}

// Prune applies the current history limit.
func (e *Engine) Prune(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	settings, err := e.store.Settings(ctx)
	if err != nil {
		return err
	}
	return e.enforceLimit(ctx, settings.HistoryLimit)
}
