// Package engine runs the ingestion pipeline and the user commands that
// operate on the clipboard history.
//
// Every accepted clipboard change goes through the same ordered stages:
// pause, size and emptiness, self-copy suppression, source denylist,
// canonical hashing, duplicate-of-latest, classification, persistence,
// retention and notification. Any stage may reject the value, in which case
// nothing is written.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.klb.dev/clipvault/internal/clip"
	"go.klb.dev/clipvault/internal/events"
	"go.klb.dev/clipvault/internal/history"
	"go.klb.dev/clipvault/internal/media"
	"go.klb.dev/clipvault/internal/metrics"
	"go.klb.dev/clipvault/internal/suppress"
)

// DefaultAppID identifies clipvault itself as a clipboard source.
const DefaultAppID = "dev.klb.clipvault"

// ErrUnsupported is returned when an entry cannot be placed on the clipboard.
var ErrUnsupported = errors.New("engine: clipboard write unsupported")

// Store is the persistence the engine needs. *history.Store satisfies it.
type Store interface {
	InsertText(ctx context.Context, content string, category history.Category, hash string) (history.Entry, error)
	InsertImage(ctx context.Context, img history.ImageInsert) (history.Entry, error)
	Get(ctx context.Context, id int64) (history.Entry, error)
	Latest(ctx context.Context) (*history.Entry, error)
	List(ctx context.Context, query string, limit, offset int64) (history.Page, error)
	ListImages(ctx context.Context, limit int64) ([]history.Entry, error)
	SetPinned(ctx context.Context, id int64, pinned bool) (history.Entry, error)
	Delete(ctx context.Context, id int64) (history.Entry, error)
	DeleteMany(ctx context.Context, ids []int64) ([]history.Entry, error)
	DeleteAll(ctx context.Context) ([]history.Entry, error)
	Prune(ctx context.Context, limit int64) ([]history.Entry, error)
	Settings(ctx context.Context) (history.Settings, error)
	UpdateSettings(ctx context.Context, st history.Settings) (history.Settings, error)
	ReferencedMediaPaths(ctx context.Context) (map[string]struct{}, error)
}

// Media stores and removes image files. *media.Store satisfies it.
type Media interface {
	Store(img clip.Image) (media.StoredImage, error)
	DeleteFiles(original, thumb string) error
	CleanupOrphans(referenced map[string]struct{}) (int, error)
}

// Options configures an Engine.
type Options struct {
	Store Store
	Media Media

	// Clipboard receives CopyEntry writes and reports the foreground
	// application. Nil disables both.
	Clipboard clip.Backend

	// Suppressor defaults to a suppress.New(suppress.DefaultWindow).
	Suppressor *suppress.Suppressor

	// Hub receives change events. Nil drops them.
	Hub *events.Hub

	// AppID is rejected as a source. Defaults to DefaultAppID.
	AppID string
}

// Engine owns the ingestion pipeline.
type Engine struct {
	store      Store
	media      Media
	clipboard  clip.Backend
	suppressor *suppress.Suppressor
	hub        *events.Hub
	appID      string

	// mu serializes the insert step of ingestion and every command that
	// removes entries, so media release never races an insert that shares a
	// file.
	mu sync.Mutex
}

// New returns an Engine.
func New(opts Options) *Engine {
	e := &Engine{
		store:      opts.Store,
		media:      opts.Media,
		clipboard:  opts.Clipboard,
		suppressor: opts.Suppressor,
		hub:        opts.Hub,
		appID:      opts.AppID,
	}
	if e.suppressor == nil {
		e.suppressor = suppress.New(suppress.DefaultWindow)
	}
	if e.appID == "" {
		e.appID = DefaultAppID
	}
	return e
}

// Run processes values from changes until ctx is cancelled or changes is
// closed. Per-value failures are logged and do not stop the loop.
func (e *Engine) Run(ctx context.Context, changes <-chan clip.Value) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-changes:
			if !ok {
				return nil
			}
			if _, err := e.Process(ctx, v); err != nil {
				slog.Error("clipboard ingestion failed", "kind", v.Kind, "err", err)
			}
		}
	}
}

// Process runs v through the pipeline. It returns the stored entry, or nil
// when v was rejected by a filter.
//
// The source lookup, image hashing and media writes run without e.mu; only
// the duplicate check, insert and retention are serialized.
func (e *Engine) Process(ctx context.Context, v clip.Value) (*history.Entry, error) {
	entry, outcome, err := e.process(ctx, v)
	if err != nil {
		outcome = metrics.OutcomeError
	}
	metrics.Ingest.WithLabelValues(outcome).Inc()
	if outcome != metrics.OutcomeStored {
		slog.Debug("clipboard change rejected", "kind", v.Kind, "outcome", outcome)
	}
	return entry, err
}

func (e *Engine) process(ctx context.Context, v clip.Value) (*history.Entry, string, error) {
	settings, err := e.store.Settings(ctx)
	if err != nil {
		return nil, "", err
	}
	if settings.TrackingPaused {
		return nil, metrics.OutcomePaused, nil
	}
	if SkipPayload(v, settings.MaxClipBytes) {
		return nil, metrics.OutcomeSkipped, nil
	}

	// The canonical image hash needs a full decode; compute it at most once.
	var (
		imageHash string
		hashErr   error
		hashed    bool
	)
	canonical := func() (string, error) {
		if !hashed {
			imageHash, hashErr = media.CanonicalHash(v.Image.Data)
			hashed = true
		}
		return imageHash, hashErr
	}

	if e.suppressor.Match(suppress.Candidate{
		Image: v.Kind == clip.KindImage,
		Text:  v.Text,
		Hash:  canonical,
	}) {
		return nil, metrics.OutcomeSuppressed, nil
	}

	if e.clipboard != nil {
		if src := e.clipboard.ActiveSource(); IgnoreSource(src, e.appID, settings.Denylist) {
			slog.Debug("ignoring clipboard change from denied source", "source", src)
			return nil, metrics.OutcomeDenied, nil
		}
	}

	var hash string
	if v.Kind == clip.KindImage {
		if hash, err = canonical(); err != nil {
			return nil, "", fmt.Errorf("hashing image: %w", err)
		}
	} else {
		hash = TextHash(v.Text)
	}

	// Skip the file writes for the common repeat; commit checks again.
	latest, err := e.store.Latest(ctx)
	if err != nil {
		return nil, "", err
	}
	if IsDuplicate(latest, v, hash) {
		return nil, metrics.OutcomeDuplicate, nil
	}

	var stored *media.StoredImage
	if v.Kind == clip.KindImage {
		si, err := e.media.Store(*v.Image)
		if err != nil {
			return nil, "", fmt.Errorf("storing image: %w", err)
		}
		stored = &si
	}
	return e.commit(ctx, v, hash, stored)
}

// commit inserts v under e.mu, then applies retention and publishes the entry.
// Files written by the unlocked stage are released again if v is rejected.
func (e *Engine) commit(ctx context.Context, v clip.Value, hash string, stored *media.StoredImage) (*history.Entry, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	latest, err := e.store.Latest(ctx)
	if err != nil {
		e.discardStored(ctx, stored)
		return nil, "", err
	}
	if IsDuplicate(latest, v, hash) {
		e.discardStored(ctx, stored)
		return nil, metrics.OutcomeDuplicate, nil
	}

	var entry history.Entry
	if stored != nil {
		entry, err = e.insertImage(ctx, *v.Image, hash, *stored)
	} else {
		entry, err = e.store.InsertText(ctx, v.Text, Classify(v.Text), hash)
	}
	if err != nil {
		e.discardStored(ctx, stored)
		return nil, "", err
	}
	slog.Info("clipboard entry stored", "id", entry.ID, "category", entry.Category)

	settings, err := e.store.Settings(ctx)
	if err != nil {
		slog.Warn("retention skipped", "err", err)
	} else if err := e.enforceLimit(ctx, settings.HistoryLimit); err != nil {
		slog.Warn("retention failed", "err", err)
	}

	e.hub.Publish(events.Event{Type: events.Created, Entry: &entry})
	return &entry, metrics.OutcomeStored, nil
}

// insertImage records an image whose files were written before e.mu was
// taken. A delete that ran in between may have released those files if
// they were shared, so they are stored again first; with the dimensions
// known this only stats the existing files. Must be called with e.mu held.
func (e *Engine) insertImage(ctx context.Context, img clip.Image, hash string, stored media.StoredImage) (history.Entry, error) {
	img.Width, img.Height = stored.Width, stored.Height
	stored, err := e.media.Store(img)
	if err != nil {
		return history.Entry{}, fmt.Errorf("storing image: %w", err)
	}
	return e.store.InsertImage(ctx, history.ImageInsert{
		Content:   imageSummary(img.Format, stored),
		Hash:      hash,
		MediaPath: stored.OriginalPath,
		ThumbPath: stored.ThumbPath,
		MIME:      stored.MIME,
		ByteSize:  stored.ByteSize,
		Width:     stored.Width,
		Height:    stored.Height,
	})
}

// discardStored releases files written for a value that was not inserted.
// Must be called with e.mu held.
func (e *Engine) discardStored(ctx context.Context, stored *media.StoredImage) {
	if stored == nil {
		return
	}
	e.releaseMedia(ctx, []history.Entry{{
		Category:  history.CategoryImage,
		MediaPath: stored.OriginalPath,
		ThumbPath: stored.ThumbPath,
	}})
}
