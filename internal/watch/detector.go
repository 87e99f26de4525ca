// Package watch polls the clipboard and reports distinct, debounced changes.
package watch

import (
	"context"
	"log/slog"
	"time"

	"go.klb.dev/clipvault/internal/clip"
)

// DefaultInterval is the clipboard polling period.
const DefaultInterval = 220 * time.Millisecond

// Detector polls a clipboard backend and emits accepted values on Changes.
type Detector struct {
	// Open returns a fresh backend. It is called at start-up and again after
	// any read failure.
	Open     func() (clip.Backend, error)
	Interval time.Duration
	Debounce time.Duration

	changes  chan clip.Value
	debounce *Debouncer
}

// NewDetector returns a Detector with default timings.
func NewDetector(open func() (clip.Backend, error)) *Detector {
	return &Detector{
		Open:     open,
		Interval: DefaultInterval,
		Debounce: DefaultDebounce,
		changes:  make(chan clip.Value),
	}
}

// Changes returns the channel of accepted values. It is unbuffered: the
// detector blocks until the consumer takes the previous value.
func (d *Detector) Changes() <-chan clip.Value {
	return d.changes
}

// Run polls until ctx is cancelled. Failures to open or read the clipboard
// drop the handle, which is re-opened on the next tick; they never stop the
// loop.
func (d *Detector) Run(ctx context.Context) error {
	if d.changes == nil {
		d.changes = make(chan clip.Value)
	}
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	window := d.Debounce
	if window <= 0 {
		window = DefaultDebounce
	}
	d.debounce = NewDebouncer(window)

	var backend clip.Backend
	defer func() {
		if backend != nil {
			backend.Close()
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("clipboard watcher started", "interval", interval, "debounce", window)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if backend == nil {
			b, err := d.Open()
			if err != nil {
				slog.Warn("clipboard unavailable", "err", err)
				continue
			}
			backend = b
			slog.Debug("clipboard backend opened", "backend", backend.Name())
		}

		v, err := backend.Read()
		if err != nil {
			slog.Warn("clipboard read failed, reopening", "backend", backend.Name(), "err", err)
			backend.Close()
			backend = nil
			continue
		}
		if v == nil {
			continue
		}

		if !d.debounce.ShouldEmit(Signature(*v)) {
			continue
		}

		select {
		case d.changes <- *v:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
