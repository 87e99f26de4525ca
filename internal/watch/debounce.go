package watch

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"go.klb.dev/clipvault/internal/clip"
)

// DefaultDebounce is the minimum spacing between two emitted changes.
const DefaultDebounce = 120 * time.Millisecond

// Signature returns a cheap identity for v used only for change detection:
// "text:" or "image:" followed by the hex SHA-256 of the raw payload. Two
// encodings of the same picture produce different signatures here.
func Signature(v clip.Value) string {
	if v.Kind == clip.KindImage {
		var data []byte
		if v.Image != nil {
			data = v.Image.Data
		}
		sum := sha256.Sum256(data)
		return "image:" + hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256([]byte(v.Text))
	return "text:" + hex.EncodeToString(sum[:])
}

// Debouncer decides whether an observed signature is a new change worth
// emitting. A value that flickers back to a previously seen signature is not
// re-emitted, and a change arriving within Window of the previous emission is
// dropped. The signature is recorded before the debounce gate, so a value
// dropped by the gate is not offered again on the next poll.
type Debouncer struct {
	Window time.Duration

	mu       sync.Mutex
	now      func() time.Time
	lastSig  string
	lastEmit time.Time
	started  bool
}

// NewDebouncer returns a Debouncer with the given window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{Window: window, now: time.Now}
}

// ShouldEmit records sig and reports whether it should be emitted.
func (d *Debouncer) ShouldEmit(sig string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.now == nil {
		d.now = time.Now
	}
	now := d.now()
	if !d.started {
		d.lastEmit = now.Add(-2 * d.Window)
		d.started = true
	}

	if sig == d.lastSig {
		return false
	}
	d.lastSig = sig

	if now.Sub(d.lastEmit) < d.Window {
		return false
	}
	d.lastEmit = now
	return true
}
