// Package suppress recognizes clipboard changes caused by clipvault itself.
//
// When an entry is copied back to the clipboard the detector will see it
// again a moment later. Arm records what was written; the first matching
// observation within the window is swallowed and the marker consumed.
package suppress

import (
	"sync"
	"time"
)

// DefaultWindow is how long an armed marker stays valid.
const DefaultWindow = 1500 * time.Millisecond

// Marker describes a value clipvault placed on the clipboard. Images are
// identified by canonical hash so a re-encoded read-back still matches.
type Marker struct {
	Image     bool
	Text      string
	ImageHash string
}

// TextMarker returns a marker for a text write.
func TextMarker(s string) Marker { return Marker{Text: s} }

// ImageMarker returns a marker for an image write with the given canonical hash.
func ImageMarker(hash string) Marker { return Marker{Image: true, ImageHash: hash} }

// Candidate is an observed value offered to Match. Hash is only called for
// images while a marker for an image is armed.
type Candidate struct {
	Image bool
	Text  string
	Hash  func() (string, error)
}

// Suppressor holds at most one armed marker.
type Suppressor struct {
	Window time.Duration

	mu      sync.Mutex
	now     func() time.Time
	pending *Marker
	armedAt time.Time
}

// New returns a Suppressor with the given window.
func New(window time.Duration) *Suppressor {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Suppressor{Window: window, now: time.Now}
}

func (s *Suppressor) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// Arm replaces any pending marker with m.
func (s *Suppressor) Arm(m Marker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = &m
	s.armedAt = s.clock()
}

// Disarm drops the pending marker, if any.
func (s *Suppressor) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

// Armed reports whether an unexpired marker is pending.
func (s *Suppressor) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked() != nil
}

// snapshotLocked returns the pending marker, clearing it first if expired.
func (s *Suppressor) snapshotLocked() *Marker {
	if s.pending == nil {
		return nil
	}
	if s.clock().Sub(s.armedAt) > s.Window {
		s.pending = nil
		return nil
	}
	return s.pending
}

// Match reports whether c is the read-back of the pending marker. A match
// consumes the marker; a mismatch leaves it armed. Hashing happens outside
// the lock.
func (s *Suppressor) Match(c Candidate) bool {
	s.mu.Lock()
	m := s.snapshotLocked()
	s.mu.Unlock()
	if m == nil || m.Image != c.Image {
		return false
	}

	if m.Image {
		if c.Hash == nil {
			return false
		}
		h, err := c.Hash()
		if err != nil || h != m.ImageHash {
			return false
		}
	} else if m.Text != c.Text {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A concurrent Arm may have replaced the marker while hashing.
	if s.pending == m {
		s.pending = nil
	}
	return true
}
