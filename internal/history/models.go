package history

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entry does not exist.
var ErrNotFound = errors.New("not found")

// Category classifies an entry's content.
type Category string

const (
	CategoryText  Category = "text"
	CategoryURL   Category = "url"
	CategoryCode  Category = "code"
	CategoryImage Category = "image"
)

// Entry is one persisted clipboard capture. The media fields are only set
// for CategoryImage entries.
type Entry struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Category  Category  `json:"category"`
	Pinned    bool      `json:"pinned"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`

	MediaPath string `json:"media_path,omitempty"`
	ThumbPath string `json:"thumb_path,omitempty"`
	MIME      string `json:"mime_type,omitempty"`
	ByteSize  int64  `json:"byte_size,omitempty"`
	Width     int    `json:"pixel_width,omitempty"`
	Height    int    `json:"pixel_height,omitempty"`
}

// IsImage reports whether e is an image entry.
func (e Entry) IsImage() bool { return e.Category == CategoryImage }

// ImageInsert carries the fields of a new image entry.
type ImageInsert struct {
	Content   string
	Hash      string
	MediaPath string
	ThumbPath string
	MIME      string
	ByteSize  int64
	Width     int
	Height    int
}

// Page is one page of a List result. NextOffset is nil on the last page.
type Page struct {
	Items      []Entry `json:"items"`
	Total      int64   `json:"total"`
	NextOffset *int64  `json:"next_offset,omitempty"`
}

// Settings are the user-tunable runtime settings persisted with the history.
type Settings struct {
	HistoryLimit               int64    `json:"history_limit" validate:"min=1"`
	TrackingPaused             bool     `json:"tracking_paused"`
	MaxClipBytes               int64    `json:"max_clip_bytes" validate:"min=1"`
	RestoreClipboardAfterPaste bool     `json:"restore_clipboard_after_paste"`
	Denylist                   []string `json:"denylist" validate:"dive,required"`
}

const (
	DefaultHistoryLimit int64 = 200
	DefaultMaxClipBytes int64 = 10 * 1024 * 1024
)

// DefaultDenylist lists password managers whose clipboard output is never
// captured, in the form each platform reports the foreground application:
// bundle ids on macOS, WM_CLASS on Linux and executable names on Windows.
func DefaultDenylist() []string {
	return []string{
		// macOS
		"com.1password.1password",
		"com.agilebits.onepassword7",
		"com.bitwarden.desktop",
		"com.lastpass.LastPass",
		// Linux
		"1Password",
		"Bitwarden",
		// Windows
		"1Password.exe",
		"Bitwarden.exe",
	}
}

// DefaultSettings returns the settings a fresh store starts with.
func DefaultSettings() Settings {
	return Settings{
		HistoryLimit:               DefaultHistoryLimit,
		MaxClipBytes:               DefaultMaxClipBytes,
		RestoreClipboardAfterPaste: true,
		Denylist:                   DefaultDenylist(),
	}
}
