// Package clip provides a unified interface to the system clipboard across
// platforms. Build constraints select the appropriate implementation:
//
//	clip_darwin.go   macOS via golang.design/x/clipboard, osascript for the frontmost bundle id
//	clip_windows.go  Windows via golang.design/x/clipboard, GetForegroundWindow for the source
//	clip_linux.go    Linux via golang.design/x/clipboard, xdotool for the source, headless fallback
//	clip_other.go    headless stub
package clip

import (
	"errors"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindText Kind = iota
	KindImage
)

func (k Kind) String() string {
	if k == KindImage {
		return "image"
	}
	return "text"
}

// Image is an encoded image payload as delivered by (or written to) the
// clipboard. Data holds the encoded bytes, not decoded pixels.
type Image struct {
	Data   []byte
	Width  int
	Height int
	MIME   string
	Format string // png, jpeg, tiff, webp
}

// Value is one observed clipboard value. Exactly one of Text or Image is
// meaningful, selected by Kind.
type Value struct {
	Kind  Kind
	Text  string
	Image *Image
}

// Text returns a text Value.
func Text(s string) Value { return Value{Kind: KindText, Text: s} }

// ImageValue returns an image Value.
func ImageValue(img Image) Value { return Value{Kind: KindImage, Image: &img} }

// Size returns the payload size in bytes.
func (v Value) Size() int {
	if v.Kind == KindImage {
		if v.Image == nil {
			return 0
		}
		return len(v.Image.Data)
	}
	return len(v.Text)
}

// ErrUnsupported is returned by Write for values the backend cannot place on
// the clipboard.
var ErrUnsupported = errors.New("clip: unsupported value")

// Backend is the interface that all platform clipboard implementations satisfy.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// Read returns the current clipboard value, preferring an image over text.
	// Returns nil, nil if the clipboard is empty or holds only unsupported types.
	Read() (*Value, error)

	// Write replaces the clipboard contents with v. Images must be PNG encoded.
	Write(v Value) error

	// ActiveSource returns an identifier of the foreground application, or ""
	// when it cannot be determined.
	ActiveSource() string

	// Close releases any resources held by the backend.
	Close()
}

// ExtensionForFormat maps a declared image format to the file extension used
// for stored originals.
func ExtensionForFormat(format string) string {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return "jpg"
	case "tiff", "tif":
		return "tiff"
	case "webp":
		return "webp"
	default:
		return "png"
	}
}

// FormatFromMIME maps a MIME type back to a format name.
func FormatFromMIME(mime string) string {
	switch mime {
	case "image/jpeg":
		return "jpeg"
	case "image/tiff":
		return "tiff"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}

// MIMEFromFormat maps a format name to its MIME type.
func MIMEFromFormat(format string) string {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "tiff", "tif":
		return "image/tiff"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
