package engine

import (
	"fmt"
	"slices"
	"strings"

	"go.klb.dev/clipvault/internal/clip"
	"go.klb.dev/clipvault/internal/history"
	"go.klb.dev/clipvault/internal/media"
)

// SkipPayload reports whether v is empty or larger than maxBytes.
// Whitespace-only text counts as empty.
func SkipPayload(v clip.Value, maxBytes int64) bool {
	size := int64(v.Size())
	if v.Kind == clip.KindImage {
		return size == 0 || size > maxBytes
	}
	return strings.TrimSpace(v.Text) == "" || size > maxBytes
}

// IgnoreSource reports whether a change made while source was in the
// foreground must not be recorded. Ids compare case-insensitively. An
// unknown source ("") is never ignored.
func IgnoreSource(source, appID string, denylist []string) bool {
	if source == "" {
		return false
	}
	same := func(id string) bool { return strings.EqualFold(id, source) }
	return same(appID) || slices.ContainsFunc(denylist, same)
}

// IsDuplicate reports whether v with content hash hash repeats latest.
// Text must also match literally.
func IsDuplicate(latest *history.Entry, v clip.Value, hash string) bool {
	if latest == nil {
		return false
	}
	if v.Kind == clip.KindImage {
		return latest.IsImage() && latest.Hash == hash
	}
	return !latest.IsImage() && latest.Content == v.Text && latest.Hash == hash
}

var codeSignals = []string{
	"fn ",
	"const ",
	"let ",
	"class ",
	"import ",
	"#include",
	"public ",
	"private ",
	"=>",
}

// Classify assigns a category to text. URLs are checked before code.
func Classify(text string) history.Category {
	lower := strings.ToLower(strings.TrimSpace(text))
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return history.CategoryURL
	}
	if strings.ContainsAny(text, "{};") {
		return history.CategoryCode
	}
	for _, s := range codeSignals {
		if strings.Contains(lower, s) {
			return history.CategoryCode
		}
	}
	return history.CategoryText
}

// TextHash is the content hash of a text value.
func TextHash(text string) string {
	return media.HashBytes([]byte(text))
}

func imageSummary(format string, stored media.StoredImage) string {
	if format == "" {
		format = clip.FormatFromMIME(stored.MIME)
	}
	mb := float64(stored.ByteSize) / (1024 * 1024)
	return fmt.Sprintf("Image | %s | %dx%d | %.1f MB", strings.ToUpper(format), stored.Width, stored.Height, mb)
}
