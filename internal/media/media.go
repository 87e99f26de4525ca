// Package media is the content-addressed file store for image entries.
//
// Originals are written to <root>/originals/<sha256(encoded bytes)>.<ext> and
// thumbnails to <root>/thumbs/<sha256(encoded bytes)>.png. Writes are
// create-if-absent: identical bytes always map to the same name, so an
// existing file is never rewritten.
//
// The storage hash only deduplicates byte-identical files. CanonicalHash is
// the format-independent identity used for duplicate detection: it hashes the
// decoded pixels in a fixed NRGBA layout, so the same picture delivered as
// TIFF on one occasion and PNG on another hashes identically.
package media

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"go.klb.dev/clipvault/internal/clip"
)

const (
	// ThumbMaxSize bounds both thumbnail dimensions.
	ThumbMaxSize = 96

	originalsDir = "originals"
	thumbsDir    = "thumbs"
)

// ErrDecode is returned when image bytes cannot be decoded.
var ErrDecode = errors.New("media: failed to decode image")

// StoredImage describes an image persisted by Store.
type StoredImage struct {
	OriginalPath string
	ThumbPath    string
	MIME         string
	ByteSize     int64
	Width        int
	Height       int
}

// Store manages the originals and thumbnails directories.
type Store struct {
	originals string
	thumbs    string
}

// Open creates (if needed) the originals and thumbs directories under root.
func Open(root string) (*Store, error) {
	s := &Store{
		originals: filepath.Join(root, originalsDir),
		thumbs:    filepath.Join(root, thumbsDir),
	}
	for _, dir := range []string{s.originals, s.thumbs} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating media directory: %w", err)
		}
	}
	return s, nil
}

// Store writes img to the originals directory and generates its thumbnail.
// Both writes are skipped when a file with the same content hash exists.
// A decode failure aborts with ErrDecode.
func (s *Store) Store(img clip.Image) (StoredImage, error) {
	digest := HashBytes(img.Data)
	original := filepath.Join(s.originals, digest+"."+clip.ExtensionForFormat(img.Format))
	thumb := filepath.Join(s.thumbs, digest+".png")

	width, height := img.Width, img.Height
	if !exists(thumb) || width <= 0 || height <= 0 {
		decoded, err := decode(img.Data)
		if err != nil {
			return StoredImage{}, err
		}
		b := decoded.Bounds()
		width, height = b.Dx(), b.Dy()
		if !exists(thumb) {
			if err := writeThumbnail(thumb, decoded); err != nil {
				return StoredImage{}, err
			}
		}
	}

	if !exists(original) {
		if err := writeFile(original, img.Data); err != nil {
			return StoredImage{}, err
		}
	}

	mime := img.MIME
	if mime == "" {
		mime = clip.MIMEFromFormat(img.Format)
	}
	return StoredImage{
		OriginalPath: original,
		ThumbPath:    thumb,
		MIME:         mime,
		ByteSize:     int64(len(img.Data)),
		Width:        width,
		Height:       height,
	}, nil
}

// DeleteFiles removes an entry's original and thumbnail. Empty paths and
// missing files are ignored.
func (s *Store) DeleteFiles(original, thumb string) error {
	var errs []error
	for _, p := range []string{original, thumb} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("removing %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// CleanupOrphans deletes every file in the originals and thumbs directories
// whose path is not in referenced. It returns the number of files removed.
func (s *Store) CleanupOrphans(referenced map[string]struct{}) (int, error) {
	removed := 0
	for _, dir := range []string{s.originals, s.thumbs} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return removed, fmt.Errorf("reading %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			p := filepath.Join(dir, e.Name())
			if _, ok := referenced[p]; ok {
				continue
			}
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return removed, fmt.Errorf("removing orphan %s: %w", p, err)
			}
			slog.Debug("removed orphaned media file", "path", p)
			removed++
		}
	}
	return removed, nil
}

// CanonicalHash decodes data and returns the hex SHA-256 of its pixels in
// NRGBA layout.
func CanonicalHash(data []byte) (string, error) {
	img, err := decode(data)
	if err != nil {
		return "", err
	}
	return HashBytes(toNRGBA(img).Pix), nil
}

// CanonicalHashFile is CanonicalHash over the contents of path.
func CanonicalHashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return CanonicalHash(data)
}

// EncodePNG re-encodes any decodable image as PNG. PNG input is returned as is.
func EncodePNG(data []byte) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if format == "png" {
		return data, nil
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// HashBytes returns the hex SHA-256 of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) && n.Stride == 4*n.Rect.Dx() {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// thumbnailSize fits w x h into ThumbMaxSize x ThumbMaxSize, preserving the
// aspect ratio. Images already within bounds keep their size.
func thumbnailSize(w, h int) (int, int) {
	if w <= ThumbMaxSize && h <= ThumbMaxSize {
		return w, h
	}
	if w >= h {
		th := h * ThumbMaxSize / w
		return ThumbMaxSize, max(th, 1)
	}
	tw := w * ThumbMaxSize / h
	return max(tw, 1), ThumbMaxSize
}

func writeThumbnail(path string, img image.Image) error {
	b := img.Bounds()
	tw, th := thumbnailSize(b.Dx(), b.Dy())
	dst := image.NewNRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return fmt.Errorf("encoding thumbnail: %w", err)
	}
	return writeFile(path, buf.Bytes())
}

// writeFile creates path exclusively. Losing a create race to an identical
// writer is not an error since both wrote the same bytes.
func writeFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
