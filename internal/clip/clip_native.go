//go:build darwin || windows || linux

package clip

import (
	"bytes"
	"fmt"
	"image"
	_ "image/png"
	"log/slog"
	"sync"

	"golang.design/x/clipboard"
)

var (
	initOnce sync.Once
	initErr  error
)

// initClipboard calls clipboard.Init once per process. It is called from Open
// rather than init() so that CLI sub-commands (list, copy, pin) that never
// construct a Backend don't log spurious warnings on headless systems.
func initClipboard() error {
	initOnce.Do(func() {
		initErr = clipboard.Init()
		if initErr != nil {
			slog.Warn("clipboard init failed", "err", initErr)
		}
	})
	return initErr
}

// readNative reads the clipboard through golang.design/x/clipboard. Images
// are delivered PNG encoded by the library on every platform.
func readNative() (*Value, error) {
	if img := clipboard.Read(clipboard.FmtImage); len(img) > 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
		if err != nil {
			return nil, fmt.Errorf("clipboard image payload was malformed: %w", err)
		}
		v := ImageValue(Image{
			Data:   img,
			Width:  cfg.Width,
			Height: cfg.Height,
			MIME:   "image/png",
			Format: "png",
		})
		return &v, nil
	}
	if text := clipboard.Read(clipboard.FmtText); text != nil {
		v := Text(string(text))
		return &v, nil
	}
	return nil, nil
}

func writeNative(v Value) error {
	switch v.Kind {
	case KindText:
		clipboard.Write(clipboard.FmtText, []byte(v.Text))
	case KindImage:
		if v.Image == nil || len(v.Image.Data) == 0 {
			return fmt.Errorf("%w: empty image", ErrUnsupported)
		}
		if v.Image.MIME != "" && v.Image.MIME != "image/png" {
			return fmt.Errorf("%w: MIME type %s", ErrUnsupported, v.Image.MIME)
		}
		clipboard.Write(clipboard.FmtImage, v.Image.Data)
	default:
		return fmt.Errorf("%w: kind %d", ErrUnsupported, v.Kind)
	}
	return nil
}
