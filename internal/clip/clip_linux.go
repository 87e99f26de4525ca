//go:build linux

package clip

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

const sourceLookupTimeout = 500 * time.Millisecond

type linuxBackend struct{}

// Open returns the Linux clipboard backend, or a headless no-op backend if
// the display environment is unavailable (e.g. a headless server without X11
// or Wayland).
func Open() (Backend, error) {
	if err := initClipboard(); err != nil {
		return headlessBackend{}, nil
	}
	return linuxBackend{}, nil
}

func (linuxBackend) Name() string { return "Linux clipboard" }

func (linuxBackend) Read() (*Value, error) { return readNative() }

func (linuxBackend) Write(v Value) error { return writeNative(v) }

// ActiveSource returns the WM_CLASS of the focused window via xdotool.
// Missing xdotool (or Wayland without XWayland focus) yields "".
func (linuxBackend) ActiveSource() string {
	ctx, cancel := context.WithTimeout(context.Background(), sourceLookupTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "xdotool", "getactivewindow", "getwindowclassname").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func (linuxBackend) Close() {}
