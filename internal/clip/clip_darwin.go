//go:build darwin

package clip

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

const (
	sourceLookupTimeout = time.Second
	frontmostScript     = `tell application "System Events" to get bundle identifier of first process whose frontmost is true`
)

type darwinBackend struct{}

// Open returns the macOS clipboard backend.
func Open() (Backend, error) {
	if err := initClipboard(); err != nil {
		return nil, err
	}
	return darwinBackend{}, nil
}

func (darwinBackend) Name() string { return "macOS NSPasteboard" }

func (darwinBackend) Read() (*Value, error) { return readNative() }

func (darwinBackend) Write(v Value) error { return writeNative(v) }

// ActiveSource returns the bundle identifier of the frontmost application.
func (darwinBackend) ActiveSource() string {
	ctx, cancel := context.WithTimeout(context.Background(), sourceLookupTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "osascript", "-e", frontmostScript).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func (darwinBackend) Close() {}
