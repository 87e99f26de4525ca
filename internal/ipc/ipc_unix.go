//go:build !windows

package ipc

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
)

func socketPath() string {
	// Linux: prefer XDG_RUNTIME_DIR
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "clipvault.sock")
	}
	// macOS / fallback
	return filepath.Join(os.TempDir(), "clipvault.sock")
}

func listenIPC(path string) (net.Listener, error) {
	if c, err := net.Dial("unix", path); err == nil {
		_ = c.Close()
		return nil, fmt.Errorf("another clipvault daemon is listening on %s", path)
	}
	// Remove stale socket from a previous (crashed) run.
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	_ = os.Chmod(path, 0o600)
	return ln, nil
}

func dialIPC(path string) (net.Conn, error) {
	return net.Dial("unix", path)
}
