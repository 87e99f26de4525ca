// Package ipc provides the local IPC channel CLI commands use to reach a
// running clipvault daemon: a Unix domain socket, or a named pipe on Windows.
package ipc

import (
	"net"
	"os"
)

// SocketPath returns the platform-appropriate path for the IPC socket.
//
//   - Linux:   $XDG_RUNTIME_DIR/clipvault.sock, else $TMPDIR/clipvault.sock
//   - macOS:   $TMPDIR/clipvault.sock
//   - Windows: \\.\pipe\clipvault
//
// $CLIPVAULT_SOCKET overrides the path on Unix.
func SocketPath() string {
	if s := os.Getenv("CLIPVAULT_SOCKET"); s != "" {
		return s
	}
	return socketPath()
}

// IsRunningAt reports whether a daemon appears to be listening on path. It
// does a cheap dial-and-close; no data is exchanged.
func IsRunningAt(path string) bool {
	c, err := DialAt(path)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// ListenAt creates a listener on the IPC socket at path. A stale socket left
// by a crashed daemon is removed; a live one is reported as an error.
func ListenAt(path string) (net.Listener, error) {
	return listenIPC(path)
}

// Dial connects to the daemon's IPC socket.
func Dial() (net.Conn, error) {
	return DialAt(SocketPath())
}

// DialAt is Dial on an explicit path.
func DialAt(path string) (net.Conn, error) {
	return dialIPC(path)
}
