//go:build !windows

package ipc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketPath_Override(t *testing.T) {
	t.Setenv("CLIPVAULT_SOCKET", "/tmp/custom.sock")
	assert.Equal(t, "/tmp/custom.sock", SocketPath())
}

func TestSocketPath_XDG(t *testing.T) {
	t.Setenv("CLIPVAULT_SOCKET", "")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	assert.Equal(t, "/run/user/1000/clipvault.sock", SocketPath())
}

func TestListen_ReplacesStaleSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "cv")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "s.sock")

	assert.False(t, IsRunningAt(path))
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	ln, err := ListenAt(path)
	require.NoError(t, err)
	defer ln.Close()

	assert.True(t, IsRunningAt(path))

	_, err = ListenAt(path)
	assert.Error(t, err, "second daemon must not steal the socket")
}
