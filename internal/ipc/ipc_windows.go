//go:build windows

package ipc

import (
	"net"

	"github.com/Microsoft/go-winio"
)

const pipeName = `\\.\pipe\clipvault`

func socketPath() string { return pipeName }

func listenIPC(path string) (net.Listener, error) {
	return winio.ListenPipe(path, &winio.PipeConfig{
		// Owner and SYSTEM only.
		SecurityDescriptor: "D:P(A;;GA;;;OW)(A;;GA;;;SY)",
	})
}

func dialIPC(path string) (net.Conn, error) {
	return winio.DialPipe(path, nil)
}
