//go:build windows

package clip

import (
	"path/filepath"

	"golang.org/x/sys/windows"
)

type windowsBackend struct{}

// Open returns the Windows clipboard backend.
func Open() (Backend, error) {
	if err := initClipboard(); err != nil {
		return nil, err
	}
	return windowsBackend{}, nil
}

func (windowsBackend) Name() string { return "Windows Clipboard" }

func (windowsBackend) Read() (*Value, error) { return readNative() }

func (windowsBackend) Write(v Value) error { return writeNative(v) }

// ActiveSource returns the executable name of the process owning the
// foreground window, e.g. "1Password.exe".
func (windowsBackend) ActiveSource() string {
	hwnd := windows.GetForegroundWindow()
	if hwnd == 0 {
		return ""
	}
	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(hwnd, &pid); err != nil || pid == 0 {
		return ""
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, windows.MAX_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return ""
	}
	return filepath.Base(windows.UTF16ToString(buf[:size]))
}

func (windowsBackend) Close() {}
