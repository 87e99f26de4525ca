//go:build !darwin && !windows && !linux

package clip

// Open returns a no-op backend suitable for headless containers.
func Open() (Backend, error) {
	return headlessBackend{}, nil
}
