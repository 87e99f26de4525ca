package clip

// headlessBackend is a no-op clipboard backend for environments without a
// display server (headless Linux servers, containers, etc.).
// It never produces values and silently discards writes.
type headlessBackend struct{}

func (headlessBackend) Name() string          { return "headless (no-op)" }
func (headlessBackend) Read() (*Value, error) { return nil, nil }
func (headlessBackend) Write(_ Value) error   { return nil }
func (headlessBackend) ActiveSource() string  { return "" }
func (headlessBackend) Close()                {}
