package pipeline

import (
	"sync"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/logging"
)

// cleanup removes registered paths exactly once, in reverse registration
// order, however many times Run is called.
type cleanup struct {
	mu      sync.Mutex
	paths   []string
	removed map[string]bool
	remove  func(string) error
	logger  *logging.Logger
}

func newCleanup(remove func(string) error, logger *logging.Logger) *cleanup {
	return &cleanup{
		removed: map[string]bool{},
		remove:  remove,
		logger:  logger,
	}
}

// Track registers path for removal
func (c *cleanup) Track(path string) {
	if path == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.paths {
		if p == path {
			return
		}
	}
	c.paths = append(c.paths, path)
}

// Run removes every tracked path not removed yet
func (c *cleanup) Run() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.paths) - 1; i >= 0; i-- {
		path := c.paths[i]
		if c.removed[path] {
			continue
		}
		c.removed[path] = true
		if err := c.remove(path); err != nil {
			c.logger.WithError(err).WithField("path", path).Warn("Failed to remove temporary artifact")
		}
	}
}
