package marketdata

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/quantlab/ashare-backtest/internal/domain"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// FrameCache persists enriched frames as msgpack blobs keyed by symbol and
// date range, so repeated runs over the same window skip sqlite reads and
// indicator recomputation. A zero-value cache (empty dir) is disabled.
type FrameCache struct {
	dir string
	log zerolog.Logger
}

// NewFrameCache creates a cache rooted at dir. Empty dir disables caching.
func NewFrameCache(dir string, log zerolog.Logger) *FrameCache {
	return &FrameCache{
		dir: dir,
		log: log.With().Str("component", "frame_cache").Logger(),
	}
}

// Enabled reports whether the cache has a backing directory.
func (c *FrameCache) Enabled() bool {
	return c != nil && c.dir != ""
}

func (c *FrameCache) path(symbol, start, end string) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s_%s_%s.msgpack", symbol, start, end))
}

// Get returns the cached frame for the key, or nil on any miss. Corrupt
// entries are removed and treated as misses.
func (c *FrameCache) Get(symbol, start, end string) *domain.DailyFrame {
	if !c.Enabled() {
		return nil
	}

	path := c.path(symbol, start, end)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var frame domain.DailyFrame
	if err := msgpack.Unmarshal(data, &frame); err != nil {
		c.log.Warn().Str("path", path).Err(err).Msg("Removing corrupt cache entry")
		_ = os.Remove(path)
		return nil
	}
	return &frame
}

// Put stores a frame under the key. Cache failures are logged, never fatal.
func (c *FrameCache) Put(symbol, start, end string, frame *domain.DailyFrame) {
	if !c.Enabled() || frame == nil {
		return
	}

	data, err := msgpack.Marshal(frame)
	if err != nil {
		c.log.Warn().Str("symbol", symbol).Err(err).Msg("Failed to encode frame for cache")
		return
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		c.log.Warn().Str("dir", c.dir).Err(err).Msg("Failed to create cache directory")
		return
	}
	if err := os.WriteFile(c.path(symbol, start, end), data, 0644); err != nil {
		c.log.Warn().Str("symbol", symbol).Err(err).Msg("Failed to write cache entry")
	}
}

// Clear removes every cached entry.
func (c *FrameCache) Clear() error {
	if !c.Enabled() {
		return nil
	}
	entries, err := filepath.Glob(filepath.Join(c.dir, "*.msgpack"))
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.Remove(entry); err != nil {
			return fmt.Errorf("failed to remove cache entry %s: %w", entry, err)
		}
	}
	return nil
}
