// Package cache implements the on-disk playlist URL cache: a small
// per-channel file holding the last resolved media-playlist URL, so a
// restart can skip the master-playlist discovery round trip when the
// cached URL still resolves. This is the Go/idiomatic take on the
// original Rust client's src/hls/cache.rs.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/llhls/client/internal/config"
	"github.com/llhls/client/pkg/hlsurl"
	"github.com/llhls/client/pkg/httpengine"
)

// Staleness is the age at which a cached entry is evicted on startup
// without even being read, matching the 48-hour rule of the original
// source: a media-playlist URL signed this long ago is certain to be dead.
const Staleness = config.CacheStaleness

// Cache is bound to one channel+quality pair within dir.
type Cache struct {
	path string
	log  *slog.Logger
}

// New returns a Cache rooted at dir for channel/quality, or nil if dir or
// quality is empty or dir is not an existing directory (writability is not
// checked; a failed write is logged by Create). It also sweeps dir for stale entries
// from any channel, mirroring the original's eviction-on-open policy.
func New(dir, channel, quality string, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	if dir == "" || quality == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		log.Error("failed to open playlist cache directory", "error", err)
		return nil
	}
	if !info.IsDir() {
		log.Error("playlist cache path is not a directory", "path", dir)
		return nil
	}

	removeStale(dir, log)

	return &Cache{
		path: filepath.Join(dir, fmt.Sprintf("%s-%s", channel, quality)),
		log:  log,
	}
}

// Get reads the cached URL and re-validates it against agent. A cached
// entry that no longer resolves is removed and Get returns false.
func (c *Cache) Get(ctx context.Context, agent *httpengine.Agent) (hlsurl.URL, bool) {
	c.log.Debug("reading playlist cache", "path", c.path)

	data, err := os.ReadFile(c.path)
	if err != nil {
		return hlsurl.URL{}, false
	}

	url := hlsurl.New(strings.TrimRight(string(data), "\n\r"))
	if !httpengine.Exists(ctx, agent, url) {
		c.log.Debug("removing stale playlist cache entry", "path", c.path)
		if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
			c.log.Error("failed to remove playlist cache", "error", err)
		}
		return hlsurl.URL{}, false
	}
	return url, true
}

// Create writes url as the cached entry, overwriting any previous value.
func (c *Cache) Create(url hlsurl.URL) {
	c.log.Debug("creating playlist cache", "path", c.path)
	if err := os.WriteFile(c.path, []byte(url.String()), 0o644); err != nil {
		c.log.Error("failed to create playlist cache", "error", err)
	}
}

func removeStale(dir string, log *slog.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Error("failed to read playlist cache directory", "error", err)
		return
	}

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) >= Staleness {
			path := filepath.Join(dir, entry.Name())
			log.Debug("removing stale playlist cache", "path", path)
			if err := os.Remove(path); err != nil {
				log.Error("failed to remove stale playlist cache", "error", err)
			}
		}
	}
}
