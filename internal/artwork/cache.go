// ABOUTME: Album artwork cache and proxy for device-hosted images
// ABOUTME: Restricts fetches to registered player hosts and caches by URL hash
package artwork

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/armintoepfer/solo/internal/logger"
	"github.com/armintoepfer/solo/internal/protocol"
	"github.com/armintoepfer/solo/internal/zone"
)

const fetchTimeout = 10 * time.Second

// Cache proxies album artwork hosted on the players themselves. Browsers
// cannot always reach the players directly, so clients request artwork
// through the daemon instead. Only hosts of registered devices are
// fetched; anything else is refused, which keeps the proxy closed.
type Cache struct {
	core   *zone.Core
	dir    string
	client *http.Client

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// NewCache creates the cache backed by a directory under the system
// temp dir.
func NewCache(core *zone.Core) (*Cache, error) {
	dir := filepath.Join(os.TempDir(), "solo-artwork")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artwork cache dir: %w", err)
	}
	return &Cache{
		core:     core,
		dir:      dir,
		client:   &http.Client{Timeout: fetchTimeout},
		inflight: make(map[string]chan struct{}),
	}, nil
}

// ServeHTTP answers GET /artwork?url=… with the cached image bytes.
func (c *Cache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeError(w, fmt.Errorf("%w: artwork requires a url parameter", zone.ErrInvalidArgument))
		return
	}
	path, err := c.Fetch(r.Context(), raw)
	if err != nil {
		logger.Debugf("artwork fetch failed: %v", err)
		writeError(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

// Fetch returns the local path of the artwork at rawURL, downloading it
// on a cache miss. Concurrent requests for the same image share one
// download.
func (c *Cache) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: artwork url %q", zone.ErrInvalidArgument, rawURL)
	}
	if !c.allowed(u.Hostname()) {
		return "", fmt.Errorf("%w: artwork host %s is not a registered player", zone.ErrInvalidArgument, u.Hostname())
	}

	path := c.pathFor(rawURL)
	for {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}

		c.mu.Lock()
		if ch, busy := c.inflight[path]; busy {
			c.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return "", ctx.Err()
			}
			// The other fetch finished; recheck the cache.
			continue
		}
		ch := make(chan struct{})
		c.inflight[path] = ch
		c.mu.Unlock()

		err := c.download(ctx, rawURL, path)

		c.mu.Lock()
		delete(c.inflight, path)
		c.mu.Unlock()
		close(ch)

		if err != nil {
			return "", err
		}
		return path, nil
	}
}

// Cleanup removes the whole cache directory.
func (c *Cache) Cleanup() error {
	return os.RemoveAll(c.dir)
}

// allowed reports whether host belongs to a registered device.
func (c *Cache) allowed(host string) bool {
	for _, dev := range c.core.Devices() {
		addr := dev.Address
		if h, _, err := net.SplitHostPort(addr); err == nil {
			addr = h
		}
		if addr == host {
			return true
		}
	}
	return false
}

func (c *Cache) download(ctx context.Context, rawURL, path string) error {
	logger.Debugf("downloading artwork %s", rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: artwork url %q", zone.ErrInvalidArgument, rawURL)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: fetching artwork %s: %v", zone.ErrDeviceUnreachable, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: artwork fetch %s: http %d", zone.ErrDeviceUnreachable, rawURL, resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating artwork cache file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, io.LimitReader(resp.Body, 8<<20)); err != nil {
		os.Remove(path)
		return fmt.Errorf("%w: saving artwork %s: %v", zone.ErrDeviceUnreachable, rawURL, err)
	}
	return nil
}

// pathFor derives a stable cache filename from the URL.
func (c *Cache) pathFor(rawURL string) string {
	hash := sha256.Sum256([]byte(rawURL))
	return filepath.Join(c.dir, fmt.Sprintf("%x%s", hash[:8], extensionOf(rawURL)))
}

// extensionOf extracts the image extension from a URL, ignoring the
// query string. Sonos artwork URLs often have none; default to jpg.
func extensionOf(rawURL string) string {
	rawURL = strings.Split(rawURL, "?")[0]
	if ext := filepath.Ext(rawURL); ext != "" {
		return ext
	}
	return ".jpg"
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(protocol.StatusOf(err))
	if encodeErr := json.NewEncoder(w).Encode(protocol.NewError(err)); encodeErr != nil {
		logger.Debugf("encoding artwork error: %v", encodeErr)
	}
}
