package fetcher

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/lmfraga/mpscraper/sitemap"
)

var unsafeFilenameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// pageCache stores fetched page bodies on disk so interrupted or repeated
// runs do not re-hit the target. Keys by product slug when the URL carries
// one, otherwise by URL hash.
type pageCache struct {
	dir string
}

func newPageCache(dir string) *pageCache {
	return &pageCache{dir: dir}
}

func (c *pageCache) path(page, rawurl string) string {
	name := sitemap.ProductID(rawurl)
	if name == "" {
		sum := sha1.Sum([]byte(rawurl))
		name = hex.EncodeToString(sum[:])[:16]
	}
	name = unsafeFilenameRe.ReplaceAllString(name, "_")
	if len(name) > 120 {
		name = name[:120]
	}
	return filepath.Join(c.dir, fmt.Sprintf("%s__%s.html", page, name))
}

func (c *pageCache) get(page, rawurl string) ([]byte, bool) {
	body, err := os.ReadFile(c.path(page, rawurl))
	if err != nil {
		return nil, false
	}
	return body, true
}

func (c *pageCache) put(page, rawurl string, body []byte) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.WriteFile(c.path(page, rawurl), body, 0o644); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}
