package archive

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ExportCache keeps the exported bytes of recently served archives.
type ExportCache struct {
	cache *lru.Cache[string, []byte]
}

// NewExportCache creates an ExportCache holding up to size archives
func NewExportCache(size int) (*ExportCache, error) {
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create export cache: %w", err)
	}
	return &ExportCache{cache: c}, nil
}

// Export returns the cached bytes for key, or calls build, exports the
// archive and caches the result.
func (c *ExportCache) Export(key string, build func() (*Archive, error)) ([]byte, error) {
	if data, ok := c.cache.Get(key); ok {
		return data, nil
	}
	a, err := build()
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("no archive for %s", key)
	}
	data, err := a.ExportZip()
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, data)
	return data, nil
}

// Len returns the number of cached exports
func (c *ExportCache) Len() int {
	return c.cache.Len()
}

func (c *ExportCache) Purge() {
	c.cache.Purge()
}
