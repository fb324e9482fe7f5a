package resource

import (
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/singleflight"
)

// CachedLoader reads file resources once and serves them from memory
// afterwards. Concurrent first loads of the same path share one read.
type CachedLoader struct {
	group singleflight.Group

	mu     sync.RWMutex
	cached map[string]*ByteResource
}

func NewCachedLoader() *CachedLoader {
	return &CachedLoader{cached: make(map[string]*ByteResource)}
}

// Get returns the cached resource for path, loading it on first use.
func (c *CachedLoader) Get(path string) (*ByteResource, error) {
	c.mu.RLock()
	res, ok := c.cached[path]
	c.mu.RUnlock()
	if ok {
		return res, nil
	}

	v, err, _ := c.group.Do(path, func() (any, error) {
		c.mu.RLock()
		existing, ok := c.cached[path]
		c.mu.RUnlock()
		if ok {
			return existing, nil
		}

		loaded, err := load(path)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cached[path] = loaded
		c.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ByteResource), nil
}

// Len reports how many paths are cached.
func (c *CachedLoader) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cached)
}

func load(path string) (*ByteResource, error) {
	file, err := File(path, "")
	if err != nil {
		return nil, err
	}
	r, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read resource %s: %w", path, err)
	}
	return Bytes(file.Name(), data, file.ContentType()), nil
}
