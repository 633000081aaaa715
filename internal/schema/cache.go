package schema

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"example.com/paramgate/internal/common"
)

// Bump when the cached payload layout changes.
const cacheFormatVersion uint16 = 1

// Cache stores compiled schemas on disk keyed by the SHA-256 of the source
// document. Safe for concurrent use.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

type cachePayload struct {
	Format      uint16
	Digest      string
	Definitions []Definition
}

func OpenCache(dir string) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("empty cache dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) pathFor(digest string) string {
	return filepath.Join(c.dir, digest+".mp")
}

// Put writes s under digest, replacing any previous entry atomically.
func (c *Cache) Put(digest string, s *Schema) error {
	if c == nil || s == nil {
		return nil
	}
	payload := cachePayload{Format: cacheFormatVersion, Digest: digest, Definitions: s.defs}
	data, err := msgpack.Marshal(&payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return common.WriteFileAtomic(c.pathFor(digest), data, 0o644)
}

// Get returns the cached schema for digest. A missing entry or a payload
// written by another format version is a miss, not an error.
func (c *Cache) Get(digest string) (*Schema, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.RLock()
	data, err := os.ReadFile(c.pathFor(digest))
	c.mu.RUnlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var payload cachePayload
	if err := msgpack.Unmarshal(data, &payload); err != nil {
		return nil, false, err
	}
	if payload.Format != cacheFormatVersion || payload.Digest != digest {
		return nil, false, nil
	}
	s, err := New(payload.Definitions)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// LoadFileCached loads the schema at path, consulting and filling c. A nil
// cache behaves like LoadFile. The bool reports a cache hit.
func LoadFileCached(path string, c *Cache) (*Schema, bool, error) {
	if c == nil {
		s, err := LoadFile(path)
		return s, false, err
	}
	digest, _, err := common.Sha256OfFile(path)
	if err != nil {
		return nil, false, err
	}
	if s, ok, err := c.Get(digest); err == nil && ok {
		return s, true, nil
	} else if err != nil {
		common.Logf("schema cache: ignoring unreadable entry %s: %v", digest, err)
	}
	s, err := LoadFile(path)
	if err != nil {
		return nil, false, err
	}
	if err := c.Put(digest, s); err != nil {
		common.Logf("schema cache: store %s: %v", digest, err)
	}
	return s, false, nil
}
