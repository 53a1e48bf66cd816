package runtimeprim

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"kiln/internal/project"
	"kiln/internal/target"
)

// Current schema version - increment when manifest format changes
const cacheSchemaVersion uint16 = 2

const (
	manifestName    = "manifest.mp"
	archiveName     = "libkiln_prim.a"
	guestObjectName = "kiln_guest.o"
	includeDirName  = "include"
)

// Cache stores built primitive sets on disk, one directory per descriptor
// digest. Entries are published by renaming a fully written temp directory,
// so a reader never observes a partial set.
// Thread-safe for concurrent access.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

// manifest is the msgpack record kept next to the objects.
type manifest struct {
	Schema       uint16
	Descriptor   string
	Key          project.Digest
	SourceDigest project.Digest
	Primitives   []target.Primitive
	Objects      map[string]string // primitive -> object file relative to the entry
	Guest        string
	Archive      string
	Include      string
	BuiltAt      time.Time
}

// DefaultCacheDir returns $XDG_CACHE_HOME/<app> or ~/.cache/<app>.
func DefaultCacheDir(app string) (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, app), nil
}

// OpenCache initializes a cache rooted at dir.
func OpenCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Join(dir, "prims"), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create primitive cache: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) pathFor(key project.Digest) string {
	return filepath.Join(c.dir, "prims", key.Hex())
}

// tempDir creates an isolated build directory next to the final location.
func (c *Cache) tempDir(key project.Digest) (string, error) {
	return os.MkdirTemp(filepath.Join(c.dir, "prims"), key.Hex()+".tmp-*")
}

// Get returns the cached set for key. A missing entry, an entry written by
// another schema, or one built from different sources is a miss.
func (c *Cache) Get(key, sources project.Digest) (*Set, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.load(key, sources)
}

func (c *Cache) load(key, sources project.Digest) (*Set, bool, error) {
	dir := c.pathFor(key)
	// #nosec G304 -- path is derived from the cache root and a digest
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var m manifest
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, false, nil
	}
	if m.Schema != cacheSchemaVersion || m.Key != key || m.SourceDigest != sources {
		return nil, false, nil
	}

	set := &Set{
		Key:        key,
		Descriptor: m.Descriptor,
		Primitives: m.Primitives,
		Objects:    make(map[target.Primitive]string, len(m.Objects)),
		Guest:      filepath.Join(dir, m.Guest),
		Archive:    filepath.Join(dir, m.Archive),
		IncludeDir: filepath.Join(dir, m.Include),
		Cached:     true,
	}
	for prim, name := range m.Objects {
		set.Objects[target.Primitive(prim)] = filepath.Join(dir, name)
	}
	for _, p := range append(set.ObjectPaths(), set.Guest, set.Archive, set.IncludeDir) {
		if _, err := os.Stat(p); err != nil {
			return nil, false, nil
		}
	}
	return set, true, nil
}

// commit writes the manifest into tmp and publishes it under key. When
// another builder published the same key first, its entry wins and tmp is
// discarded.
func (c *Cache) commit(tmp string, m *manifest) (*Set, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := msgpack.Marshal(m)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(tmp, manifestName), data, 0o600); err != nil {
		return nil, err
	}

	dst := c.pathFor(m.Key)
	if set, ok, _ := c.load(m.Key, m.SourceDigest); ok {
		_ = os.RemoveAll(tmp)
		return set, nil
	}
	// A stale entry (other schema or sources) is replaced.
	if err := os.RemoveAll(dst); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		if set, ok, _ := c.load(m.Key, m.SourceDigest); ok {
			_ = os.RemoveAll(tmp)
			return set, nil
		}
		return nil, fmt.Errorf("failed to publish primitive set: %w", err)
	}
	set, ok, err := c.load(m.Key, m.SourceDigest)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("primitive set %s vanished after publishing", m.Key.Short())
	}
	set.Cached = false
	return set, nil
}

// Drop removes every cached set.
func (c *Cache) Drop() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	prims := filepath.Join(c.dir, "prims")
	old := prims + ".old-" + time.Now().Format("20060102150405")
	if err := os.Rename(prims, old); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := os.RemoveAll(old); err != nil {
		return err
	}
	return os.MkdirAll(prims, 0o750)
}
