package cache

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
)

// Memory is an in-process backend used by tests and short-lived runs.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{entries: map[string][]byte{}}
}

func (m *Memory) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.entries[key]
	return data, ok, nil
}

func (m *Memory) Put(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.entries[key] = cp
	return nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = map[string][]byte{}
	return nil
}

// Disk stores entries as files under a directory, sharded by key prefix.
type Disk struct {
	dir string
}

// NewDisk creates a disk backend rooted at dir.
func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "cache: create dir %s", dir)
	}
	return &Disk{dir: dir}, nil
}

func (d *Disk) path(key string) string {
	return filepath.Join(d.dir, key[:2], key)
}

func (d *Disk) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(d.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "cache: read %s", key)
	}
	return data, true, nil
}

func (d *Disk) Put(key string, data []byte) error {
	p := d.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return eris.Wrap(err, "cache: create shard dir")
	}
	// Write-then-rename so readers never observe partial entries.
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "cache: write %s", key)
	}
	if err := os.Rename(tmp, p); err != nil {
		return eris.Wrapf(err, "cache: rename %s", key)
	}
	return nil
}

func (d *Disk) Clear() error {
	if err := os.RemoveAll(d.dir); err != nil {
		return eris.Wrap(err, "cache: remove dir")
	}
	return eris.Wrap(os.MkdirAll(d.dir, 0o755), "cache: recreate dir")
}
