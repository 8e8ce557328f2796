// Package cache implements content-addressed memoization for expensive pure
// computations (spatial joins, k-means fits, the household-derivation pass).
// Keys are deterministic hashes of the serialized inputs. Entries are never
// invalidated automatically; Clear is an explicit, separate operation.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Backend stores serialized cache entries by key.
type Backend interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, data []byte) error
	Clear() error
}

// Cache memoizes computation results through a pluggable backend.
type Cache struct {
	backend Backend
}

// New creates a Cache over the given backend.
func New(backend Backend) *Cache {
	return &Cache{backend: backend}
}

// Key derives a deterministic content hash from the given inputs. Every
// input must be JSON-serializable; two calls with equal inputs yield equal
// keys.
func Key(parts ...any) (string, error) {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, p := range parts {
		if err := enc.Encode(p); err != nil {
			return "", eris.Wrap(err, "cache: encode key part")
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Get loads the entry for key into out. Returns false when the key is absent.
func (c *Cache) Get(key string, out any) (bool, error) {
	data, ok, err := c.backend.Get(key)
	if err != nil {
		return false, eris.Wrap(err, "cache: get")
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, eris.Wrap(err, "cache: decode entry")
	}
	return true, nil
}

// Put stores val under key.
func (c *Cache) Put(key string, val any) error {
	data, err := json.Marshal(val)
	if err != nil {
		return eris.Wrap(err, "cache: encode entry")
	}
	if err := c.backend.Put(key, data); err != nil {
		return eris.Wrap(err, "cache: put")
	}
	return nil
}

// Clear removes all entries.
func (c *Cache) Clear() error {
	return eris.Wrap(c.backend.Clear(), "cache: clear")
}
