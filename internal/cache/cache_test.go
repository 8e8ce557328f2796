package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_Deterministic(t *testing.T) {
	k1, err := Key("households", []string{"lon", "lat"}, 42)
	require.NoError(t, err)
	k2, err := Key("households", []string{"lon", "lat"}, 42)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := Key("households", []string{"lon", "lat"}, 43)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestCache_Backends(t *testing.T) {
	disk, err := NewDisk(t.TempDir())
	require.NoError(t, err)

	backends := map[string]Backend{
		"memory": NewMemory(),
		"disk":   disk,
	}

	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			c := New(backend)

			key, err := Key("fit", [][]float64{{0, 0}, {1, 1}})
			require.NoError(t, err)

			var missing []int
			ok, err := c.Get(key, &missing)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, c.Put(key, []int{0, 1, 0}))

			var got []int
			ok, err = c.Get(key, &got)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []int{0, 1, 0}, got)
		})
	}
}

func TestCache_Clear(t *testing.T) {
	disk, err := NewDisk(t.TempDir())
	require.NoError(t, err)
	c := New(disk)

	key, err := Key("entry")
	require.NoError(t, err)
	require.NoError(t, c.Put(key, "value"))
	require.NoError(t, c.Clear())

	var out string
	ok, err := c.Get(key, &out)
	require.NoError(t, err)
	assert.False(t, ok)
}
