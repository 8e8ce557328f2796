package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-health/facility-cli/internal/config"
)

func TestCountRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buildings.csv")
	require.NoError(t, os.WriteFile(path, []byte("longitude,latitude\n1,1\n2,2\n"), 0o644))

	n, err := countRecords(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = countRecords(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}

func TestResolveLocations_Flag(t *testing.T) {
	cfg = &config.Config{}
	processLocations = "a:b:c, d:e:f ,"
	t.Cleanup(func() { processLocations = "" })

	locations, err := resolveLocations()
	require.NoError(t, err)
	assert.Equal(t, []string{"a:b:c", "d:e:f"}, locations)
}

func TestOpenCache_MemoryBackend(t *testing.T) {
	cfg = &config.Config{}
	cfg.Cache.Backend = "memory"

	ca, err := openCache()
	require.NoError(t, err)
	require.NotNil(t, ca)
}
