package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 1000000, cfg.Args.ChunkSize)
	assert.Equal(t, 120, cfg.Args.ThresholdHouseholds)
	assert.Equal(t, []string{"adm1", "adm2", "adm3", "village"}, cfg.Inputs.VillageCenters.AdmCols)
	assert.Equal(t, []string{"lon", "lat"}, cfg.Results.Clusters.XYCols)
	assert.Equal(t, "cluster", cfg.Results.Clusters.ClusterCol())
	assert.Equal(t, []string{"cluster_lon", "cluster_lat"}, cfg.Results.Clusters.CenterXYCols())
	assert.False(t, cfg.Inputs.HasBaseline())
}

func TestValidate_MissingRequired(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Inputs.Households.File = ""
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inputs.households.file")
}

func TestValidate_OK(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
}

func TestValidate_FacilityCount(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Results.Facilities.NFacilities = 0
	require.Error(t, cfg.Validate())
}
