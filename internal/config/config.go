// Package config loads and validates the typed application configuration.
// The configuration is constructed once at startup and passed explicitly to
// every component; there is no mutable global state beyond the zap logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Inputs  InputsConfig  `yaml:"inputs" mapstructure:"inputs"`
	Results ResultsConfig `yaml:"results" mapstructure:"results"`
	Args    ArgsConfig    `yaml:"args" mapstructure:"args"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	State   StateConfig   `yaml:"state" mapstructure:"state"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// PointsFile describes a tabular file carrying longitude/latitude columns.
type PointsFile struct {
	File   string   `yaml:"file" mapstructure:"file"`
	XYCols []string `yaml:"xy_cols" mapstructure:"xy_cols"`
}

// AdmPointsFile describes a tabular point file carrying administrative-path
// columns in addition to coordinates.
type AdmPointsFile struct {
	File    string   `yaml:"file" mapstructure:"file"`
	AdmCols []string `yaml:"adm_cols" mapstructure:"adm_cols"`
	XYCols  []string `yaml:"xy_cols" mapstructure:"xy_cols"`
}

// ShapesFile describes an administrative polygon file (.shp or .geojson).
type ShapesFile struct {
	File    string   `yaml:"file" mapstructure:"file"`
	AdmCols []string `yaml:"adm_cols" mapstructure:"adm_cols"`
}

// InputsConfig names the prepared input files the pipeline consumes.
type InputsConfig struct {
	Dir            string        `yaml:"dir" mapstructure:"dir"`
	Buildings      PointsFile    `yaml:"buildings" mapstructure:"buildings"`
	Shapes         ShapesFile    `yaml:"shapes" mapstructure:"shapes"`
	CountryShapes  ShapesFile    `yaml:"country_shapes" mapstructure:"country_shapes"`
	Households     AdmPointsFile `yaml:"households" mapstructure:"households"`
	VillageCenters AdmPointsFile `yaml:"village_centers" mapstructure:"village_centers"`
	Baseline       BaselineFile  `yaml:"baseline" mapstructure:"baseline"`
	LocationsFile  string        `yaml:"locations_file" mapstructure:"locations_file"`
}

// BaselineFile describes the optional user-supplied baseline facilities.
type BaselineFile struct {
	AdmPointsFile `yaml:",inline" mapstructure:",squash"`
	InfoCols      []string `yaml:"info_cols" mapstructure:"info_cols"`
}

// HasBaseline reports whether baseline facilities were configured.
func (c InputsConfig) HasBaseline() bool { return c.Baseline.File != "" }

// ClustersResult names the per-location clustered-household artifacts.
// File patterns may contain a {location} placeholder.
type ClustersResult struct {
	File        string   `yaml:"file" mapstructure:"file"`
	CentersFile string   `yaml:"centers_file" mapstructure:"centers_file"`
	CountsFile  string   `yaml:"counts_file" mapstructure:"counts_file"`
	AdmCols     []string `yaml:"adm_cols" mapstructure:"adm_cols"`
	XYCols      []string `yaml:"xy_cols" mapstructure:"xy_cols"`
	DataCols    []string `yaml:"data_cols" mapstructure:"data_cols"`
}

// ClusterCol returns the cluster id column name.
func (c ClustersResult) ClusterCol() string { return c.DataCols[0] }

// CenterXYCols returns the computed cluster centroid column names.
func (c ClustersResult) CenterXYCols() []string {
	cc := c.ClusterCol()
	return []string{cc + "_lon", cc + "_lat"}
}

// FacilitiesResult names the recommended facilities artifact.
type FacilitiesResult struct {
	File        string   `yaml:"file" mapstructure:"file"`
	AdmCols     []string `yaml:"adm_cols" mapstructure:"adm_cols"`
	XYCols      []string `yaml:"xy_cols" mapstructure:"xy_cols"`
	DataCols    []string `yaml:"data_cols" mapstructure:"data_cols"`
	NFacilities int      `yaml:"n_facilities" mapstructure:"n_facilities"`
}

// VillageCol returns the village label column name.
func (c FacilitiesResult) VillageCol() string { return c.DataCols[0] }

// ShapesResult names the cluster shapes artifact.
type ShapesResult struct {
	File string `yaml:"file" mapstructure:"file"`
}

// ResultsConfig names the result artifacts the pipeline produces.
type ResultsConfig struct {
	Dir           string           `yaml:"dir" mapstructure:"dir"`
	Shapes        ShapesResult     `yaml:"shapes" mapstructure:"shapes"`
	Clusters      ClustersResult   `yaml:"clusters" mapstructure:"clusters"`
	Facilities    FacilitiesResult `yaml:"facilities" mapstructure:"facilities"`
	LocationsFile string           `yaml:"locations_file" mapstructure:"locations_file"`
}

// ArgsConfig holds run-level knobs and the raw user-supplied inputs that the
// prepare step normalizes into InputsConfig files.
type ArgsConfig struct {
	Country              string        `yaml:"country" mapstructure:"country"`
	VillageCenters       AdmPointsFile `yaml:"village_centers" mapstructure:"village_centers"`
	Baseline             BaselineFile  `yaml:"baseline" mapstructure:"baseline"`
	ThresholdHouseholds  int           `yaml:"threshold_households" mapstructure:"threshold_households"`
	ThresholdVillagePerc int           `yaml:"threshold_village_perc" mapstructure:"threshold_village_perc"`
	ChunkSize            int           `yaml:"chunk_size" mapstructure:"chunk_size"`
	Workers              int           `yaml:"workers" mapstructure:"workers"`
}

// CacheConfig configures the content-addressed computation cache.
type CacheConfig struct {
	Dir     string `yaml:"dir" mapstructure:"dir"`
	Backend string `yaml:"backend" mapstructure:"backend"` // "disk" or "memory"
}

// StateConfig configures the run/location status store.
type StateConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FACILITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("args.threshold_households", 120)
	v.SetDefault("args.threshold_village_perc", 20)
	v.SetDefault("args.chunk_size", 1000000)
	v.SetDefault("args.workers", 4)

	v.SetDefault("cache.dir", "app-data/cache")
	v.SetDefault("cache.backend", "disk")
	v.SetDefault("state.path", "app-data/state.db")

	v.SetDefault("inputs.dir", "app-data/inputs")
	v.SetDefault("inputs.buildings.xy_cols", []string{"longitude", "latitude"})
	v.SetDefault("inputs.shapes.adm_cols", []string{"adm1", "adm2", "adm3"})
	v.SetDefault("inputs.households.file", "app-data/inputs/households.csv")
	v.SetDefault("inputs.households.adm_cols", []string{"adm1", "adm2", "adm3"})
	v.SetDefault("inputs.households.xy_cols", []string{"lon", "lat"})
	v.SetDefault("inputs.village_centers.file", "app-data/inputs/village_centers.csv")
	v.SetDefault("inputs.village_centers.adm_cols", []string{"adm1", "adm2", "adm3", "village"})
	v.SetDefault("inputs.village_centers.xy_cols", []string{"lon", "lat"})
	v.SetDefault("inputs.baseline.file", "")
	v.SetDefault("inputs.baseline.adm_cols", []string{"adm1", "adm2", "adm3"})
	v.SetDefault("inputs.baseline.xy_cols", []string{"lon", "lat"})
	v.SetDefault("inputs.locations_file", "app-data/inputs/all_locations.csv")

	v.SetDefault("results.dir", "app-data/results")
	v.SetDefault("results.shapes.file", "app-data/results/{location}/cluster_shapes.geojson")
	v.SetDefault("results.clusters.file", "app-data/results/{location}/clustered_households.csv")
	v.SetDefault("results.clusters.centers_file", "app-data/results/{location}/cluster_centers.csv")
	v.SetDefault("results.clusters.counts_file", "app-data/results/{location}/cluster_counts.csv")
	v.SetDefault("results.clusters.adm_cols", []string{"adm1", "adm2", "adm3", "village"})
	v.SetDefault("results.clusters.xy_cols", []string{"lon", "lat"})
	v.SetDefault("results.clusters.data_cols", []string{"cluster"})
	v.SetDefault("results.facilities.file", "app-data/results/{location}/facilities.csv")
	v.SetDefault("results.facilities.adm_cols", []string{"adm1", "adm2", "adm3"})
	v.SetDefault("results.facilities.xy_cols", []string{"lon", "lat"})
	v.SetDefault("results.facilities.data_cols", []string{"village"})
	v.SetDefault("results.facilities.n_facilities", 1)
	v.SetDefault("results.locations_file", "app-data/results/locations.csv")
}

// Validate checks that the fields every run depends on are present.
func (c *Config) Validate() error {
	required := map[string]string{
		"inputs.households.file":      c.Inputs.Households.File,
		"inputs.village_centers.file": c.Inputs.VillageCenters.File,
		"results.shapes.file":         c.Results.Shapes.File,
		"results.clusters.file":       c.Results.Clusters.File,
		"results.facilities.file":     c.Results.Facilities.File,
	}
	var missing []string
	for name, val := range required {
		if val == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("config: missing required fields: %s", strings.Join(missing, ", "))
	}

	for name, cols := range map[string][]string{
		"inputs.households":       c.Inputs.Households.XYCols,
		"inputs.village_centers":  c.Inputs.VillageCenters.XYCols,
		"results.clusters.xy":     c.Results.Clusters.XYCols,
		"results.facilities.xy":   c.Results.Facilities.XYCols,
		"results.clusters.data":   c.Results.Clusters.DataCols,
		"results.facilities.data": c.Results.Facilities.DataCols,
	} {
		if len(cols) == 0 {
			return eris.Errorf("config: %s columns must not be empty", name)
		}
	}
	if c.Results.Facilities.NFacilities < 1 {
		return eris.New("config: results.facilities.n_facilities must be >= 1")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
