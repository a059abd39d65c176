package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/censusify/internal/geomatch"
)

// Config holds the full application configuration.
type Config struct {
	Census      CensusConfig      `yaml:"census" mapstructure:"census"`
	BlockGroups BlockGroupConfig  `yaml:"block_groups" mapstructure:"block_groups"`
	Geographies []GeographyConfig `yaml:"geographies" mapstructure:"geographies"`
	Match       MatchConfig       `yaml:"match" mapstructure:"match"`
	Output      OutputConfig      `yaml:"output" mapstructure:"output"`
	Fetch       FetchConfig       `yaml:"fetch" mapstructure:"fetch"`
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// CensusConfig selects the Census Data API table and area.
type CensusConfig struct {
	APIKey        string `yaml:"api_key" mapstructure:"api_key"`
	Year          int    `yaml:"year" mapstructure:"year"`
	Dataset       string `yaml:"dataset" mapstructure:"dataset"`
	StateFIPS     string `yaml:"state_fips" mapstructure:"state_fips"`
	CountyFIPS    string `yaml:"county_fips" mapstructure:"county_fips"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	CacheTTLHours int    `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	// CSVPath reads the block group table from a local CSV instead of the API.
	CSVPath string `yaml:"csv_path" mapstructure:"csv_path"`
}

// Block group polygon sources.
const (
	SourceArcGIS = "arcgis"
	SourceTIGER  = "tiger"
)

// BlockGroupConfig selects where block group polygons come from.
type BlockGroupConfig struct {
	Source   string `yaml:"source" mapstructure:"source"`
	URL      string `yaml:"url" mapstructure:"url"`
	KeyField string `yaml:"key_field" mapstructure:"key_field"`
	// Where defaults to the configured state and county.
	Where    string `yaml:"where" mapstructure:"where"`
	TigerURL string `yaml:"tiger_url" mapstructure:"tiger_url"`
	TempDir  string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// GeographyConfig is one level of target geographies served by an ArcGIS
// feature service.
type GeographyConfig struct {
	Name     string               `yaml:"name" mapstructure:"name"`
	URL      string               `yaml:"url" mapstructure:"url"`
	KeyField string               `yaml:"key_field" mapstructure:"key_field"`
	KeyWidth int                  `yaml:"key_width" mapstructure:"key_width"`
	Where    string               `yaml:"where" mapstructure:"where"`
	Parent   *geomatch.ParentRule `yaml:"parent" mapstructure:"parent"`
}

// MatchConfig configures the geo-matching step.
type MatchConfig struct {
	Relationship string `yaml:"relationship" mapstructure:"relationship"`
	Taxonomy     string `yaml:"taxonomy" mapstructure:"taxonomy"`
	TaxonomyFile string `yaml:"taxonomy_file" mapstructure:"taxonomy_file"`
	Concurrency  int    `yaml:"concurrency" mapstructure:"concurrency"`
	// SkipInvalid drops block groups whose counts fail validation instead of
	// aborting the run.
	SkipInvalid bool `yaml:"skip_invalid" mapstructure:"skip_invalid"`
}

// OutputConfig configures report files.
type OutputConfig struct {
	Dir     string   `yaml:"dir" mapstructure:"dir"`
	Formats []string `yaml:"formats" mapstructure:"formats"`
}

// FetchConfig tunes upstream HTTP requests.
type FetchConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// StoreConfig selects the run store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

const arcgisPhilly = "https://services.arcgis.com/fLeGjb7u4uXqeF9q/arcgis/rest/services"

// policeGeographies are the Philadelphia police boundaries.
var policeGeographies = []map[string]any{
	{
		"name":      "division",
		"url":       arcgisPhilly + "/Boundaries_Division/FeatureServer/0/query",
		"key_field": "DIV_NAME",
	},
	{
		"name":      "district",
		"url":       arcgisPhilly + "/Boundaries_District/FeatureServer/0/query",
		"key_field": "DIST_NUM",
		"key_width": 2,
		"parent":    map[string]any{"level": "division", "field": "DIV_CODE"},
	},
	{
		"name":      "psa",
		"url":       arcgisPhilly + "/Boundaries_PSA/FeatureServer/0/query",
		"key_field": "PSA_NUM",
		"parent":    map[string]any{"level": "district", "prefix_len": 2},
	},
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CENSUSIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("census.api_key", "CENSUSIFY_CENSUS_API_KEY", "CENSUS_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind census key")
	}

	// Defaults
	v.SetDefault("census.year", 2020)
	v.SetDefault("census.dataset", "dec/pl")
	v.SetDefault("census.state_fips", "42")
	v.SetDefault("census.county_fips", "101")
	v.SetDefault("census.base_url", "https://api.census.gov/data")
	v.SetDefault("census.cache_ttl_hours", 24*30)
	v.SetDefault("block_groups.source", SourceArcGIS)
	v.SetDefault("block_groups.url", "https://tigerweb.geo.census.gov/arcgis/rest/services/Census2020/Tracts_Blocks/MapServer/1/query")
	v.SetDefault("block_groups.key_field", "GEOID")
	v.SetDefault("block_groups.tiger_url", "https://www2.census.gov/geo/tiger")
	v.SetDefault("block_groups.temp_dir", "/tmp/censusify")
	v.SetDefault("geographies", policeGeographies)
	v.SetDefault("match.relationship", string(geomatch.AreaOverlap))
	v.SetDefault("match.taxonomy", "police")
	v.SetDefault("match.concurrency", 4)
	v.SetDefault("output.dir", "out")
	v.SetDefault("output.formats", []string{"csv", "json"})
	v.SetDefault("fetch.user_agent", "censusify/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.rate_per_sec", 5.0)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "censusify.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command needs. mode is "generate", "match",
// "download" or "serve".
func (c *Config) Validate(mode string) error {
	var missing []string
	switch mode {
	case "generate", "match":
		if c.Census.CSVPath == "" && (c.Census.StateFIPS == "" || c.Census.CountyFIPS == "") {
			missing = append(missing, "census.state_fips/census.county_fips")
		}
		if len(c.Geographies) == 0 {
			missing = append(missing, "geographies")
		}
		if _, err := geomatch.ParseRelationship(c.Match.Relationship); err != nil {
			return eris.Wrap(err, "config: match.relationship")
		}
		switch c.BlockGroups.Source {
		case SourceArcGIS:
			if c.BlockGroups.URL == "" {
				missing = append(missing, "block_groups.url")
			}
		case SourceTIGER:
		default:
			return eris.Errorf("config: block_groups.source must be %q or %q, got %q", SourceArcGIS, SourceTIGER, c.BlockGroups.Source)
		}
		if err := c.validateGeographies(); err != nil {
			return err
		}
		if c.Match.Concurrency < 0 {
			return eris.Errorf("config: match.concurrency must be >= 0, got %d", c.Match.Concurrency)
		}
	case "download":
		if c.Census.StateFIPS == "" || c.Census.CountyFIPS == "" {
			missing = append(missing, "census.state_fips/census.county_fips")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			return eris.Errorf("config: server.port must be 1-65535, got %d", c.Server.Port)
		}
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// validateGeographies requires unique names and parents declared earlier.
func (c *Config) validateGeographies() error {
	seen := make(map[string]bool, len(c.Geographies))
	for _, g := range c.Geographies {
		if g.Name == "" || g.URL == "" || g.KeyField == "" {
			return eris.Errorf("config: geography %q needs name, url and key_field", g.Name)
		}
		if seen[g.Name] {
			return eris.Errorf("config: duplicate geography %q", g.Name)
		}
		if g.Parent != nil && !seen[g.Parent.Level] {
			return eris.Errorf("config: geography %q parent %q must be listed before it", g.Name, g.Parent.Level)
		}
		seen[g.Name] = true
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
