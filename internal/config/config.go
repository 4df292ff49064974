package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/station-grid-etl/internal/grid"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Defaults reproduce the Missouri 3 km analysis.
const (
	DefaultBounds      = "-95.5,-89.0,36.0,40.7"
	DefaultASOSBaseURL = "https://mesonet.agron.iastate.edu/cgi-bin/request/asos.py"
)

// Output formats accepted in OUTPUT_FORMATS.
const (
	FormatZarr   = "zarr"
	FormatNetCDF = "netcdf"
)

// Config holds all run settings, populated from environment variables.
type Config struct {
	LogLevel        string `validate:"oneof=debug info warn error"`
	LogFormat       string `validate:"oneof=json text"`
	ShutdownTimeout time.Duration

	StationCatalog string `validate:"required"`

	GridBounds       grid.Bounds
	GridResolutionKm float64 `validate:"gt=0"`
	KmPerDegree      float64 `validate:"gt=0"`

	ASOSEnabled bool
	ASOSBaseURL string        `validate:"omitempty,url"`
	ASOSNetwork string
	ASOSWindow  time.Duration `validate:"gte=0s"`
	ASOSTimeout time.Duration `validate:"gt=0s"`

	MesonetEnabled     bool
	MesonetTimeout     time.Duration `validate:"gt=0s"`
	MesonetWindow      time.Duration `validate:"gte=0s"`
	MesonetUTCOffset   time.Duration
	MesonetFooterLines int `validate:"gte=0"`
	MesonetCacheSize   int `validate:"gt=0"`

	OutputDir     string   `validate:"required"`
	OutputFormats []string `validate:"dive,oneof=zarr netcdf"`

	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	PushgatewayURL string `validate:"omitempty,url"`
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is loaded first if
// present; variables already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	bounds, err := grid.ParseBounds(sharedcfg.EnvOrDefault("GRID_BOUNDS", DefaultBounds))
	if err != nil {
		return nil, fmt.Errorf("invalid GRID_BOUNDS: %w", err)
	}

	resolution, err := parseFloat("GRID_RESOLUTION_KM", 3)
	if err != nil {
		return nil, err
	}
	kmPerDegree, err := parseFloat("KM_PER_DEGREE", grid.DefaultKmPerDegree)
	if err != nil {
		return nil, err
	}

	asosWindow, err := parseDuration("ASOS_WINDOW", "30m")
	if err != nil {
		return nil, err
	}
	asosTimeout, err := parseDuration("ASOS_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	mesonetWindow, err := parseDuration("MESONET_WINDOW", "0s")
	if err != nil {
		return nil, err
	}
	mesonetTimeout, err := parseDuration("MESONET_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}
	// Mesonet pages are in local standard time year-round.
	mesonetOffset, err := parseDuration("MESONET_UTC_OFFSET", "-6h")
	if err != nil {
		return nil, err
	}

	asosEnabled, err := parseBool("ASOS_ENABLED", true)
	if err != nil {
		return nil, err
	}
	mesonetEnabled, err := parseBool("MESONET_ENABLED", true)
	if err != nil {
		return nil, err
	}
	kafkaEnabled, err := parseBool("KAFKA_ENABLED", false)
	if err != nil {
		return nil, err
	}

	footerLines, err := parseInt("MESONET_FOOTER_LINES", 3)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LogLevel:        strings.ToLower(sharedcfg.EnvOrDefault("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(sharedcfg.EnvOrDefault("LOG_FORMAT", "json")),
		ShutdownTimeout: shutdownTimeout,

		StationCatalog: sharedcfg.EnvOrDefault("STATION_CATALOG", "configs/stations.yaml"),

		GridBounds:       bounds,
		GridResolutionKm: resolution,
		KmPerDegree:      kmPerDegree,

		ASOSEnabled: asosEnabled,
		ASOSBaseURL: sharedcfg.EnvOrDefault("ASOS_BASE_URL", DefaultASOSBaseURL),
		ASOSNetwork: sharedcfg.EnvOrDefault("ASOS_NETWORK", "MO_ASOS"),
		ASOSWindow:  asosWindow,
		ASOSTimeout: asosTimeout,

		MesonetEnabled:     mesonetEnabled,
		MesonetWindow:      mesonetWindow,
		MesonetTimeout:     mesonetTimeout,
		MesonetUTCOffset:   mesonetOffset,
		MesonetFooterLines: footerLines,
		MesonetCacheSize:   parseCacheSize(),

		OutputDir:     sharedcfg.EnvOrDefault("OUTPUT_DIR", "out"),
		OutputFormats: ParseFormats(sharedcfg.EnvOrDefault("OUTPUT_FORMATS", FormatZarr)),

		KafkaEnabled: kafkaEnabled,
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "gridded-observations"),

		PushgatewayURL: os.Getenv("PUSHGATEWAY_URL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if !c.ASOSEnabled && !c.MesonetEnabled {
		return errors.New("at least one of ASOS_ENABLED or MESONET_ENABLED must be true")
	}
	if c.ASOSEnabled && c.ASOSBaseURL == "" {
		return errors.New("ASOS_BASE_URL is required")
	}
	if c.ASOSEnabled && c.ASOSNetwork == "" {
		return errors.New("ASOS_NETWORK is required")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}
	if c.KafkaEnabled && c.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required when KAFKA_ENABLED is true")
	}
	return nil
}

// ParseFormats splits a comma-separated list, dropping blanks.
func ParseFormats(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// HasFormat reports whether the export format is enabled.
func (c *Config) HasFormat(format string) bool {
	for _, f := range c.OutputFormats {
		if f == format {
			return true
		}
	}
	return false
}

func parseBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s", key)
	}
	return b, nil
}

func parseFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return f, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseCacheSize() int {
	if s := os.Getenv("MESONET_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 64
}
