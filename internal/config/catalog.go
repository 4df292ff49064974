package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/couchcryptid/station-grid-etl/internal/domain"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Catalog is the injected station reference data, loaded once at startup.
type Catalog struct {
	Mesonet MesonetCatalog `yaml:"mesonet"`
}

// MesonetCatalog lists the station pages to fetch and the metadata for each
// page, keyed by the bullNN identifier in the page URL.
type MesonetCatalog struct {
	URLs     []string                  `yaml:"urls" validate:"dive,url"`
	Stations map[string]domain.Station `yaml:"stations" validate:"dive"`
}

// LoadCatalog reads and validates a YAML station catalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read station catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode station catalog: %w", err)
	}
	if err := validator.New().Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid station catalog: %w", err)
	}
	for key, st := range c.Mesonet.Stations {
		st.Key = key
		c.Mesonet.Stations[key] = st
	}
	return &c, nil
}

// MesonetStation looks up Mesonet station metadata by key.
func (c *Catalog) MesonetStation(key string) (domain.Station, bool) {
	st, ok := c.Mesonet.Stations[key]
	return st, ok
}

// MesonetStations returns every Mesonet station ordered by key.
func (c *Catalog) MesonetStations() []domain.Station {
	out := make([]domain.Station, 0, len(c.Mesonet.Stations))
	for _, st := range c.Mesonet.Stations {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
