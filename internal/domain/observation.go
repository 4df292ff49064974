package domain

import (
	"math"
	"time"
)

// Source identifies the station network an observation came from.
type Source string

const (
	SourceASOS    Source = "asos"
	SourceMesonet Source = "mesonet"
)

// Unit tags a raw measurement with the unit the network reported it in.
type Unit string

const (
	Fahrenheit      Unit = "degF"
	Celsius         Unit = "degC"
	Knots           Unit = "kt"
	MilesPerHour    Unit = "mph"
	MetersPerSecond Unit = "m/s"
)

// Measurement is a source-native value and its unit. Value is NaN when the
// field was missing or unparseable.
type Measurement struct {
	Value float64
	Unit  Unit
}

// Missing returns a NaN measurement in the given unit.
func Missing(u Unit) Measurement {
	return Measurement{Value: math.NaN(), Unit: u}
}

// RawObservation is one station report as parsed from a source payload,
// before unit conversion.
type RawObservation struct {
	StationID string
	Source    Source
	Time      time.Time
	Lat       float64
	Lon       float64

	Temp     Measurement
	Dewpoint Measurement // NaN when the network only reports humidity

	// RelHumidity is the directly reported humidity in percent, or NaN when
	// it must be derived from temperature and dewpoint.
	RelHumidity float64

	WindSpeed  Measurement
	WindGust   Measurement
	WindDirDeg float64
}

// Observation is the standardized metric record shared by every source.
// Missing values are NaN.
type Observation struct {
	StationID string
	Source    Source
	Time      time.Time
	Lat       float64
	Lon       float64

	AirTempC       float64
	DewPointC      float64
	RelHumidityPct float64
	WindSpeedMS    float64
	WindGustMS     float64
	WindUMS        float64
	WindVMS        float64
}

// Station is static catalog metadata for a station whose payload does not
// carry its own identity or location. Key is the source-specific lookup key.
type Station struct {
	Key       string  `yaml:"-"`
	StationID string  `yaml:"station_id" validate:"required"`
	Lat       float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lon       float64 `yaml:"lon" validate:"gte=-180,lte=180"`
	Year      int     `yaml:"year" validate:"omitempty,gte=1900"`
}
