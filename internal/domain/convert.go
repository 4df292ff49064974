package domain

import (
	"math"
	"strconv"
	"strings"
)

const (
	knotsToMS = 0.514444
	mphToMS   = 0.44704

	// Magnus coefficients over water (Bolton 1980), temperatures in °C.
	magnusA = 17.67
	magnusB = 243.5
)

// ParseValue parses a numeric field. Missing-value sentinels ("M", "T",
// "null", empty), infinities and anything unparseable become NaN.
func ParseValue(s string) float64 {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "m", "t", "null", "nan":
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

func FahrenheitToCelsius(f float64) float64 { return (f - 32) * 5 / 9 }

func KnotsToMS(kt float64) float64 { return kt * knotsToMS }

func MPHToMS(mph float64) float64 { return mph * mphToMS }

// ToCelsius converts a temperature measurement to °C. Unknown units yield NaN.
func ToCelsius(m Measurement) float64 {
	switch m.Unit {
	case Fahrenheit:
		return FahrenheitToCelsius(m.Value)
	case Celsius:
		return m.Value
	default:
		return math.NaN()
	}
}

// ToMetersPerSecond converts a speed measurement to m/s. Unknown units yield NaN.
func ToMetersPerSecond(m Measurement) float64 {
	switch m.Unit {
	case Knots:
		return KnotsToMS(m.Value)
	case MilesPerHour:
		return MPHToMS(m.Value)
	case MetersPerSecond:
		return m.Value
	default:
		return math.NaN()
	}
}

// saturationVaporPressure returns e_s in hPa for a temperature in °C.
func saturationVaporPressure(tC float64) float64 {
	return 6.112 * math.Exp(magnusA*tC/(tC+magnusB))
}

// RelativeHumidity derives relative humidity in percent from air
// temperature and dewpoint in °C, clamped to [0, 100].
func RelativeHumidity(tC, tdC float64) float64 {
	if math.IsNaN(tC) || math.IsNaN(tdC) {
		return math.NaN()
	}
	return clampPercent(100 * saturationVaporPressure(tdC) / saturationVaporPressure(tC))
}

// DewpointFromRH inverts the Magnus relation. Humidity at or below zero has
// no dewpoint and yields NaN.
func DewpointFromRH(tC, rh float64) float64 {
	if math.IsNaN(tC) || math.IsNaN(rh) || rh <= 0 {
		return math.NaN()
	}
	gamma := math.Log(clampPercent(rh)/100) + magnusA*tC/(magnusB+tC)
	return magnusB * gamma / (magnusA - gamma)
}

// WindComponents splits speed and meteorological direction (degrees the
// wind blows from, clockwise from north) into eastward u and northward v.
func WindComponents(speed, dirDeg float64) (u, v float64) {
	if math.IsNaN(speed) || math.IsNaN(dirDeg) {
		return math.NaN(), math.NaN()
	}
	rad := dirDeg * math.Pi / 180
	return -speed * math.Sin(rad), -speed * math.Cos(rad)
}

func clampPercent(v float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	return math.Max(0, math.Min(100, v))
}

// Standardize converts a raw report to metric units and derives humidity
// and wind components. It returns false when the report has no location.
func Standardize(raw RawObservation) (Observation, bool) {
	if math.IsNaN(raw.Lat) || math.IsNaN(raw.Lon) {
		return Observation{}, false
	}

	tC := ToCelsius(raw.Temp)
	tdC := ToCelsius(raw.Dewpoint)
	rh := clampPercent(raw.RelHumidity)

	switch {
	case !math.IsNaN(rh) && math.IsNaN(tdC):
		tdC = DewpointFromRH(tC, rh)
	case math.IsNaN(rh):
		rh = RelativeHumidity(tC, tdC)
	}

	speed := ToMetersPerSecond(raw.WindSpeed)
	u, v := WindComponents(speed, raw.WindDirDeg)

	return Observation{
		StationID:      raw.StationID,
		Source:         raw.Source,
		Time:           raw.Time.UTC(),
		Lat:            raw.Lat,
		Lon:            raw.Lon,
		AirTempC:       tC,
		DewPointC:      tdC,
		RelHumidityPct: rh,
		WindSpeedMS:    speed,
		WindGustMS:     ToMetersPerSecond(raw.WindGust),
		WindUMS:        u,
		WindVMS:        v,
	}, true
}

// StandardizeAll converts every report, dropping those without a location.
// The second return value counts dropped reports.
func StandardizeAll(raws []RawObservation) ([]Observation, int) {
	out := make([]Observation, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		obs, ok := Standardize(raw)
		if !ok {
			dropped++
			continue
		}
		out = append(out, obs)
	}
	return out, dropped
}
