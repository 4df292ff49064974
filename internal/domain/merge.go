package domain

import (
	"errors"
	"math"
)

// ErrEmptyDataset is returned when no observation survives the merge.
// It is fatal for a run.
var ErrEmptyDataset = errors.New("no usable observations after merge")

// Merge concatenates standardized observations from every source in order.
// Stations reported by more than one network are kept once per network.
// Rows without latitude, longitude or air temperature are dropped.
func Merge(sets ...[]Observation) ([]Observation, error) {
	n := 0
	for _, s := range sets {
		n += len(s)
	}

	merged := make([]Observation, 0, n)
	for _, s := range sets {
		for _, o := range s {
			if math.IsNaN(o.Lat) || math.IsNaN(o.Lon) || math.IsNaN(o.AirTempC) {
				continue
			}
			merged = append(merged, o)
		}
	}

	if len(merged) == 0 {
		return nil, ErrEmptyDataset
	}
	return merged, nil
}
