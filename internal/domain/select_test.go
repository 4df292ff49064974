package domain

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var target = time.Date(2025, 11, 29, 18, 0, 0, 0, time.UTC)

func report(station string, offset time.Duration) RawObservation {
	return RawObservation{StationID: station, Time: target.Add(offset), Lat: 38, Lon: -92}
}

func stationIDs(rs []RawObservation) []string {
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.StationID
	}
	return ids
}

func TestSelectReports_ClosestPerStation(t *testing.T) {
	reports := []RawObservation{
		report("COU", 20*time.Minute),
		report("STL", 5*time.Minute),
		report("COU", 2*time.Minute),
		report("STL", -1*time.Minute), // before the window
		report("MKC", 30*time.Minute), // window end is inclusive
		report("SGF", 31*time.Minute), // after the window
	}

	sel, err := SelectReports(reports, target, 30*time.Minute)
	require.NoError(t, err)
	assert.False(t, sel.Fallback)
	assert.Equal(t, []string{"COU", "STL", "MKC"}, stationIDs(sel.Reports))
	assert.Equal(t, target.Add(2*time.Minute), sel.Reports[0].Time)
	assert.Equal(t, target.Add(5*time.Minute), sel.Reports[1].Time)
	assert.Equal(t, target.Add(30*time.Minute), sel.Reports[2].Time)
}

func TestSelectReports_TieKeepsFirstSeen(t *testing.T) {
	first := report("COU", 10*time.Minute)
	first.Lat = 1
	second := report("COU", 10*time.Minute)
	second.Lat = 2

	sel, err := SelectReports([]RawObservation{first, second}, target, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, sel.Reports, 1)
	assert.Equal(t, 1.0, sel.Reports[0].Lat)
}

func TestSelectReports_ExactHourWindow(t *testing.T) {
	reports := []RawObservation{
		report("Sanborn_Boone", -time.Hour),
		report("Sanborn_Boone", 0),
		report("Sanborn_Boone", time.Hour),
		report("Albany_Gentry", 0),
	}

	sel, err := SelectReports(reports, target, 0)
	require.NoError(t, err)
	assert.False(t, sel.Fallback)
	assert.Equal(t, []string{"Sanborn_Boone", "Albany_Gentry"}, stationIDs(sel.Reports))
	for _, r := range sel.Reports {
		assert.Equal(t, target, r.Time)
	}
}

func TestSelectReports_FallbackToNearestTimestamp(t *testing.T) {
	reports := []RawObservation{
		report("COU", -3*time.Hour),
		report("STL", -40*time.Minute),
		report("MKC", -40*time.Minute),
		report("COU", -40*time.Minute),
		report("SGF", 2*time.Hour),
	}

	sel, err := SelectReports(reports, target, 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, sel.Fallback)
	assert.Equal(t, target.Add(-40*time.Minute), sel.Nearest)
	assert.Equal(t, []string{"STL", "MKC", "COU"}, stationIDs(sel.Reports))
	for _, r := range sel.Reports {
		assert.Equal(t, sel.Nearest, r.Time)
	}
}

func TestSelectReports_NoReports(t *testing.T) {
	_, err := SelectReports(nil, target, 30*time.Minute)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSelectReports_Properties(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	stations := []string{"A", "B", "C", "D", "E", "F"}
	window := 30 * time.Minute

	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.IntN(40)
		reports := make([]RawObservation, n)
		for i := range reports {
			offset := time.Duration(rng.IntN(24*60)-12*60) * time.Minute
			reports[i] = report(stations[rng.IntN(len(stations))], offset)
		}

		sel, err := SelectReports(reports, target, window)
		require.NoError(t, err)
		require.NotEmpty(t, sel.Reports)

		seen := make(map[string]bool)
		for _, r := range sel.Reports {
			assert.False(t, seen[r.StationID], "trial %d: duplicate station %s", trial, r.StationID)
			seen[r.StationID] = true

			if sel.Fallback {
				assert.Equal(t, sel.Nearest, r.Time)
			} else {
				assert.False(t, r.Time.Before(target), "trial %d: report before window", trial)
				assert.False(t, r.Time.After(target.Add(window)), "trial %d: report after window", trial)
			}
		}
	}
}
