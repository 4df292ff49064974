package domain

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a source produced no reports at all.
var ErrNotFound = errors.New("no observations found")

// Selection is the outcome of best-report selection for one source.
type Selection struct {
	Reports []RawObservation
	// Fallback is true when the acceptance window was empty and Reports
	// come from the globally nearest timestamp instead.
	Fallback bool
	// Nearest is the fallback timestamp; zero when Fallback is false.
	Nearest time.Time
}

// SelectReports keeps at most one report per station: the one closest to
// target within [target, target+window]. Ties keep the report seen first.
// When no report falls inside the window, the reports sharing the single
// timestamp nearest to target are used instead, again one per station.
func SelectReports(reports []RawObservation, target time.Time, window time.Duration) (Selection, error) {
	if len(reports) == 0 {
		return Selection{}, ErrNotFound
	}

	end := target.Add(window)
	picker := newStationPicker(target)
	for _, r := range reports {
		if r.Time.Before(target) || r.Time.After(end) {
			continue
		}
		picker.offer(r)
	}
	if len(picker.out) > 0 {
		return Selection{Reports: picker.out}, nil
	}

	nearest := reports[0].Time
	best := absDuration(nearest.Sub(target))
	for _, r := range reports[1:] {
		if d := absDuration(r.Time.Sub(target)); d < best {
			nearest, best = r.Time, d
		}
	}

	for _, r := range reports {
		if r.Time.Equal(nearest) {
			picker.offer(r)
		}
	}
	return Selection{Reports: picker.out, Fallback: true, Nearest: nearest}, nil
}

// stationPicker accumulates the closest report per station in first-seen
// station order.
type stationPicker struct {
	target time.Time
	index  map[string]int
	out    []RawObservation
}

func newStationPicker(target time.Time) *stationPicker {
	return &stationPicker{target: target, index: make(map[string]int)}
}

func (p *stationPicker) offer(r RawObservation) {
	i, ok := p.index[r.StationID]
	if !ok {
		p.index[r.StationID] = len(p.out)
		p.out = append(p.out, r)
		return
	}
	if absDuration(r.Time.Sub(p.target)) < absDuration(p.out[i].Time.Sub(p.target)) {
		p.out[i] = r
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
