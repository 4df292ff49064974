package pipeline

import (
	"time"

	"github.com/couchcryptid/station-grid-etl/internal/domain"
)

// State is a step of a run or of one source's fetch-select-convert chain.
type State string

const (
	StateIdle          State = "idle"
	StateFetching      State = "fetching"
	StateSelecting     State = "selecting"
	StateConverting    State = "converting"
	StateMerging       State = "merging"
	StateInterpolating State = "interpolating"
	StatePackaged      State = "packaged"
	StateFailed        State = "failed"
	StateSourceFailed  State = "source_failed"
)

// SourceReport is the outcome of one source's chain.
type SourceReport struct {
	Source domain.Source
	// States is the chain's trail: fetching, selecting, converting, or a
	// prefix of it ending in source_failed.
	States   []State
	Fetched  int
	Selected int
	Dropped  int
	// Observations is the number of standardized rows handed to the merge.
	Observations int
	Fallback     bool
	Nearest      time.Time
	Err          error
	Duration     time.Duration
}

// Failed reports whether the source contributed nothing.
func (r SourceReport) Failed() bool {
	return r.Err != nil
}

func (r *SourceReport) enter(s State) {
	r.States = append(r.States, s)
}

// VariableReport is the outcome of gridding one variable.
type VariableReport struct {
	Name     string
	Points   int
	Coverage float64
	// Err is grid.ErrInsufficientPoints or grid.ErrDegenerate when the
	// variable was left all-NaN.
	Err error
}

// Report summarizes a run.
type Report struct {
	RunID  string
	Target time.Time
	// States is the run-level trail. Selecting and converting appear once
	// the source chains have joined and at least one source reached them.
	States    []State
	Sources   []SourceReport
	Merged    int
	Variables []VariableReport
	Duration  time.Duration
}

// Final is the last state the run reached.
func (r *Report) Final() State {
	if len(r.States) == 0 {
		return StateIdle
	}
	return r.States[len(r.States)-1]
}

// Source looks up a source's report by name.
func (r *Report) Source(name domain.Source) (SourceReport, bool) {
	for _, s := range r.Sources {
		if s.Source == name {
			return s, true
		}
	}
	return SourceReport{}, false
}

// ContributingSources lists sources that handed rows to the merge, in order.
func (r *Report) ContributingSources() []string {
	var out []string
	for _, s := range r.Sources {
		if !s.Failed() && s.Observations > 0 {
			out = append(out, string(s.Source))
		}
	}
	return out
}

func (r *Report) enter(s State) {
	r.States = append(r.States, s)
}
