package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/station-grid-etl/internal/dataset"
	"github.com/couchcryptid/station-grid-etl/internal/domain"
	"github.com/couchcryptid/station-grid-etl/internal/grid"
	"github.com/couchcryptid/station-grid-etl/internal/observability"
	"golang.org/x/sync/errgroup"
)

// Pipeline turns station reports from several networks into one gridded
// dataset for a target instant.
type Pipeline struct {
	sources   []Source
	grid      *grid.Grid
	variables []domain.Variable
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates a Pipeline over the given sources and output grid. Every
// variable in domain.Variables is gridded.
func New(sources []Source, g *grid.Grid, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		sources:   sources,
		grid:      g,
		variables: domain.Variables,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run executes one fetch-to-package run. Source failures are reported and
// tolerated; the run fails only when no observation survives the merge, in
// which case the error wraps domain.ErrEmptyDataset. The report is always
// returned.
func (p *Pipeline) Run(ctx context.Context, runID string, target time.Time) (*dataset.Dataset, *Report, error) {
	start := time.Now()
	target = target.UTC()
	rep := &Report{RunID: runID, Target: target}
	rep.enter(StateIdle)

	log := p.logger.With("run_id", runID, "target", target.Format(time.RFC3339))
	log.Info("run started", "sources", len(p.sources))
	defer func() {
		rep.Duration = time.Since(start)
		p.metrics.RunDuration.Observe(rep.Duration.Seconds())
	}()

	fail := func(err error) (*dataset.Dataset, *Report, error) {
		rep.enter(StateFailed)
		p.metrics.RunSuccess.Set(0)
		p.metrics.RunsFailed.Inc()
		log.Error("run failed", "error", err)
		return nil, rep, err
	}

	rep.enter(StateFetching)
	sets, reports := p.fetchAll(ctx, target, log)
	rep.Sources = reports
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if reached(reports, StateSelecting) {
		rep.enter(StateSelecting)
	}
	if reached(reports, StateConverting) {
		rep.enter(StateConverting)
	}

	rep.enter(StateMerging)
	merged, err := domain.Merge(sets...)
	if err != nil {
		return fail(fmt.Errorf("merge: %w", err))
	}
	rep.Merged = len(merged)
	p.metrics.MergedObservations.Set(float64(len(merged)))
	log.Info("sources merged", "observations", len(merged), "contributing", rep.ContributingSources())

	rep.enter(StateInterpolating)
	fields, err := p.interpolate(ctx, merged, rep, log)
	if err != nil {
		return fail(err)
	}

	ds, err := dataset.Package(p.grid, merged[0].Time, fields, p.variables, map[string]string{
		"run_id":      runID,
		"target_time": target.Format(time.RFC3339),
		"sources":     strings.Join(rep.ContributingSources(), ","),
	})
	if err != nil {
		return fail(fmt.Errorf("package: %w", err))
	}
	rep.enter(StatePackaged)

	p.metrics.RunSuccess.Set(1)
	p.metrics.RunsCompleted.Inc()
	ny, nx := ds.Shape()
	log.Info("dataset packaged", "ny", ny, "nx", nx, "variables", len(ds.Vars), "duration", time.Since(start))
	return ds, rep, nil
}

// fetchAll runs every source chain concurrently and joins them. Results
// keep source order.
func (p *Pipeline) fetchAll(ctx context.Context, target time.Time, log *slog.Logger) ([][]domain.Observation, []SourceReport) {
	sets := make([][]domain.Observation, len(p.sources))
	reports := make([]SourceReport, len(p.sources))

	var g errgroup.Group
	for i, src := range p.sources {
		g.Go(func() error {
			sets[i], reports[i] = runSource(ctx, src, target, log, p.metrics)
			return nil
		})
	}
	_ = g.Wait()
	return sets, reports
}

// interpolate grids each variable independently. A variable with too few
// points or no covering triangle is left all-NaN.
func (p *Pipeline) interpolate(ctx context.Context, merged []domain.Observation, rep *Report, log *slog.Logger) (map[string][][]float64, error) {
	ny, nx := p.grid.Shape()
	p.metrics.GridNodes.Set(float64(ny * nx))

	fields := make(map[string][][]float64, len(p.variables))
	points := make([]grid.Point, len(merged))

	for _, v := range p.variables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i, o := range merged {
			points[i] = grid.Point{Lon: o.Lon, Lat: o.Lat, Value: v.Value(o)}
		}

		start := time.Now()
		field, err := grid.Interpolate(p.grid, points)
		vr := VariableReport{Name: v.Name, Points: grid.CountValid(points), Err: err}
		fields[v.Name] = field

		switch {
		case errors.Is(err, grid.ErrInsufficientPoints):
			p.metrics.VariablesSkipped.WithLabelValues(v.Name, "insufficient").Inc()
			log.Warn("too few points to grid variable, leaving it empty",
				"variable", v.Name, "points", vr.Points, "min_points", grid.MinPoints)
		case errors.Is(err, grid.ErrDegenerate):
			p.metrics.VariablesSkipped.WithLabelValues(v.Name, "degenerate").Inc()
			log.Warn("points do not cover the grid, leaving variable empty",
				"variable", v.Name, "points", vr.Points)
		case err != nil:
			return nil, fmt.Errorf("interpolate %s: %w", v.Name, err)
		default:
			vr.Coverage = dataset.DataVar{Values: field}.Coverage()
			log.Debug("variable gridded", "variable", v.Name, "points", vr.Points,
				"coverage", vr.Coverage, "duration", time.Since(start))
		}
		p.metrics.GridCoverage.WithLabelValues(v.Name).Set(vr.Coverage)
		rep.Variables = append(rep.Variables, vr)
	}
	return fields, nil
}

func reached(reports []SourceReport, s State) bool {
	for _, r := range reports {
		for _, st := range r.States {
			if st == s {
				return true
			}
		}
	}
	return false
}
