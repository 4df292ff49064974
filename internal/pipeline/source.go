package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/station-grid-etl/internal/domain"
	"github.com/couchcryptid/station-grid-etl/internal/observability"
)

// Source fetches raw reports from one station network.
type Source interface {
	Name() domain.Source
	// Fetch returns every report the network offers around target. It may
	// return reports outside the selection window.
	Fetch(ctx context.Context, target time.Time) ([]domain.RawObservation, error)
	// Window is how far after target a report may be and still be selected.
	Window() time.Duration
}

// runSource runs fetch, select and convert for one source. Failures are
// recorded in the report, never returned, so one source cannot cancel
// another.
func runSource(ctx context.Context, src Source, target time.Time, logger *slog.Logger, metrics *observability.Metrics) (obs []domain.Observation, rep SourceReport) {
	name := src.Name()
	rep.Source = name
	log := logger.With("source", string(name))
	start := time.Now()
	defer func() {
		rep.Duration = time.Since(start)
		metrics.FetchDuration.WithLabelValues(string(name)).Observe(rep.Duration.Seconds())
	}()

	fail := func(reason string, err error) ([]domain.Observation, SourceReport) {
		rep.Err = err
		rep.enter(StateSourceFailed)
		metrics.SourceFailures.WithLabelValues(string(name), reason).Inc()
		log.Warn("source failed, continuing without it", "reason", reason, "error", err)
		return nil, rep
	}

	rep.enter(StateFetching)
	raws, err := src.Fetch(ctx, target)
	if err != nil {
		return fail("fetch", err)
	}
	rep.Fetched = len(raws)
	metrics.SourceObservations.WithLabelValues(string(name)).Add(float64(len(raws)))
	log.Info("source fetched", "reports", len(raws))

	rep.enter(StateSelecting)
	sel, err := domain.SelectReports(raws, target, src.Window())
	if err != nil {
		reason := "select"
		if errors.Is(err, domain.ErrNotFound) {
			reason = "not_found"
		}
		return fail(reason, err)
	}
	rep.Selected = len(sel.Reports)
	rep.Fallback = sel.Fallback
	rep.Nearest = sel.Nearest
	metrics.SourceSelected.WithLabelValues(string(name)).Set(float64(len(sel.Reports)))
	if sel.Fallback {
		metrics.SourceFallbacks.WithLabelValues(string(name)).Inc()
		log.Warn("no reports in window, using nearest timestamp",
			"target", target, "window", src.Window(), "nearest", sel.Nearest, "stations", len(sel.Reports))
	}

	rep.enter(StateConverting)
	obs, dropped := domain.StandardizeAll(sel.Reports)
	rep.Dropped = dropped
	rep.Observations = len(obs)
	if dropped > 0 {
		metrics.SourceDropped.WithLabelValues(string(name)).Add(float64(dropped))
		log.Warn("reports without location dropped", "dropped", dropped)
	}
	return obs, rep
}
