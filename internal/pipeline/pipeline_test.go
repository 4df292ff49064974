package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/couchcryptid/station-grid-etl/internal/domain"
	"github.com/couchcryptid/station-grid-etl/internal/grid"
	"github.com/couchcryptid/station-grid-etl/internal/observability"
	"github.com/couchcryptid/station-grid-etl/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockSource struct {
	name   domain.Source
	window time.Duration
	raws   []domain.RawObservation
	err    error
	block  bool
}

func (m *mockSource) Name() domain.Source { return m.name }
func (m *mockSource) Window() time.Duration { return m.window }

func (m *mockSource) Fetch(ctx context.Context, _ time.Time) ([]domain.RawObservation, error) {
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.raws, m.err
}

var target = time.Date(2025, 7, 4, 18, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testGrid(t *testing.T) *grid.Grid {
	t.Helper()
	g, err := grid.New(grid.Bounds{MinLon: -93, MaxLon: -91, MinLat: 38, MaxLat: 39}, 25, grid.DefaultKmPerDegree)
	require.NoError(t, err)
	return g
}

func raw(src domain.Source, id string, lon, lat, tempF float64, at time.Time) domain.RawObservation {
	return domain.RawObservation{
		StationID:   id,
		Source:      src,
		Time:        at,
		Lat:         lat,
		Lon:         lon,
		Temp:        domain.Measurement{Value: tempF, Unit: domain.Fahrenheit},
		Dewpoint:    domain.Measurement{Value: tempF - 10, Unit: domain.Fahrenheit},
		RelHumidity: math.NaN(),
		WindSpeed:   domain.Measurement{Value: 10, Unit: domain.Knots},
		WindGust:    domain.Missing(domain.Knots),
		WindDirDeg:  180,
	}
}

// fiveStations surrounds the test grid with four corner stations and one
// in the middle.
func fiveStations(src domain.Source, at time.Time) []domain.RawObservation {
	return []domain.RawObservation{
		raw(src, "SW", -93.5, 37.5, 70, at),
		raw(src, "SE", -90.5, 37.5, 72, at),
		raw(src, "NE", -90.5, 39.5, 74, at),
		raw(src, "NW", -93.5, 39.5, 72, at),
		raw(src, "MID", -92, 38.5, 72, at),
	}
}

// --- tests ---

func TestPipeline_Run_OneSourceFails(t *testing.T) {
	asos := &mockSource{name: domain.SourceASOS, window: 30 * time.Minute, err: errors.New("connection refused")}
	mesonet := &mockSource{name: domain.SourceMesonet, raws: fiveStations(domain.SourceMesonet, target)}
	metrics := observability.NewMetricsForTesting()

	p := pipeline.New([]pipeline.Source{asos, mesonet}, testGrid(t), testLogger(), metrics)
	ds, rep, err := p.Run(context.Background(), "run-1", target)
	require.NoError(t, err)
	require.NotNil(t, ds)

	assert.Equal(t, 5, rep.Merged)
	assert.Equal(t, []string{"mesonet"}, rep.ContributingSources())

	wantStates := []pipeline.State{
		pipeline.StateIdle, pipeline.StateFetching, pipeline.StateSelecting,
		pipeline.StateConverting, pipeline.StateMerging, pipeline.StateInterpolating, pipeline.StatePackaged,
	}
	if diff := cmp.Diff(wantStates, rep.States); diff != "" {
		t.Errorf("run states mismatch (-want +got):\n%s", diff)
	}

	asosRep, ok := rep.Source(domain.SourceASOS)
	require.True(t, ok)
	assert.True(t, asosRep.Failed())
	assert.Equal(t, []pipeline.State{pipeline.StateFetching, pipeline.StateSourceFailed}, asosRep.States)

	mesoRep, ok := rep.Source(domain.SourceMesonet)
	require.True(t, ok)
	assert.False(t, mesoRep.Failed())
	assert.Equal(t, 5, mesoRep.Fetched)
	assert.Equal(t, 5, mesoRep.Selected)
	assert.Equal(t, 5, mesoRep.Observations)

	assert.Equal(t, target, ds.Time)
	assert.Equal(t, "mesonet", ds.Attrs["sources"])
	assert.Equal(t, "run-1", ds.Attrs["run_id"])
	assert.Equal(t, []string{"T_2m", "Td_2m", "RH", "WS", "WG", "U_wind", "V_wind"}, ds.VarNames())

	temp, ok := ds.Var("T_2m")
	require.True(t, ok)
	assert.InDelta(t, 1.0, temp.Coverage(), 1e-9, "stations surround the whole grid")
	for _, row := range temp.Values {
		for _, v := range row {
			assert.GreaterOrEqual(t, v, domain.FahrenheitToCelsius(70)-1e-9)
			assert.LessOrEqual(t, v, domain.FahrenheitToCelsius(74)+1e-9)
		}
	}

	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.SourceFailures.WithLabelValues("asos", "fetch")), 1e-9)
	assert.InDelta(t, 5.0, testutil.ToFloat64(metrics.MergedObservations), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.RunSuccess), 1e-9)
}

func TestPipeline_Run_VariableWithTooFewPoints(t *testing.T) {
	raws := fiveStations(domain.SourceASOS, target)
	raws[0].WindGust = domain.Measurement{Value: 25, Unit: domain.Knots}
	raws[1].WindGust = domain.Measurement{Value: 30, Unit: domain.Knots}
	src := &mockSource{name: domain.SourceASOS, window: 30 * time.Minute, raws: raws}
	metrics := observability.NewMetricsForTesting()

	p := pipeline.New([]pipeline.Source{src}, testGrid(t), testLogger(), metrics)
	ds, rep, err := p.Run(context.Background(), "run-2", target)
	require.NoError(t, err)

	gust, ok := ds.Var("WG")
	require.True(t, ok)
	assert.Zero(t, gust.Coverage(), "two gust reports cannot be gridded")

	speed, ok := ds.Var("WS")
	require.True(t, ok)
	assert.InDelta(t, 1.0, speed.Coverage(), 1e-9, "other variables are unaffected")

	var gustRep pipeline.VariableReport
	for _, v := range rep.Variables {
		if v.Name == "WG" {
			gustRep = v
		}
	}
	assert.Equal(t, 2, gustRep.Points)
	assert.ErrorIs(t, gustRep.Err, grid.ErrInsufficientPoints)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.VariablesSkipped.WithLabelValues("WG", "insufficient")), 1e-9)
}

func TestPipeline_Run_EmptyMergeIsFatal(t *testing.T) {
	asos := &mockSource{name: domain.SourceASOS, window: 30 * time.Minute, err: errors.New("timeout")}
	mesonet := &mockSource{name: domain.SourceMesonet}
	metrics := observability.NewMetricsForTesting()

	p := pipeline.New([]pipeline.Source{asos, mesonet}, testGrid(t), testLogger(), metrics)
	ds, rep, err := p.Run(context.Background(), "run-3", target)
	require.Error(t, err)
	assert.Nil(t, ds)
	assert.ErrorIs(t, err, domain.ErrEmptyDataset)
	assert.Equal(t, pipeline.StateFailed, rep.Final())

	mesoRep, _ := rep.Source(domain.SourceMesonet)
	assert.ErrorIs(t, mesoRep.Err, domain.ErrNotFound)
	assert.Equal(t, []pipeline.State{pipeline.StateFetching, pipeline.StateSelecting, pipeline.StateSourceFailed}, mesoRep.States)

	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.SourceFailures.WithLabelValues("mesonet", "not_found")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.RunsFailed), 1e-9)
}

func TestPipeline_Run_RowsWithoutTemperatureAreDropped(t *testing.T) {
	raws := fiveStations(domain.SourceASOS, target)
	for i := range raws {
		raws[i].Temp = domain.Missing(domain.Fahrenheit)
	}
	src := &mockSource{name: domain.SourceASOS, window: 30 * time.Minute, raws: raws}

	p := pipeline.New([]pipeline.Source{src}, testGrid(t), testLogger(), observability.NewMetricsForTesting())
	_, _, err := p.Run(context.Background(), "run-4", target)
	assert.ErrorIs(t, err, domain.ErrEmptyDataset)
}

func TestPipeline_Run_FallbackToNearestTimestamp(t *testing.T) {
	late := target.Add(2 * time.Hour)
	src := &mockSource{name: domain.SourceASOS, window: 30 * time.Minute, raws: fiveStations(domain.SourceASOS, late)}
	metrics := observability.NewMetricsForTesting()

	p := pipeline.New([]pipeline.Source{src}, testGrid(t), testLogger(), metrics)
	ds, rep, err := p.Run(context.Background(), "run-5", target)
	require.NoError(t, err)

	srcRep, _ := rep.Source(domain.SourceASOS)
	assert.True(t, srcRep.Fallback)
	assert.Equal(t, late, srcRep.Nearest)
	assert.Equal(t, late, ds.Time, "dataset time comes from the first merged observation")
	assert.Equal(t, target.Format(time.RFC3339), ds.Attrs["target_time"])
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.SourceFallbacks.WithLabelValues("asos")), 1e-9)
}

func TestPipeline_Run_MissingLocationDropped(t *testing.T) {
	raws := append(fiveStations(domain.SourceMesonet, target), raw(domain.SourceMesonet, "LOST", math.NaN(), math.NaN(), 70, target))
	src := &mockSource{name: domain.SourceMesonet, raws: raws}

	p := pipeline.New([]pipeline.Source{src}, testGrid(t), testLogger(), observability.NewMetricsForTesting())
	_, rep, err := p.Run(context.Background(), "run-6", target)
	require.NoError(t, err)

	srcRep, _ := rep.Source(domain.SourceMesonet)
	assert.Equal(t, 6, srcRep.Selected)
	assert.Equal(t, 1, srcRep.Dropped)
	assert.Equal(t, 5, rep.Merged)
}

func TestPipeline_Run_KeepsSourceOrder(t *testing.T) {
	asos := &mockSource{name: domain.SourceASOS, window: 30 * time.Minute, raws: fiveStations(domain.SourceASOS, target.Add(10*time.Minute))}
	mesonet := &mockSource{name: domain.SourceMesonet, raws: fiveStations(domain.SourceMesonet, target)}

	p := pipeline.New([]pipeline.Source{asos, mesonet}, testGrid(t), testLogger(), observability.NewMetricsForTesting())
	ds, rep, err := p.Run(context.Background(), "run-7", target)
	require.NoError(t, err)

	assert.Equal(t, 10, rep.Merged, "co-located stations are not deduplicated")
	assert.Equal(t, []string{"asos", "mesonet"}, rep.ContributingSources())
	assert.Equal(t, "asos,mesonet", ds.Attrs["sources"])
	assert.Equal(t, target.Add(10*time.Minute), ds.Time)
}

func TestPipeline_Run_ContextCancelled(t *testing.T) {
	src := &mockSource{name: domain.SourceASOS, window: 30 * time.Minute, block: true}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := pipeline.New([]pipeline.Source{src}, testGrid(t), testLogger(), observability.NewMetricsForTesting())
	ds, rep, err := p.Run(ctx, "run-8", target)
	assert.Nil(t, ds)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, pipeline.StateFailed, rep.Final())
}
