package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/station-grid-etl/internal/adapter/asos"
	kafkaadapter "github.com/couchcryptid/station-grid-etl/internal/adapter/kafka"
	"github.com/couchcryptid/station-grid-etl/internal/adapter/mesonet"
	"github.com/couchcryptid/station-grid-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/station-grid-etl/internal/adapter/zarr"
	"github.com/couchcryptid/station-grid-etl/internal/config"
	"github.com/couchcryptid/station-grid-etl/internal/dataset"
	"github.com/couchcryptid/station-grid-etl/internal/grid"
	"github.com/couchcryptid/station-grid-etl/internal/observability"
	"github.com/couchcryptid/station-grid-etl/internal/pipeline"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

// exporter writes a packaged dataset somewhere and returns its location.
type exporter interface {
	Format() string
	Export(ctx context.Context, ds *dataset.Dataset) (string, error)
}

// publisher sends a packaged dataset downstream.
type publisher interface {
	Publish(ctx context.Context, runID string, ds *dataset.Dataset) error
	Close() error
}

func runAction(cCtx *cli.Context) error {
	targets, err := parseTargets(cCtx.String("date"), cCtx.IntSlice("hour"))
	if err != nil {
		return cli.Exit(err, 2)
	}

	cfg, err := config.Load()
	if err != nil {
		return cli.Exit(fmt.Errorf("load config: %w", err), 1)
	}
	if err := applyOverrides(cfg, cCtx.String("output-dir"), cCtx.StringSlice("format")); err != nil {
		return cli.Exit(err, 2)
	}

	invocation := uuid.NewString()
	logger := observability.NewLogger(cfg).With("invocation_id", invocation)
	metrics := observability.NewMetrics()

	g, err := grid.New(cfg.GridBounds, cfg.GridResolutionKm, cfg.KmPerDegree)
	if err != nil {
		return cli.Exit(fmt.Errorf("build grid: %w", err), 1)
	}
	ny, nx := g.Shape()
	logger.Info("grid ready", "bounds", cfg.GridBounds.String(), "resolution_km", cfg.GridResolutionKm, "ny", ny, "nx", nx)

	sources, err := buildSources(cfg, metrics, logger)
	if err != nil {
		return cli.Exit(err, 1)
	}

	var pub publisher
	if cfg.KafkaEnabled {
		pub = kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Error("kafka publisher close error", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(sources, g, logger, metrics)
	failed := runTargets(ctx, p, targets, buildExporters(cfg, logger), pub, metrics, logger)

	if cfg.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		if err := observability.Push(pushCtx, cfg.PushgatewayURL, invocation, metrics); err != nil {
			logger.Error("metrics push failed", "error", err)
		}
		cancel()
	}

	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d target hours failed", failed, len(targets)), 1)
	}
	return nil
}

// runTargets runs the pipeline for each target in turn and returns how
// many runs failed. Export and publish failures count as run failures.
func runTargets(ctx context.Context, p *pipeline.Pipeline, targets []time.Time, exporters []exporter, pub publisher, metrics *observability.Metrics, logger *slog.Logger) int {
	failed := 0
	for _, target := range targets {
		if ctx.Err() != nil {
			logger.Warn("interrupted, skipping remaining targets")
			return failed + 1
		}

		runID := uuid.NewString()
		ds, rep, err := p.Run(ctx, runID, target)
		logReport(logger, rep)
		if err != nil {
			failed++
			continue
		}

		ok := true
		for _, ex := range exporters {
			path, err := ex.Export(ctx, ds)
			if err != nil {
				metrics.ExportErrors.WithLabelValues(ex.Format()).Inc()
				logger.Error("export failed", "run_id", runID, "format", ex.Format(), "error", err)
				ok = false
				continue
			}
			metrics.ExportsWritten.WithLabelValues(ex.Format()).Inc()
			logger.Info("dataset exported", "run_id", runID, "format", ex.Format(), "path", path)
		}
		if pub != nil {
			if err := pub.Publish(ctx, runID, ds); err != nil {
				logger.Error("publish failed", "run_id", runID, "error", err)
				ok = false
			}
		}
		if !ok {
			failed++
		}
	}
	return failed
}

func buildSources(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) ([]pipeline.Source, error) {
	var sources []pipeline.Source
	if cfg.ASOSEnabled {
		sources = append(sources, asos.NewClient(cfg.ASOSBaseURL, cfg.ASOSNetwork, cfg.ASOSWindow, cfg.ASOSTimeout, logger))
	}
	if cfg.MesonetEnabled {
		cat, err := config.LoadCatalog(cfg.StationCatalog)
		if err != nil {
			return nil, fmt.Errorf("load station catalog: %w", err)
		}
		sources = append(sources, mesonet.NewClient(mesonet.Options{
			URLs:      cat.Mesonet.URLs,
			Window:    cfg.MesonetWindow,
			Timeout:   cfg.MesonetTimeout,
			CacheSize: cfg.MesonetCacheSize,
			Parse: mesonet.ParseOptions{
				FooterLines: cfg.MesonetFooterLines,
				UTCOffset:   cfg.MesonetUTCOffset,
			},
		}, cat, metrics, logger))
	}
	if len(sources) == 0 {
		return nil, errors.New("no sources enabled")
	}
	return sources, nil
}

func buildExporters(cfg *config.Config, logger *slog.Logger) []exporter {
	var out []exporter
	if cfg.HasFormat(config.FormatZarr) {
		out = append(out, zarr.NewWriter(cfg.OutputDir, logger))
	}
	if cfg.HasFormat(config.FormatNetCDF) {
		out = append(out, netcdf.NewWriter(cfg.OutputDir, logger))
	}
	return out
}

// parseTargets combines a UTC date with each requested hour.
func parseTargets(date string, hours []int) ([]time.Time, error) {
	day, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: want YYYY-MM-DD", date)
	}
	if len(hours) == 0 {
		return nil, errors.New("at least one hour is required")
	}
	targets := make([]time.Time, 0, len(hours))
	for _, h := range hours {
		if h < 0 || h > 23 {
			return nil, fmt.Errorf("invalid hour %d: want 0-23", h)
		}
		targets = append(targets, day.Add(time.Duration(h)*time.Hour))
	}
	return targets, nil
}

// applyOverrides layers CLI flags over the environment config and rejects
// formats this build cannot write, before any source is fetched.
func applyOverrides(cfg *config.Config, outputDir string, formats []string) error {
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if len(formats) > 0 {
		var parsed []string
		for _, f := range formats {
			parsed = append(parsed, config.ParseFormats(f)...)
		}
		cfg.OutputFormats = parsed
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.HasFormat(config.FormatNetCDF) && !netcdf.Supported {
		return fmt.Errorf("output format %q: %w", config.FormatNetCDF, netcdf.ErrUnsupported)
	}
	return nil
}

func logReport(logger *slog.Logger, rep *pipeline.Report) {
	for _, s := range rep.Sources {
		attrs := []any{
			"run_id", rep.RunID,
			"source", string(s.Source),
			"fetched", s.Fetched,
			"selected", s.Selected,
			"observations", s.Observations,
			"fallback", s.Fallback,
			"duration", s.Duration,
		}
		if s.Failed() {
			logger.Warn("source summary", append(attrs, "error", s.Err)...)
			continue
		}
		logger.Info("source summary", attrs...)
	}
	var skipped []string
	for _, v := range rep.Variables {
		if v.Err != nil {
			skipped = append(skipped, v.Name)
		}
	}
	logger.Info("run summary",
		"run_id", rep.RunID,
		"target", rep.Target.Format(time.RFC3339),
		"state", string(rep.Final()),
		"merged", rep.Merged,
		"skipped_variables", skipped,
		"duration", rep.Duration,
	)
}
