// Package mesonet fetches hourly reports from the University of Missouri
// agricultural weather station pages, which publish data as fixed-width
// text inside a <pre> element.
package mesonet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/station-grid-etl/internal/domain"
	"github.com/couchcryptid/station-grid-etl/internal/observability"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// StationCatalog resolves a page's bullNN key to station metadata.
type StationCatalog interface {
	MesonetStation(key string) (domain.Station, bool)
}

// Options configures a Client.
type Options struct {
	URLs      []string
	Window    time.Duration
	Timeout   time.Duration
	CacheSize int
	Parse     ParseOptions
}

// Client implements pipeline.Source over the configured station pages.
// Pages are fetched sequentially, once each per process.
type Client struct {
	opts       Options
	stations   StationCatalog
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[string]
	cache      *pageCache
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mesonet client. Requests are never retried; after
// repeated consecutive failures the breaker opens and remaining pages fail
// fast for the rest of the run.
func NewClient(opts Options, stations StationCatalog, metrics *observability.Metrics, logger *slog.Logger) *Client {
	c := &Client{
		opts:     opts,
		stations: stations,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		cache:   newPageCache(opts.CacheSize),
		metrics: metrics,
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "mesonet",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

func (c *Client) Name() domain.Source { return domain.SourceMesonet }

// Window is the selection window after the target hour.
func (c *Client) Window() time.Duration { return c.opts.Window }

// Fetch downloads and parses every configured page. A page that fails is
// logged and skipped; Fetch fails only when every page failed.
func (c *Client) Fetch(ctx context.Context, _ time.Time) ([]domain.RawObservation, error) {
	var (
		out       []domain.RawObservation
		attempted int
		failed    int
		lastErr   error
	)
	seen := make(map[string]bool, len(c.opts.URLs))

	for _, u := range c.opts.URLs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		key, ok := StationKey(u)
		if !ok {
			c.logger.Warn("mesonet url has no station key, skipping", "url", u)
			continue
		}
		if seen[key] {
			c.logger.Debug("duplicate mesonet station url, skipping", "station_key", key, "url", u)
			continue
		}
		seen[key] = true

		st, ok := c.stations.MesonetStation(key)
		if !ok {
			c.logger.Warn("no catalog entry for mesonet station, skipping", "station_key", key, "url", u)
			continue
		}

		attempted++
		rows, err := c.fetchStation(ctx, u, st)
		if err != nil {
			failed++
			lastErr = err
			c.logger.Warn("mesonet station failed", "station", st.StationID, "url", u, "error", err)
			continue
		}
		c.logger.Debug("mesonet station parsed", "station", st.StationID, "rows", len(rows))
		out = append(out, rows...)
	}

	if attempted > 0 && failed == attempted {
		return nil, fmt.Errorf("all %d mesonet pages failed: %w", attempted, lastErr)
	}
	return out, nil
}

func (c *Client) fetchStation(ctx context.Context, pageURL string, st domain.Station) ([]domain.RawObservation, error) {
	text, err := c.preBlock(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	rows, err := Parse(text, st, c.opts.Parse)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", st.StationID, err)
	}
	return rows, nil
}

// preBlock returns the page's <pre> text, from cache when possible.
func (c *Client) preBlock(ctx context.Context, pageURL string) (string, error) {
	if text, ok := c.cache.get(pageURL); ok {
		c.metrics.MesonetPageCache.WithLabelValues("hit").Inc()
		return text, nil
	}
	c.metrics.MesonetPageCache.WithLabelValues("miss").Inc()

	page, err := c.breaker.Execute(func() (string, error) {
		return c.download(ctx, pageURL)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("mesonet unavailable: %w", err)
		}
		return "", err
	}

	text, err := ExtractPre(strings.NewReader(page))
	if err != nil {
		return "", err
	}
	c.cache.put(pageURL, text)
	return text, nil
}

// download fetches a page and decodes it to UTF-8. Pages without a UTF-8
// charset are Windows-1252.
func (c *Client) download(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("mesonet request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mesonet page error: status %d", resp.StatusCode)
	}

	var r io.Reader = resp.Body
	if !strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "utf-8") {
		r = transform.NewReader(resp.Body, charmap.Windows1252.NewDecoder())
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}
	return string(body), nil
}
