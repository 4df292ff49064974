// Package asos fetches hourly surface reports from the Iowa Environmental
// Mesonet ASOS download service.
package asos

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/station-grid-etl/internal/domain"
)

// Client implements pipeline.Source for one ASOS network.
type Client struct {
	baseURL    string
	network    string
	window     time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an ASOS client. The timeout bounds each request.
func NewClient(baseURL, network string, window, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		network: network,
		window:  window,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (c *Client) Name() domain.Source { return domain.SourceASOS }

// Window is the selection window after the target hour.
func (c *Client) Window() time.Duration { return c.window }

// Fetch downloads every report for the UTC day containing target.
func (c *Client) Fetch(ctx context.Context, target time.Time) ([]domain.RawObservation, error) {
	u := c.RequestURL(target)
	c.logger.Debug("asos request", "url", u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("asos request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("asos API error: status %d: %s", resp.StatusCode, body)
	}

	return Parse(resp.Body)
}

// RequestURL builds the download URL covering the whole UTC day of target.
func (c *Client) RequestURL(target time.Time) string {
	day := target.UTC().Truncate(24 * time.Hour)
	end := day.Add(24 * time.Hour)

	params := url.Values{
		"network":     {c.network},
		"data":        {"all"},
		"tz":          {"Etc/UTC"},
		"format":      {"onlycomma"},
		"latlon":      {"yes"},
		"elev":        {"yes"},
		"missing":     {"null"},
		"trace":       {"T"},
		"direct":      {"no"},
		"report_type": {"3", "4"},
	}
	setDate(params, "1", day)
	setDate(params, "2", end)

	return c.baseURL + "?" + params.Encode()
}

func setDate(params url.Values, suffix string, t time.Time) {
	params.Set("year"+suffix, strconv.Itoa(t.Year()))
	params.Set("month"+suffix, strconv.Itoa(int(t.Month())))
	params.Set("day"+suffix, strconv.Itoa(t.Day()))
	params.Set("hour"+suffix, strconv.Itoa(t.Hour()))
	params.Set("minute"+suffix, strconv.Itoa(t.Minute()))
}
