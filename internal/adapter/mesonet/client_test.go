package mesonet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/station-grid-etl/internal/domain"
	"github.com/couchcryptid/station-grid-etl/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type catalog map[string]domain.Station

func (c catalog) MesonetStation(key string) (domain.Station, bool) {
	st, ok := c[key]
	return st, ok
}

var testCatalog = catalog{
	"bull70": {Key: "bull70", StationID: "South Farms", Lat: 38.91, Lon: -92.28, Year: 2025},
	"bull75": {Key: "bull75", StationID: "Bradford", Lat: 38.89, Lon: -92.2, Year: 2025},
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func htmlPage(block string) string {
	return "<html><head><title>Hourly data</title></head><body><pre>" + block + "</pre></body></html>"
}

// pageServer serves the sample page at every path and counts requests per path.
type pageServer struct {
	mu     sync.Mutex
	hits   map[string]int
	status map[string]int
	srv    *httptest.Server
}

func newPageServer(t *testing.T) *pageServer {
	t.Helper()
	ps := &pageServer{hits: map[string]int{}, status: map[string]int{}}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		ps.hits[r.URL.Path]++
		status := ps.status[r.URL.Path]
		ps.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, htmlPage(sampleBlock))
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pageServer) url(path string) string { return ps.srv.URL + path }

func (ps *pageServer) hitCount(path string) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.hits[path]
}

func newTestClient(urls []string, metrics *observability.Metrics) *Client {
	return NewClient(Options{
		URLs:      urls,
		Window:    0,
		Timeout:   5 * time.Second,
		CacheSize: 8,
		Parse:     defaultParse,
	}, testCatalog, metrics, testLogger())
}

func TestClient_Fetch(t *testing.T) {
	ps := newPageServer(t)
	c := newTestClient([]string{
		ps.url("/boone/bull75s.htm"),
		ps.url("/boone/bull70s.htm"),
		ps.url("/boone/bull75s.htm"),
		ps.url("/boone/index.htm"),
		ps.url("/nowhere/bull999s.htm"),
	}, observability.NewMetricsForTesting())

	assert.Equal(t, domain.SourceMesonet, c.Name())
	assert.Equal(t, time.Duration(0), c.Window())

	raws, err := c.Fetch(context.Background(), time.Date(2025, 7, 4, 18, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, raws, 6)

	assert.Equal(t, "Bradford", raws[0].StationID)
	assert.Equal(t, "South Farms", raws[3].StationID)
	assert.InDelta(t, -92.28, raws[3].Lon, 1e-9)

	assert.Equal(t, 1, ps.hitCount("/boone/bull75s.htm"), "duplicate url fetched once")
	assert.Equal(t, 0, ps.hitCount("/boone/index.htm"))
	assert.Equal(t, 0, ps.hitCount("/nowhere/bull999s.htm"), "unknown station not fetched")
}

func TestClient_Fetch_CachesPagesAcrossCalls(t *testing.T) {
	ps := newPageServer(t)
	metrics := observability.NewMetricsForTesting()
	c := newTestClient([]string{ps.url("/boone/bull75s.htm"), ps.url("/boone/bull70s.htm")}, metrics)

	for hour := 17; hour <= 18; hour++ {
		raws, err := c.Fetch(context.Background(), time.Date(2025, 7, 4, hour, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Len(t, raws, 6)
	}

	assert.Equal(t, 1, ps.hitCount("/boone/bull75s.htm"))
	assert.Equal(t, 1, ps.hitCount("/boone/bull70s.htm"))
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.MesonetPageCache.WithLabelValues("miss")), 1e-9)
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.MesonetPageCache.WithLabelValues("hit")), 1e-9)
}

func TestClient_Fetch_PartialFailure(t *testing.T) {
	ps := newPageServer(t)
	ps.status["/boone/bull70s.htm"] = http.StatusInternalServerError
	c := newTestClient([]string{ps.url("/boone/bull70s.htm"), ps.url("/boone/bull75s.htm")}, observability.NewMetricsForTesting())

	raws, err := c.Fetch(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, raws, 3)
	assert.Equal(t, "Bradford", raws[0].StationID)
}

func TestClient_Fetch_AllPagesFail(t *testing.T) {
	ps := newPageServer(t)
	ps.status["/boone/bull70s.htm"] = http.StatusNotFound
	ps.status["/boone/bull75s.htm"] = http.StatusNotFound
	c := newTestClient([]string{ps.url("/boone/bull70s.htm"), ps.url("/boone/bull75s.htm")}, observability.NewMetricsForTesting())

	_, err := c.Fetch(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 mesonet pages failed")
}

func TestClient_Fetch_PageWithoutPre(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<html><body>Station under maintenance</body></html>")
	}))
	defer srv.Close()

	c := newTestClient([]string{srv.URL + "/boone/bull75s.htm"}, observability.NewMetricsForTesting())
	_, err := c.Fetch(context.Background(), time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoPreBlock))
}

func TestClient_Fetch_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	ps := newPageServer(t)
	stations := catalog{}
	var urls []string
	for i := 1; i <= 8; i++ {
		key := fmt.Sprintf("bull%d", i)
		path := fmt.Sprintf("/s/%ss.htm", key)
		stations[key] = domain.Station{Key: key, StationID: key, Lat: 38, Lon: -92}
		ps.status[path] = http.StatusBadGateway
		urls = append(urls, ps.url(path))
	}

	c := NewClient(Options{URLs: urls, Timeout: 5 * time.Second, CacheSize: 8, Parse: defaultParse},
		stations, observability.NewMetricsForTesting(), testLogger())

	_, err := c.Fetch(context.Background(), time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))

	total := 0
	for i := 1; i <= 8; i++ {
		total += ps.hitCount(fmt.Sprintf("/s/bull%ds.htm", i))
	}
	assert.Equal(t, 6, total, "requests stop once the breaker opens")
}

func TestClient_Fetch_ContextCancelled(t *testing.T) {
	ps := newPageServer(t)
	c := newTestClient([]string{ps.url("/boone/bull75s.htm")}, observability.NewMetricsForTesting())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Fetch(ctx, time.Now())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, ps.hitCount("/boone/bull75s.htm"))
}

func TestClient_DecodesWindows1252(t *testing.T) {
	body := []byte("<html><body><pre>Air Temp (\xb0F)\n</pre></body></html>")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c := newTestClient(nil, observability.NewMetricsForTesting())
	text, err := c.preBlock(context.Background(), srv.URL+"/boone/bull75s.htm")
	require.NoError(t, err)
	assert.Equal(t, "Air Temp (°F)\n", text)
}

func TestClient_KeepsUTF8(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=UTF-8")
		_, _ = io.WriteString(w, "<pre>Air Temp (°F)</pre>")
	}))
	defer srv.Close()

	c := newTestClient(nil, observability.NewMetricsForTesting())
	text, err := c.preBlock(context.Background(), srv.URL+"/boone/bull75s.htm")
	require.NoError(t, err)
	assert.Equal(t, "Air Temp (°F)", text)
}
