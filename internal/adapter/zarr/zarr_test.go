package zarr

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/station-grid-etl/internal/dataset"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var validTime = time.Date(2025, 7, 4, 18, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleDataset() *dataset.Dataset {
	nan := math.NaN()
	return &dataset.Dataset{
		Time:      validTime,
		Latitude:  []float64{38, 38.5, 39},
		Longitude: []float64{-92, -91.5},
		Vars: []dataset.DataVar{
			{Name: "T_2m", Units: "degC", LongName: "2-meter Air Temperature", Values: [][]float64{{20, 21}, {22, nan}, {24, 25}}},
			{Name: "RH", Units: "%", LongName: "Relative Humidity", Values: [][]float64{{50, 55}, {nan, nan}, {60, 65}}},
		},
		Attrs: map[string]string{
			"title":       "Gridded station data (3km)",
			"source_time": "2025-07-04T18:00:00Z",
		},
	}
}

func TestStoreName(t *testing.T) {
	assert.Equal(t, "grid_20250704T1800Z.zarr", StoreName(validTime))
	assert.Equal(t, "grid_20250704T1800Z.zarr", StoreName(validTime.In(time.FixedZone("CST", -6*3600))))
}

func TestChunkKey(t *testing.T) {
	assert.Equal(t, "0", chunkKey(0))
	assert.Equal(t, "0", chunkKey(1))
	assert.Equal(t, "0.0", chunkKey(2))
	assert.Equal(t, "0.0.0", chunkKey(3))
}

func TestWriteRead_RoundTrip(t *testing.T) {
	root := t.TempDir()
	want := sampleDataset()

	require.NoError(t, Write(context.Background(), root, want))

	got, err := Read(root)
	require.NoError(t, err)

	// Catalog order puts T_2m before RH regardless of directory order.
	if diff := cmp.Diff(want, got, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWrite_Layout(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Write(context.Background(), root, sampleDataset()))

	var group map[string]int
	readFile(t, filepath.Join(root, ".zgroup"), &group)
	assert.Equal(t, 2, group["zarr_format"])

	var meta ArrayMeta
	readFile(t, filepath.Join(root, "T_2m", ".zarray"), &meta)
	assert.Equal(t, []int{3, 2}, meta.Shape)
	assert.Equal(t, []int{3, 2}, meta.Chunks)
	assert.Equal(t, "<f8", meta.DType)
	assert.Equal(t, "C", meta.Order)
	assert.Equal(t, "NaN", meta.FillValue)
	assert.Equal(t, &Compressor{ID: "zstd", Level: 3}, meta.Compressor)

	var attrs map[string]any
	readFile(t, filepath.Join(root, "T_2m", ".zattrs"), &attrs)
	assert.Equal(t, []any{"latitude", "longitude"}, attrs["_ARRAY_DIMENSIONS"])
	assert.Equal(t, "degC", attrs["units"])

	readFile(t, filepath.Join(root, "time", ".zarray"), &meta)
	assert.Empty(t, meta.Shape)
	assert.Equal(t, "<i8", meta.DType)

	readFile(t, filepath.Join(root, "time", ".zattrs"), &attrs)
	assert.Equal(t, "seconds since 1970-01-01T00:00:00Z", attrs["units"])

	raw, err := os.ReadFile(filepath.Join(root, "T_2m", "0.0"))
	require.NoError(t, err)
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	data, err := dec.DecodeAll(raw, nil)
	require.NoError(t, err)
	require.Len(t, data, 6*8)
	assert.InDelta(t, 21.0, math.Float64frombits(binary.LittleEndian.Uint64(data[8:])), 1e-12, "row-major order")
	assert.True(t, math.IsNaN(math.Float64frombits(binary.LittleEndian.Uint64(data[24:]))))
}

func TestWriter_Export(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w := NewWriter(dir, testLogger())
	assert.Equal(t, "zarr", w.Format())

	path, err := w.Export(context.Background(), sampleDataset())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "grid_20250704T1800Z.zarr"), path)

	// A second export for the same hour replaces the first.
	ds := sampleDataset()
	ds.Vars = ds.Vars[:1]
	path, err = w.Export(context.Background(), ds)
	require.NoError(t, err)

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"T_2m"}, got.VarNames())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp stores are cleaned up")
}

func TestWrite_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Write(ctx, t.TempDir(), sampleDataset())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRead_NotAStore(t *testing.T) {
	_, err := Read(t.TempDir())
	assert.True(t, errors.Is(err, ErrNotStore))
}

func TestRead_ShapeMismatch(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Write(context.Background(), root, sampleDataset()))

	// Shrink the latitude axis so variable arrays no longer fit.
	short := sampleDataset()
	short.Latitude = short.Latitude[:2]
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	require.NoError(t, writeArray(root, "latitude", enc, arraySpec{
		shape: []int{2},
		dtype: dtypeFloat64,
		fill:  "NaN",
		data:  float64Bytes(short.Latitude),
		attrs: map[string]any{dimsAttr: []string{"latitude"}},
	}))

	_, err = Read(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match axes")
}

func readFile(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}
