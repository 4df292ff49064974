package zarr

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/couchcryptid/station-grid-etl/internal/dataset"
	"github.com/klauspost/compress/zstd"
)

const compressionLevel = 3

// Writer exports datasets as Zarr v2 stores under a root directory.
type Writer struct {
	dir    string
	logger *slog.Logger
}

// NewWriter creates a writer rooted at dir.
func NewWriter(dir string, logger *slog.Logger) *Writer {
	return &Writer{dir: dir, logger: logger}
}

func (w *Writer) Format() string { return "zarr" }

// Export writes ds to <dir>/<StoreName> and returns the store path. The
// store is built in a sibling temp directory and renamed into place, so an
// existing store for the same hour is replaced whole.
func (w *Writer) Export(ctx context.Context, ds *dataset.Dataset) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	path := filepath.Join(w.dir, StoreName(ds.Time))
	tmp, err := os.MkdirTemp(w.dir, ".zarr-*")
	if err != nil {
		return "", fmt.Errorf("create temp store: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := Write(ctx, tmp, ds); err != nil {
		return "", err
	}
	if err := os.RemoveAll(path); err != nil {
		return "", fmt.Errorf("replace store: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("move store into place: %w", err)
	}

	w.logger.Info("zarr store written", "path", path, "variables", len(ds.Vars))
	return path, nil
}

// Write writes ds as a Zarr v2 group rooted at the existing directory root.
func Write(ctx context.Context, root string, ds *dataset.Dataset) error {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	defer enc.Close()

	if err := writeJSON(filepath.Join(root, ".zgroup"), groupMeta{ZarrFormat: formatVersion}); err != nil {
		return err
	}
	attrs := make(map[string]any, len(ds.Attrs))
	for k, v := range ds.Attrs {
		attrs[k] = v
	}
	if err := writeJSON(filepath.Join(root, ".zattrs"), attrs); err != nil {
		return err
	}

	ny, nx := ds.Shape()

	err = writeArray(root, dataset.DimTime, enc, arraySpec{
		dtype: dtypeInt64,
		fill:  nil,
		data:  int64Bytes(ds.Time.Unix()),
		attrs: map[string]any{
			dimsAttr:    []string{},
			"units":     timeUnits,
			"calendar":  "proleptic_gregorian",
			"long_name": "time",
		},
	})
	if err != nil {
		return err
	}

	axes := []struct {
		name   string
		values []float64
		units  string
	}{
		{dataset.DimLatitude, ds.Latitude, "degrees_north"},
		{dataset.DimLongitude, ds.Longitude, "degrees_east"},
	}
	for _, ax := range axes {
		err := writeArray(root, ax.name, enc, arraySpec{
			shape: []int{len(ax.values)},
			dtype: dtypeFloat64,
			fill:  "NaN",
			data:  float64Bytes(ax.values),
			attrs: map[string]any{
				dimsAttr:        []string{ax.name},
				"units":         ax.units,
				"long_name":     ax.name,
				"standard_name": ax.name,
			},
		})
		if err != nil {
			return err
		}
	}

	for _, v := range ds.Vars {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := writeArray(root, v.Name, enc, arraySpec{
			shape: []int{ny, nx},
			dtype: dtypeFloat64,
			fill:  "NaN",
			data:  float64Bytes(v.Flatten()),
			attrs: map[string]any{
				dimsAttr:    []string{dataset.DimLatitude, dataset.DimLongitude},
				"units":     v.Units,
				"long_name": v.LongName,
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

type arraySpec struct {
	shape []int
	dtype string
	fill  any
	data  []byte
	attrs map[string]any
}

func writeArray(root, name string, enc *zstd.Encoder, spec arraySpec) error {
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create array %s: %w", name, err)
	}

	shape := spec.shape
	if shape == nil {
		shape = []int{}
	}
	meta := ArrayMeta{
		Chunks:     shape,
		Shape:      shape,
		DType:      spec.dtype,
		Compressor: &Compressor{ID: "zstd", Level: compressionLevel},
		FillValue:  spec.fill,
		Order:      "C",
		ZarrFormat: formatVersion,
	}
	if err := writeJSON(filepath.Join(dir, ".zarray"), meta); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, ".zattrs"), spec.attrs); err != nil {
		return err
	}

	chunk := enc.EncodeAll(spec.data, nil)
	if err := os.WriteFile(filepath.Join(dir, chunkKey(len(shape))), chunk, 0o644); err != nil {
		return fmt.Errorf("write %s chunk: %w", name, err)
	}
	return nil
}

func float64Bytes(values []float64) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func int64Bytes(v int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return buf
}
