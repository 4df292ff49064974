package zarr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/station-grid-etl/internal/dataset"
	"github.com/couchcryptid/station-grid-etl/internal/domain"
	"github.com/klauspost/compress/zstd"
)

// ErrNotStore is returned when a directory is not a Zarr v2 group.
var ErrNotStore = errors.New("not a zarr v2 group")

// Read loads a store written by Write. Data variables are ordered by the
// standard variable catalog, then by name.
func Read(root string) (*dataset.Dataset, error) {
	var group groupMeta
	if err := readJSON(filepath.Join(root, ".zgroup"), &group); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotStore, err)
	}
	if group.ZarrFormat != formatVersion {
		return nil, fmt.Errorf("%w: zarr_format %d", ErrNotStore, group.ZarrFormat)
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	ds := &dataset.Dataset{Attrs: map[string]string{}}

	var attrs map[string]any
	if err := readJSON(filepath.Join(root, ".zattrs"), &attrs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	for k, v := range attrs {
		ds.Attrs[k] = fmt.Sprint(v)
	}

	secs, err := readInt64Scalar(root, dataset.DimTime, dec)
	if err != nil {
		return nil, err
	}
	ds.Time = time.Unix(secs, 0).UTC()

	if ds.Latitude, _, err = readFloat64s(root, dataset.DimLatitude, dec, 1); err != nil {
		return nil, err
	}
	if ds.Longitude, _, err = readFloat64s(root, dataset.DimLongitude, dec, 1); err != nil {
		return nil, err
	}
	ny, nx := ds.Shape()

	names, err := variableNames(root)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		flat, meta, err := readFloat64s(root, name, dec, 2)
		if err != nil {
			return nil, err
		}
		if meta.Shape[0] != ny || meta.Shape[1] != nx {
			return nil, fmt.Errorf("array %s: shape %v does not match axes (%d, %d)", name, meta.Shape, ny, nx)
		}

		var va map[string]any
		if err := readJSON(filepath.Join(root, name, ".zattrs"), &va); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		units, _ := va["units"].(string)
		longName, _ := va["long_name"].(string)

		values := make([][]float64, ny)
		for j := range values {
			values[j] = flat[j*nx : (j+1)*nx]
		}
		ds.Vars = append(ds.Vars, dataset.DataVar{
			Name:     name,
			Units:    units,
			LongName: longName,
			Values:   values,
		})
	}
	return ds, nil
}

// variableNames lists array directories other than the coordinates.
func variableNames(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list store: %w", err)
	}

	rank := make(map[string]int, len(domain.Variables))
	for i, v := range domain.Variables {
		rank[v.Name] = i
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		switch name {
		case dataset.DimTime, dataset.DimLatitude, dataset.DimLongitude:
			continue
		}
		if _, err := os.Stat(filepath.Join(root, name, ".zarray")); err != nil {
			continue
		}
		names = append(names, name)
	}

	sort.SliceStable(names, func(i, j int) bool {
		ri, iok := rank[names[i]]
		rj, jok := rank[names[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return names[i] < names[j]
		}
	})
	return names, nil
}

func readMeta(root, name string) (ArrayMeta, error) {
	var meta ArrayMeta
	if err := readJSON(filepath.Join(root, name, ".zarray"), &meta); err != nil {
		return meta, fmt.Errorf("array %s: %w", name, err)
	}
	if meta.ZarrFormat != formatVersion {
		return meta, fmt.Errorf("array %s: unsupported zarr_format %d", name, meta.ZarrFormat)
	}
	if meta.Order != "C" {
		return meta, fmt.Errorf("array %s: unsupported order %q", name, meta.Order)
	}
	return meta, nil
}

// readChunk returns the decompressed bytes of the array's single chunk.
func readChunk(root, name string, meta ArrayMeta, dec *zstd.Decoder) ([]byte, error) {
	for i := range meta.Shape {
		if meta.Chunks[i] != meta.Shape[i] {
			return nil, fmt.Errorf("array %s: multi-chunk arrays are not supported", name)
		}
	}

	raw, err := os.ReadFile(filepath.Join(root, name, chunkKey(len(meta.Shape))))
	if err != nil {
		return nil, fmt.Errorf("array %s: read chunk: %w", name, err)
	}
	if meta.Compressor == nil {
		return raw, nil
	}
	if meta.Compressor.ID != "zstd" {
		return nil, fmt.Errorf("array %s: unsupported compressor %q", name, meta.Compressor.ID)
	}
	out, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("array %s: zstd decompression failed: %w", name, err)
	}
	return out, nil
}

func readFloat64s(root, name string, dec *zstd.Decoder, rank int) ([]float64, ArrayMeta, error) {
	meta, err := readMeta(root, name)
	if err != nil {
		return nil, meta, err
	}
	if len(meta.Shape) != rank || len(meta.Chunks) != rank {
		return nil, meta, fmt.Errorf("array %s: got rank %d, want %d", name, len(meta.Shape), rank)
	}
	if meta.DType != dtypeFloat64 {
		return nil, meta, fmt.Errorf("array %s: unsupported dtype %q", name, meta.DType)
	}

	data, err := readChunk(root, name, meta, dec)
	if err != nil {
		return nil, meta, err
	}

	n := 1
	for _, s := range meta.Shape {
		n *= s
	}
	if len(data) != 8*n {
		return nil, meta, fmt.Errorf("array %s: chunk has %d bytes, want %d", name, len(data), 8*n)
	}

	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return out, meta, nil
}

func readInt64Scalar(root, name string, dec *zstd.Decoder) (int64, error) {
	meta, err := readMeta(root, name)
	if err != nil {
		return 0, err
	}
	if len(meta.Shape) != 0 || meta.DType != dtypeInt64 {
		return 0, fmt.Errorf("array %s: want 0-d %s, got shape %v dtype %q", name, dtypeInt64, meta.Shape, meta.DType)
	}
	data, err := readChunk(root, name, meta, dec)
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("array %s: chunk has %d bytes, want 8", name, len(data))
	}
	return int64(binary.LittleEndian.Uint64(data)), nil
}
