// Package zarr writes and reads datasets as Zarr v2 directory stores with
// zstd-compressed little-endian chunks, one chunk per array.
package zarr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	formatVersion = 2
	timeUnits     = "seconds since 1970-01-01T00:00:00Z"

	dtypeFloat64 = "<f8"
	dtypeInt64   = "<i8"

	dimsAttr = "_ARRAY_DIMENSIONS"
)

// ArrayMeta is the .zarray document.
type ArrayMeta struct {
	Chunks     []int       `json:"chunks"`
	Shape      []int       `json:"shape"`
	DType      string      `json:"dtype"`
	Compressor *Compressor `json:"compressor"`
	FillValue  any         `json:"fill_value"`
	Order      string      `json:"order"`
	Filters    []any       `json:"filters"`
	ZarrFormat int         `json:"zarr_format"`
}

// Compressor is the numcodecs codec config stored in .zarray.
type Compressor struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
}

type groupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

// StoreName is the directory name for a dataset valid at t.
func StoreName(t time.Time) string {
	return "grid_" + t.UTC().Format("20060102T1504Z") + ".zarr"
}

// chunkKey is the single chunk's key for an array of the given rank.
func chunkKey(rank int) string {
	if rank == 0 {
		return "0"
	}
	return strings.TrimSuffix(strings.Repeat("0.", rank), ".")
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
