// Command validate checks a Zarr store written by gridetl: store layout,
// coordinate axes, global attributes, the variable catalog and physical
// value ranges. It prints a PASS/FAIL line per phase and a coverage table.
//
// Usage:
//
//	go run ./cmd/validate -store out/grid_20250704T1800Z.zarr -min-coverage 0.5
package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/couchcryptid/station-grid-etl/internal/adapter/zarr"
	"github.com/couchcryptid/station-grid-etl/internal/dataset"
	"github.com/couchcryptid/station-grid-etl/internal/domain"
	"github.com/couchcryptid/station-grid-etl/internal/grid"
)

// spacingTolerance is the allowed relative deviation between axis steps.
const spacingTolerance = 1e-6

// valueRange is the plausible range for one variable's gridded values.
type valueRange struct {
	min, max float64
}

var ranges = map[string]valueRange{
	"T_2m":   {min: -60, max: 60},
	"Td_2m":  {min: -80, max: 40},
	"RH":     {min: 0, max: 100},
	"WS":     {min: 0, max: 100},
	"WG":     {min: 0, max: 120},
	"U_wind": {min: -100, max: 100},
	"V_wind": {min: -100, max: 100},
}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	store := flag.String("store", "", "path to a gridetl Zarr store")
	minCoverage := flag.Float64("min-coverage", 0, "minimum fraction of non-NaN nodes required per variable")
	flag.Parse()

	if *store == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(os.Stdout, *store, *minCoverage); code != 0 {
		os.Exit(code)
	}
}

func run(out io.Writer, storePath string, minCoverage float64) int {
	fmt.Fprintln(out, "=== Grid Store Validation ===")
	fmt.Fprintln(out)

	ds, err := zarr.Read(storePath)
	if err != nil {
		fmt.Fprintf(out, "FATAL: read store: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateStructure(ds),
		validateAxes(ds),
		validateAttributes(ds),
		validateCatalog(ds),
		validateRanges(ds),
		validateCoverage(ds, minCoverage),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-42s %s\n", p.name, status)
	}

	ny, nx := ds.Shape()
	fmt.Fprintf(out, "\nGrid: %d x %d at %s, %d variables\n\n", ny, nx, ds.Time.Format(time.RFC3339), len(ds.Vars))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIABLE\tUNITS\tCOVERAGE")
	for _, v := range ds.Vars {
		fmt.Fprintf(tw, "%s\t%s\t%.1f%%\n", v.Name, v.Units, 100*v.Coverage())
	}
	_ = tw.Flush()

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return 1
}

func validateStructure(ds *dataset.Dataset) *phase {
	p := &phase{name: "Phase 1: Store structure"}
	ny, nx := ds.Shape()
	if ny < 2 || nx < 2 {
		p.errorf("grid is %d x %d, want at least 2 x 2", ny, nx)
	}
	if len(ds.Vars) == 0 {
		p.errorf("store has no data variables")
	}
	if ds.Time.IsZero() || ds.Time.Unix() == 0 {
		p.errorf("time coordinate is unset")
	}
	return p
}

func validateAxes(ds *dataset.Dataset) *phase {
	p := &phase{name: "Phase 2: Coordinate axes"}
	checkAxis(p, dataset.DimLatitude, ds.Latitude)
	checkAxis(p, dataset.DimLongitude, ds.Longitude)

	b, err := grid.ParseBounds(ds.Attrs["bounds"])
	if err != nil {
		// reported by the attribute phase
		return p
	}
	const eps = 1e-9
	if n := len(ds.Longitude); n > 0 && (ds.Longitude[0] < b.MinLon-eps || ds.Longitude[n-1] > b.MaxLon+eps) {
		p.errorf("longitude axis [%g, %g] outside bounds %s", ds.Longitude[0], ds.Longitude[n-1], b)
	}
	if n := len(ds.Latitude); n > 0 && (ds.Latitude[0] < b.MinLat-eps || ds.Latitude[n-1] > b.MaxLat+eps) {
		p.errorf("latitude axis [%g, %g] outside bounds %s", ds.Latitude[0], ds.Latitude[n-1], b)
	}
	return p
}

func checkAxis(p *phase, name string, axis []float64) {
	for i, x := range axis {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			p.errorf("%s[%d] is not finite", name, i)
			return
		}
	}
	if len(axis) < 2 {
		return
	}
	step := axis[1] - axis[0]
	for i := 1; i < len(axis); i++ {
		d := axis[i] - axis[i-1]
		if d <= 0 {
			p.errorf("%s not strictly increasing at index %d", name, i)
			return
		}
		if math.Abs(d-step) > spacingTolerance*math.Abs(step) {
			p.errorf("%s spacing %g at index %d differs from %g", name, d, i, step)
			return
		}
	}
}

func validateAttributes(ds *dataset.Dataset) *phase {
	p := &phase{name: "Phase 3: Global attributes"}
	for _, key := range []string{"title", "source_time", "resolution_km", "bounds", "run_id", "target_time", "sources"} {
		if strings.TrimSpace(ds.Attrs[key]) == "" {
			p.errorf("missing attribute %q", key)
		}
	}

	if s := ds.Attrs["source_time"]; s != "" {
		t, err := time.Parse(time.RFC3339, s)
		switch {
		case err != nil:
			p.errorf("source_time %q is not RFC 3339", s)
		case !t.Equal(ds.Time):
			p.errorf("source_time %s does not match time coordinate %s", s, ds.Time.Format(time.RFC3339))
		}
	}
	if s := ds.Attrs["target_time"]; s != "" {
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			p.errorf("target_time %q is not RFC 3339", s)
		}
	}
	if s := ds.Attrs["resolution_km"]; s != "" {
		if km, err := strconv.ParseFloat(s, 64); err != nil || km <= 0 {
			p.errorf("resolution_km %q is not a positive number", s)
		}
	}
	if s := ds.Attrs["bounds"]; s != "" {
		if _, err := grid.ParseBounds(s); err != nil {
			p.errorf("bounds %q: %v", s, err)
		}
	}
	for _, src := range strings.Split(ds.Attrs["sources"], ",") {
		switch domain.Source(src) {
		case domain.SourceASOS, domain.SourceMesonet, "":
		default:
			p.errorf("unknown source %q", src)
		}
	}
	return p
}

func validateCatalog(ds *dataset.Dataset) *phase {
	p := &phase{name: "Phase 4: Variable catalog"}
	seen := make(map[string]bool, len(ds.Vars))
	for _, v := range ds.Vars {
		if seen[v.Name] {
			p.errorf("duplicate variable %s", v.Name)
		}
		seen[v.Name] = true

		want, ok := domain.LookupVariable(v.Name)
		if !ok {
			p.errorf("unexpected variable %s", v.Name)
			continue
		}
		if v.Units != want.Units {
			p.errorf("%s: units %q, want %q", v.Name, v.Units, want.Units)
		}
		if v.LongName != want.LongName {
			p.errorf("%s: long_name %q, want %q", v.Name, v.LongName, want.LongName)
		}
	}
	for _, v := range domain.Variables {
		if !seen[v.Name] {
			p.errorf("missing variable %s", v.Name)
		}
	}
	return p
}

func validateRanges(ds *dataset.Dataset) *phase {
	p := &phase{name: "Phase 5: Physical ranges"}
	for _, v := range ds.Vars {
		r, ok := ranges[v.Name]
		if !ok {
			continue
		}
		bad := 0
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, row := range v.Values {
			for _, x := range row {
				if math.IsNaN(x) {
					continue
				}
				if x < r.min || x > r.max {
					bad++
				}
				lo, hi = math.Min(lo, x), math.Max(hi, x)
			}
		}
		if bad > 0 {
			p.errorf("%s: %d nodes outside [%g, %g] (observed [%g, %g])", v.Name, bad, r.min, r.max, lo, hi)
		}
	}
	return p
}

func validateCoverage(ds *dataset.Dataset, minCoverage float64) *phase {
	p := &phase{name: "Phase 6: Coverage"}
	empty := 0
	for _, v := range ds.Vars {
		c := v.Coverage()
		if c == 0 {
			empty++
		}
		if c < minCoverage {
			p.errorf("%s: coverage %.3f below %.3f", v.Name, c, minCoverage)
		}
	}
	if len(ds.Vars) > 0 && empty == len(ds.Vars) {
		p.errorf("every variable is empty")
	}
	return p
}
