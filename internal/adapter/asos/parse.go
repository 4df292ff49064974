package asos

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/couchcryptid/station-grid-etl/internal/domain"
)

// ErrMalformed is returned when the payload is not a usable ASOS CSV.
var ErrMalformed = errors.New("malformed asos payload")

const timeLayout = "2006-01-02 15:04"

var requiredColumns = []string{"station", "valid", "lon", "lat"}

// Parse reads an IEM comma-separated ASOS payload. Columns are located by
// header name. Rows with an unparseable timestamp are skipped; unparseable
// numeric fields become NaN.
func Parse(r io.Reader) ([]domain.RawObservation, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
		}
		return nil, fmt.Errorf("%w: read header: %w", ErrMalformed, err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrMalformed, name)
		}
	}

	var out []domain.RawObservation
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}

		field := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return rec[i]
		}

		t, err := time.Parse(timeLayout, strings.TrimSpace(field("valid")))
		if err != nil {
			continue
		}

		out = append(out, domain.RawObservation{
			StationID:   strings.TrimSpace(field("station")),
			Source:      domain.SourceASOS,
			Time:        t.UTC(),
			Lat:         domain.ParseValue(field("lat")),
			Lon:         domain.ParseValue(field("lon")),
			Temp:        domain.Measurement{Value: domain.ParseValue(field("tmpf")), Unit: domain.Fahrenheit},
			Dewpoint:    domain.Measurement{Value: domain.ParseValue(field("dwpf")), Unit: domain.Fahrenheit},
			RelHumidity: math.NaN(),
			WindSpeed:   domain.Measurement{Value: domain.ParseValue(field("sknt")), Unit: domain.Knots},
			WindGust:    domain.Measurement{Value: domain.ParseValue(field("gust")), Unit: domain.Knots},
			WindDirDeg:  domain.ParseValue(field("drct")),
		})
	}
	return out, nil
}
