package mesonet

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/station-grid-etl/internal/domain"
	"golang.org/x/net/html"
)

var (
	// ErrNoPreBlock is returned when a page has no <pre> element.
	ErrNoPreBlock = errors.New("no <pre> block in page")
	// ErrNoDataRows is returned when the <pre> block holds no hourly rows.
	ErrNoDataRows = errors.New("no data rows in <pre> block")
)

var (
	yearPattern     = regexp.MustCompile(`Year\s*=\s*(\d{4})`)
	dataRowPattern  = regexp.MustCompile(`^\s*\d{1,2}\s+\d{1,2}\s+\d{3,4}\b`)
	stationIDFormat = regexp.MustCompile(`(?i)/(bull\d+)[st]\.htm`)
)

// Hourly rows are month, day, HHMM, air temp (°F), RH (%), soil temps, then
// wind speed (mph), wind dir, solar and precip at the right edge. The number
// of soil columns varies between stations; right-hand fields are indexed
// from the end of the row.
const (
	colMonth = 0
	colDay   = 1
	colTime  = 2
	colTemp  = 3
	colRH    = 4

	fromRightSpeed = 4
	fromRightDir   = 3

	minFields = 9
)

// ParseOptions controls how a <pre> block is turned into reports.
type ParseOptions struct {
	// FooterLines is the number of trailing non-empty lines to discard.
	FooterLines int
	// UTCOffset is the page's local standard time offset from UTC.
	UTCOffset time.Duration
}

// StationKey extracts the lower-cased bullNN key from a page URL.
func StationKey(pageURL string) (string, bool) {
	m := stationIDFormat.FindStringSubmatch(pageURL)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

// ExtractPre returns the text content of the first <pre> element.
func ExtractPre(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	inPre := false
	var sb strings.Builder

	for {
		switch z.Next() {
		case html.ErrorToken:
			if inPre {
				// Unterminated block; keep what was read.
				return sb.String(), nil
			}
			if err := z.Err(); err != nil && !errors.Is(err, io.EOF) {
				return "", fmt.Errorf("tokenize page: %w", err)
			}
			return "", ErrNoPreBlock
		case html.StartTagToken:
			name, _ := z.TagName()
			if string(name) == "pre" {
				inPre = true
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if inPre && string(name) == "pre" {
				return sb.String(), nil
			}
		case html.TextToken:
			if inPre {
				sb.Write(z.Text())
			}
		}
	}
}

// Parse converts a Mesonet <pre> block into raw reports for one station.
// The year comes from the block's "Year = NNNN" line, falling back to the
// station's catalog year and then the current year.
func Parse(text string, st domain.Station, opts ParseOptions) ([]domain.RawObservation, error) {
	year := st.Year
	if m := yearPattern.FindStringSubmatch(text); m != nil {
		year, _ = strconv.Atoi(m[1])
	}
	if year == 0 {
		year = domain.Now().Year()
	}

	lines := dataLines(text, opts.FooterLines)
	if len(lines) == 0 {
		return nil, ErrNoDataRows
	}

	var out []domain.RawObservation
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < minFields || !dataRowPattern.MatchString(line) {
			continue
		}

		local, ok := rowTime(year, fields)
		if !ok {
			continue
		}

		n := len(fields)
		out = append(out, domain.RawObservation{
			StationID:   st.StationID,
			Source:      domain.SourceMesonet,
			Time:        local.Add(-opts.UTCOffset),
			Lat:         st.Lat,
			Lon:         st.Lon,
			Temp:        domain.Measurement{Value: domain.ParseValue(fields[colTemp]), Unit: domain.Fahrenheit},
			Dewpoint:    domain.Missing(domain.Fahrenheit),
			RelHumidity: domain.ParseValue(fields[colRH]),
			WindSpeed:   domain.Measurement{Value: domain.ParseValue(fields[n-fromRightSpeed]), Unit: domain.MilesPerHour},
			WindGust:    domain.Missing(domain.MilesPerHour),
			WindDirDeg:  domain.ParseValue(fields[n-fromRightDir]),
		})
	}

	if len(out) == 0 {
		return nil, ErrNoDataRows
	}
	return out, nil
}

// dataLines returns the non-empty lines from the first data row onward,
// minus the trailing footer.
func dataLines(text string, footer int) []string {
	var lines []string
	started := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r ")
		if !started {
			if !dataRowPattern.MatchString(line) {
				continue
			}
			started = true
		}
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if footer > 0 {
		if footer >= len(lines) {
			return nil
		}
		lines = lines[:len(lines)-footer]
	}
	return lines
}

// rowTime builds the local wall time of a row as a UTC-labelled instant.
// 2400 is midnight at the start of the next day.
func rowTime(year int, fields []string) (time.Time, bool) {
	month, err := strconv.Atoi(fields[colMonth])
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(fields[colDay])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, false
	}
	hhmm, err := strconv.Atoi(fields[colTime])
	if err != nil {
		return time.Time{}, false
	}

	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if date.Day() != day {
		return time.Time{}, false
	}
	if hhmm == 2400 {
		return date.AddDate(0, 0, 1), true
	}

	hour, minute := hhmm/100, hhmm%100
	if hour > 23 || minute > 59 {
		return time.Time{}, false
	}
	return date.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute), true
}
