package extract

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Year bounds for any accepted date. Anything outside is treated as a
// corrupted value rather than a real birth or registration date.
const (
	MinYear = 1900
	MaxYear = 2200
)

const dateLayout = "2006-01-02"

// Date is a canonical YYYY-MM-DD date. The zero value means null.
type Date string

// IsZero reports whether the date is null.
func (d Date) IsZero() bool { return d == "" }

func (d Date) String() string { return string(d) }

// Year returns the year, or 0 for a null date.
func (d Date) Year() int {
	if len(d) < 4 {
		return 0
	}
	y, _ := strconv.Atoi(string(d[:4]))
	return y
}

// MarshalJSON encodes a null date as JSON null.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(string(d))
}

// UnmarshalJSON accepts a string or null.
func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*d = Date(s)
	return nil
}

var (
	isoDatePrefixRE = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})`)
	excelSerialRE   = regexp.MustCompile(`^\d{5}(\.\d+)?$`)
	allDigitsRE     = regexp.MustCompile(`^\d+$`)
)

// localLayouts are formats Korean spreadsheets commonly emit that generic
// parsers do not know about.
var localLayouts = []string{
	"2006년 1월 2일",
	"2006년1월2일",
	"2006. 1. 2.",
	"2006. 1. 2",
	"2006.1.2.",
	"2006.1.2",
	"2006/1/2",
	"2006-1-2",
}

// excelEpoch is day zero of the spreadsheet serial date system.
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// NormalizeDate canonicalizes a date-like string to YYYY-MM-DD.
//
// A strict YYYY-MM-DD prefix is checked for year bounds and calendar validity.
// Anything else goes through looser parsing (spreadsheet serial numbers, local
// layouts, then dateparse) and the same year bounds. Returns false when the
// value is not a usable date.
func NormalizeDate(raw string) (Date, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	if m := isoDatePrefixRE.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		if !yearInRange(year) {
			return "", false
		}
		t, err := time.Parse(dateLayout, m[0])
		if err != nil {
			return "", false
		}
		return Date(t.Format(dateLayout)), true
	}

	t, ok := parseLooseDate(s)
	if !ok || !yearInRange(t.Year()) {
		return "", false
	}
	return Date(t.Format(dateLayout)), true
}

func parseLooseDate(s string) (time.Time, bool) {
	if excelSerialRE.MatchString(s) {
		days, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return time.Time{}, false
		}
		return excelEpoch.AddDate(0, 0, int(days)), true
	}
	if allDigitsRE.MatchString(s) {
		// Bare integers are only serials or yyyymmdd. dateparse would read
		// 10 and 13 digit values (shifted phone columns) as epoch timestamps.
		if len(s) != 8 {
			return time.Time{}, false
		}
		t, err := time.Parse("20060102", s)
		return t, err == nil
	}
	for _, layout := range localLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func yearInRange(year int) bool {
	return year >= MinYear && year <= MaxYear
}
