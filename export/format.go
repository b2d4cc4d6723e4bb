package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Output layouts. Values are rendered the same way on every run so an
// unchanged source produces a byte-identical file.
const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02 15:04:05"
)

// FormatValue renders a column value for a CSV cell.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(DateLayout)
		}
		return x.Format(TimestampLayout)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// FormatRow renders a result row.
func FormatRow(vals []any) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = FormatValue(v)
	}
	return out
}

var dateLayouts = []string{
	DateLayout,
	TimestampLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"02/01/2006",
	"02/01/2006 15:04:05",
}

// ParseDate extracts the calendar date of a value as midnight UTC.
// It accepts time values and text in the layouts this package writes
// plus a few common ones.
func ParseDate(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return civil(x), true
	case string:
		return parseDateString(x)
	case []byte:
		return parseDateString(string(x))
	}
	return time.Time{}, false
}

func parseDateString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil(t), true
		}
	}
	return time.Time{}, false
}

// civil drops the clock and zone, keeping the calendar date.
func civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthKey renders the month of t as used in monthly file names.
func MonthKey(t time.Time) string {
	return t.Format("01.2006")
}
