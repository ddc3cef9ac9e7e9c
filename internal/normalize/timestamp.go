package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// TimestampLayout is the canonical ISO-8601 UTC form with microseconds.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// ErrUnparseableTimestamp is returned when a non-empty value matches no known format.
var ErrUnparseableTimestamp = errors.New("unparseable timestamp")

// Accepted string layouts, tried in order. The month/day pair is ambiguous for
// days <= 12; the first match wins.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999Z",
	"2006-01-02T15:04:05Z",
	"2006-1-2 15:04:05",
	"2006-1-2",
	"1/2/2006 15:04:05",
	"2/1/2006 15:04:05",
}

// ParseTimestamp converts v into TimestampLayout. Lists contribute their first
// element, numbers are Unix epoch seconds. Missing, empty and zero values return
// ("", nil); anything else that cannot be read returns ErrUnparseableTimestamp.
func ParseTimestamp(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case []any:
		if len(val) == 0 {
			return "", nil
		}
		return ParseTimestamp(val[0])
	case []string:
		if len(val) == 0 {
			return "", nil
		}
		return ParseTimestamp(val[0])
	case string:
		return parseTimestampString(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrUnparseableTimestamp, val.String())
		}
		return fromEpoch(f)
	case float64:
		return fromEpoch(val)
	case float32:
		return fromEpoch(float64(val))
	case int:
		return fromEpoch(float64(val))
	case int64:
		return fromEpoch(float64(val))
	default:
		return "", fmt.Errorf("%w: unsupported type %T", ErrUnparseableTimestamp, v)
	}
}

// FormatTime renders t in TimestampLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func parseTimestampString(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return FormatTime(t), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnparseableTimestamp, s)
}

// Epoch seconds must land in years 0000-9999 so the output parses back.
var (
	minEpoch = float64(time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Unix())
	maxEpoch = float64(time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC).Unix())
)

func fromEpoch(sec float64) (string, error) {
	if sec == 0 {
		return "", nil
	}
	if math.IsNaN(sec) || math.IsInf(sec, 0) || sec < minEpoch || sec >= maxEpoch {
		return "", fmt.Errorf("%w: epoch %v out of range", ErrUnparseableTimestamp, sec)
	}
	whole, frac := math.Modf(sec)
	micros := math.Round(frac * 1e6)
	t := time.Unix(int64(whole), int64(micros)*int64(time.Microsecond)).UTC()
	if t.Year() > 9999 {
		return "", fmt.Errorf("%w: epoch %v out of range", ErrUnparseableTimestamp, sec)
	}
	return FormatTime(t), nil
}
