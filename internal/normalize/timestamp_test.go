package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{name: "iso with microseconds", input: "2024-03-05T10:11:12.123456Z", want: "2024-03-05T10:11:12.123456Z"},
		{name: "iso with milliseconds", input: "2024-03-05T10:11:12.5Z", want: "2024-03-05T10:11:12.500000Z"},
		{name: "iso without fraction", input: "2024-03-05T10:11:12Z", want: "2024-03-05T10:11:12.000000Z"},
		{name: "space separated", input: "2024-03-05 10:11:12", want: "2024-03-05T10:11:12.000000Z"},
		{name: "date only", input: "2024-03-05", want: "2024-03-05T00:00:00.000000Z"},
		{name: "us format", input: "03/05/2024 10:11:12", want: "2024-03-05T10:11:12.000000Z"},
		{name: "european format when month is out of range", input: "25/12/2023 08:00:00", want: "2023-12-25T08:00:00.000000Z"},
		{name: "ambiguous day month resolves as month first", input: "04/05/2024 00:00:00", want: "2024-04-05T00:00:00.000000Z"},
		{name: "epoch seconds", input: float64(1700000000), want: "2023-11-14T22:13:20.000000Z"},
		{name: "epoch with fraction", input: 1700000000.25, want: "2023-11-14T22:13:20.250000Z"},
		{name: "epoch int", input: 1700000000, want: "2023-11-14T22:13:20.000000Z"},
		{name: "json number", input: json.Number("1700000000"), want: "2023-11-14T22:13:20.000000Z"},
		{name: "first list element", input: []any{"2024-03-05", "1999-01-01"}, want: "2024-03-05T00:00:00.000000Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTimestamp_Absent(t *testing.T) {
	for _, input := range []any{nil, "", []any{}, float64(0)} {
		got, err := ParseTimestamp(input)
		assert.NoError(t, err)
		assert.Empty(t, got)
	}
}

func TestParseTimestamp_Unparseable(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{name: "free text", input: "last tuesday"},
		{name: "whitespace", input: "   "},
		{name: "invalid calendar date", input: "2024-13-45"},
		{name: "bool", input: true},
		{name: "map", input: map[string]any{"ts": 1}},
		{name: "list of garbage", input: []any{"yesterday"}},
		{name: "epoch past year 9999", input: 1e15},
		{name: "millisecond epoch", input: json.Number("253402300800000")},
		{name: "epoch beyond int64", input: 1e300},
		{name: "negative epoch before year 0", input: -1e12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			assert.ErrorIs(t, err, ErrUnparseableTimestamp)
			assert.Empty(t, got)
		})
	}
}

func TestParseTimestamp_Idempotent(t *testing.T) {
	inputs := []any{
		"2024-03-05T10:11:12.123456Z",
		"2024-03-05T10:11:12Z",
		"2024-03-05 10:11:12",
		"2024-03-05",
		"03/05/2024 10:11:12",
		"25/12/2023 08:00:00",
		1700000000.654321,
		[]any{"2020-02-29"},
		float64(253402300799),
		-62167219200,
	}

	for _, input := range inputs {
		once, err := ParseTimestamp(input)
		require.NoError(t, err)
		twice, err := ParseTimestamp(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "input %v", input)
	}
}

func TestFormatTime(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	ts := time.Date(2024, 1, 2, 5, 4, 5, 123456789, loc)

	assert.Equal(t, "2024-01-02T03:04:05.123456Z", FormatTime(ts))
}
