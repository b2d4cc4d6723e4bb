package export

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "Loja 1", "Loja 1"},
		{"bytes", []byte("abc"), "abc"},
		{"date", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "2024-03-01"},
		{"timestamp", time.Date(2024, 3, 1, 13, 4, 5, 0, time.UTC), "2024-03-01 13:04:05"},
		{"float", 10.5, "10.5"},
		{"whole float", 3.0, "3"},
		{"int64", int64(-42), "-42"},
		{"int", 7, "7"},
		{"bool", true, "true"},
		{"duration", 2 * time.Second, "2s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.in))
		})
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	for _, in := range []any{
		"2024-03-15",
		"2024-03-15 10:11:12",
		"2024-03-15T10:11:12Z",
		"15/03/2024",
		[]byte("2024-03-15"),
		time.Date(2024, 3, 15, 23, 59, 0, 0, time.FixedZone("BRT", -3*3600)),
	} {
		got, ok := ParseDate(in)
		assert.True(t, ok, "%v", in)
		assert.Equal(t, want, got, "%v", in)
	}

	for _, in := range []any{nil, "", "not a date", 42} {
		_, ok := ParseDate(in)
		assert.False(t, ok, "%v", in)
	}
}

func TestMonthKey(t *testing.T) {
	assert.Equal(t, "03.2024", MonthKey(time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "12.2023", MonthKey(time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)))
}
