package parser

import (
	"testing"

	"github.com/resident-x/go-p1mini/internal/obis"
	"github.com/stretchr/testify/assert"
)

func TestParseSensorLine(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantKey   obis.Key
		wantValue float64
		wantOk    bool
	}{
		{
			name:      "full form with unit",
			line:      "1-0:1.8.0(00123.456*kWh)",
			wantKey:   obis.Encode(1, 8, 0),
			wantValue: 123.456,
			wantOk:    true,
		},
		{
			name:      "full form timestamp then value",
			line:      "0-1:24.2.3(240601120000W)(00042.125*m3)",
			wantKey:   obis.Encode(24, 2, 3),
			wantValue: 42.125,
			wantOk:    true,
		},
		{
			name:      "full form no numeric group keeps default",
			line:      "0-0:96.13.0()",
			wantKey:   obis.Encode(96, 13, 0),
			wantValue: -1.0,
			wantOk:    true,
		},
		{
			name:      "instantaneous power",
			line:      "1-0:1.7.0(01.250*kW)",
			wantKey:   obis.Encode(1, 7, 0),
			wantValue: 1.25,
			wantOk:    true,
		},
		{
			name:      "simple form",
			line:      "1.8.0(42.5)",
			wantKey:   obis.Encode(1, 8, 0),
			wantValue: 42.5,
			wantOk:    true,
		},
		{
			name:   "identification line",
			line:   "/ISk5\\2MT382-1000",
			wantOk: false,
		},
		{
			name:   "free text line",
			line:   "METER_ID:12345",
			wantOk: false,
		},
		{
			name:      "negative value",
			line:      "1-0:16.7.0(-00.325*kW)",
			wantKey:   obis.Encode(16, 7, 0),
			wantValue: -0.325,
			wantOk:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, value, ok := parseSensorLine(tt.line)
			assert.Equal(t, tt.wantOk, ok)
			if tt.wantOk {
				assert.Equal(t, tt.wantKey, key)
				assert.InDelta(t, tt.wantValue, value, 1e-9)
			}
		})
	}
}

func TestLooksLikeTimestamp(t *testing.T) {
	assert.True(t, looksLikeTimestamp("240601120000W"))
	assert.True(t, looksLikeTimestamp("240601120000S"))
	assert.True(t, looksLikeTimestamp("240601120000"))

	assert.False(t, looksLikeTimestamp("00123.456*kWh"))
	assert.False(t, looksLikeTimestamp("42.5"))
	// Short groups are never timestamps, even all-digit ones.
	assert.False(t, looksLikeTimestamp("1234567890"))
	// Long but not purely numeric and no DST suffix.
	assert.False(t, looksLikeTimestamp("0123456789*m3"))
}

func TestParseGroupValue(t *testing.T) {
	tests := []struct {
		content string
		want    float64
		ok      bool
	}{
		{"00123.456*kWh", 123.456, true},
		{"0042", 42, true},
		{"0.5", 0.5, true},
		{"00.325", 0.325, true},
		{"-1.5*kW", -1.5, true},
		{"", 0, false},
		{"kWh", 0, false},
		{"(", 0, false},
	}

	for _, tt := range tests {
		v, ok := parseGroupValue(tt.content)
		assert.Equal(t, tt.ok, ok, "content %q", tt.content)
		if tt.ok {
			assert.InDelta(t, tt.want, v, 1e-9, "content %q", tt.content)
		}
	}
}
