package amount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHumanToRaw(t *testing.T) {
	tests := []struct {
		name     string
		human    string
		decimals int32
		want     string
		wantErr  bool
	}{
		{name: "eth style", human: "1.5", decimals: 18, want: "1500000000000000000"},
		{name: "whole number", human: "42", decimals: 6, want: "42000000"},
		{name: "zero decimals", human: "7", decimals: 0, want: "7"},
		{name: "leading dot", human: ".25", decimals: 6, want: "250000"},
		{name: "trailing dot", human: "3.", decimals: 2, want: "300"},
		{name: "full precision", human: "0.000001", decimals: 6, want: "1"},
		{name: "zero", human: "0", decimals: 18, want: "0"},
		{name: "excess zeros tolerated", human: "1.2300", decimals: 2, want: "123"},
		{name: "excess precision rejected", human: "0.0000001", decimals: 6, wantErr: true},
		{name: "negative rejected", human: "-1", decimals: 6, wantErr: true},
		{name: "garbage rejected", human: "1,5", decimals: 6, wantErr: true},
		{name: "empty rejected", human: "", decimals: 6, wantErr: true},
		{name: "large value", human: "123456789.987654321", decimals: 18, want: "123456789987654321000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HumanToRaw(tt.human, tt.decimals)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRawToHuman(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		decimals int32
		want     string
	}{
		{name: "eth style", raw: "1500000000000000000", decimals: 18, want: "1.5"},
		{name: "sub one", raw: "250000", decimals: 6, want: "0.25"},
		{name: "exact one", raw: "1000000", decimals: 6, want: "1"},
		{name: "zero", raw: "0", decimals: 18, want: "0"},
		{name: "zero decimals", raw: "123", decimals: 0, want: "123"},
		{name: "smallest unit", raw: "1", decimals: 18, want: "0.000000000000000001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RawToHuman(tt.raw, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	for _, human := range []string{"1.5", "0.000001", "99999.123456"} {
		raw, err := HumanToRaw(human, 6)
		require.NoError(t, err)
		back, err := RawToHuman(raw, 6)
		require.NoError(t, err)
		assert.Equal(t, human, back)
	}
}

func TestParseRaw(t *testing.T) {
	v, err := ParseRaw("1500000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", v.String())

	_, err = ParseRaw("abc")
	assert.Error(t, err)

	_, err = ParseRaw("-5")
	assert.Error(t, err)
}
