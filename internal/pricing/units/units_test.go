package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractNumericMagnitude(t *testing.T) {
	tests := []struct {
		raw    string
		want   float64
		wantOK bool
	}{
		{"420", 420, true},
		{"1,200.50", 1200.5, true},
		{"  -3.5 units", -3.5, true},
		{"Rs. 171", 171, true},
		{".5", 0.5, true},
		{"", 0, false},
		{"n/a", 0, false},
		{"1e3", 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ExtractNumericMagnitude(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestToCanonicalVolumeML(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		hint   string
		want   float64
		wantOK bool
	}{
		{"embedded ml", "100 ml", "", 100, true},
		{"embedded litre", "1 l", "", 1000, true},
		{"compact litre", "1.5L", "", 1500, true},
		{"hint", "5", "ml", 5, true},
		{"litre hint", "2", "litres", 2000, true},
		{"bare number", "5", "", 5, true},
		{"embedded wins over hint", "250 ml", "l", 250, true},
		{"mass unit", "500", "mg", 0, false},
		{"no number", "ml", "ml", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToCanonicalVolumeML(tt.text, tt.hint)
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestToCanonicalMagnitude(t *testing.T) {
	m, ok := ToCanonicalMagnitude("15", "g")
	assert.True(t, ok)
	assert.Equal(t, Magnitude{Value: 15, Dimension: DimensionMass}, m)

	kg, ok := ToCanonicalMagnitude("0.015 kg", "")
	assert.True(t, ok)
	assert.True(t, m.Equal(kg))

	ml, ok := ToCanonicalMagnitude("15", "ml")
	assert.True(t, ok)
	assert.False(t, m.Equal(ml), "mass and volume never compare equal")

	_, ok = ToCanonicalMagnitude("15", "")
	assert.False(t, ok)
}

func TestIsVolumeUnit(t *testing.T) {
	assert.True(t, IsVolumeUnit("ml"))
	assert.True(t, IsVolumeUnit(" L "))
	assert.False(t, IsVolumeUnit("mg"))
	assert.False(t, IsVolumeUnit(""))
}
