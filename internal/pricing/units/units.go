// Package units parses free-form strength, volume and price text into canonical magnitudes.
package units

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Dimension identifies the measurement system of a canonical magnitude.
type Dimension int

const (
	DimensionNone Dimension = iota
	DimensionVolume
	DimensionMass
)

func (d Dimension) String() string {
	switch d {
	case DimensionVolume:
		return "volume"
	case DimensionMass:
		return "mass"
	default:
		return "none"
	}
}

// Magnitude is a value expressed in the canonical unit of its dimension
// (ml for volume, g for mass).
type Magnitude struct {
	Value     float64
	Dimension Dimension
}

// Equal reports whether two magnitudes describe the same quantity.
func (m Magnitude) Equal(other Magnitude) bool {
	if m.Dimension != other.Dimension {
		return false
	}
	return math.Abs(m.Value-other.Value) < 1e-9*math.Max(1, math.Abs(m.Value))
}

var (
	numberPattern = regexp.MustCompile(`[-+]?(?:\d+\.?\d*|\.\d+)`)
	unitPattern   = regexp.MustCompile(`[a-zµ]+`)
)

// factor to the canonical unit of the dimension
type unitDef struct {
	dim    Dimension
	factor float64
}

var unitTable = map[string]unitDef{
	"ml":          {DimensionVolume, 1},
	"mls":         {DimensionVolume, 1},
	"cc":          {DimensionVolume, 1},
	"millilitre":  {DimensionVolume, 1},
	"millilitres": {DimensionVolume, 1},
	"milliliter":  {DimensionVolume, 1},
	"milliliters": {DimensionVolume, 1},
	"l":           {DimensionVolume, 1000},
	"litre":       {DimensionVolume, 1000},
	"litres":      {DimensionVolume, 1000},
	"liter":       {DimensionVolume, 1000},
	"liters":      {DimensionVolume, 1000},
	"mcg":         {DimensionMass, 1e-6},
	"µg":          {DimensionMass, 1e-6},
	"ug":          {DimensionMass, 1e-6},
	"mg":          {DimensionMass, 1e-3},
	"g":           {DimensionMass, 1},
	"gm":          {DimensionMass, 1},
	"gms":         {DimensionMass, 1},
	"gram":        {DimensionMass, 1},
	"grams":       {DimensionMass, 1},
	"kg":          {DimensionMass, 1000},
}

// ExtractNumericMagnitude returns the first signed decimal token in raw after
// stripping thousands separators. Exponent notation is not recognised.
func ExtractNumericMagnitude(raw string) (float64, bool) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if cleaned == "" {
		return 0, false
	}
	token := numberPattern.FindString(cleaned)
	if token == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(token, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ToCanonicalVolumeML converts text such as "100 ml", "1 l" or a bare "5" with
// a separate unit hint to millilitres. A bare number with no unit at all is
// taken as millilitres. Mass units and text without a number yield false.
func ToCanonicalVolumeML(text, unitHint string) (float64, bool) {
	value, ok := ExtractNumericMagnitude(text)
	if !ok {
		return 0, false
	}
	unit := embeddedUnit(text)
	if unit == "" {
		unit = normalizeUnit(unitHint)
	}
	if unit == "" {
		return value, true
	}
	def, known := unitTable[unit]
	if !known || def.dim != DimensionVolume {
		return 0, false
	}
	return value * def.factor, true
}

// ToCanonicalMagnitude converts text plus an optional unit hint to a canonical
// mass (g) or volume (ml). Unitless or unknown-unit text yields false.
func ToCanonicalMagnitude(text, unitHint string) (Magnitude, bool) {
	value, ok := ExtractNumericMagnitude(text)
	if !ok {
		return Magnitude{}, false
	}
	unit := embeddedUnit(text)
	if unit == "" {
		unit = normalizeUnit(unitHint)
	}
	def, known := unitTable[unit]
	if !known {
		return Magnitude{}, false
	}
	return Magnitude{Value: value * def.factor, Dimension: def.dim}, true
}

// IsVolumeUnit reports whether unit names a volume unit.
func IsVolumeUnit(unit string) bool {
	def, ok := unitTable[normalizeUnit(unit)]
	return ok && def.dim == DimensionVolume
}

func embeddedUnit(text string) string {
	lower := strings.ToLower(strings.ReplaceAll(text, ",", ""))
	loc := numberPattern.FindStringIndex(lower)
	if loc == nil {
		return ""
	}
	return unitPattern.FindString(lower[loc[1]:])
}

func normalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	u = strings.TrimSuffix(u, ".")
	return u
}
