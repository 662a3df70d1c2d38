// Package quantity decides how much of a medication a prescription line requires.
package quantity

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/drfirst/go-rxcharge/internal/domain/prescription"
	"github.com/drfirst/go-rxcharge/internal/pricing/units"
)

// Unit is the unit a requirement is expressed in.
type Unit string

const (
	UnitCount Unit = "unit"
	UnitML    Unit = "ml"
)

// Requirement is the resolved quantity of a line.
type Requirement struct {
	Quantity float64
	Unit     Unit
	Form     prescription.DosageForm
}

// Volumetric reports whether the requirement is in millilitres.
func (r Requirement) Volumetric() bool { return r.Unit == UnitML }

// Resolvable reports whether a positive quantity was produced.
func (r Requirement) Resolvable() bool { return r.Quantity > 0 }

// Resolver applies the dosage-form quantity policies. It holds no state.
type Resolver struct{}

// NewResolver creates a resolver.
func NewResolver() *Resolver { return &Resolver{} }

// Resolve returns the requested quantity for a line, or 0 when it cannot be
// priced.
func (r *Resolver) Resolve(line prescription.MedicationLine) float64 {
	return r.Requirement(line).Quantity
}

// Requirement resolves a line into a quantity and its unit.
func (r *Resolver) Requirement(line prescription.MedicationLine) Requirement {
	form := line.Form()
	switch form.Category {
	case prescription.CategoryMeasured:
		return Requirement{Quantity: LiquidVolumeML(line), Unit: UnitML, Form: form}
	case prescription.CategoryExplicitCount:
		return Requirement{Quantity: explicitCount(line.Qts), Unit: UnitCount, Form: form}
	default:
		return resolveDosed(line, form)
	}
}

func resolveDosed(line prescription.MedicationLine, form prescription.DosageForm) Requirement {
	if form.Liquid && !form.BottleCounted {
		if ml := LiquidVolumeML(line); ml > 0 {
			return Requirement{Quantity: ml, Unit: UnitML, Form: form}
		}
	}
	if amount, ok := units.ExtractNumericMagnitude(line.AdministeredAmount()); ok && amount > 0 {
		return Requirement{Quantity: amount, Unit: UnitCount, Form: form}
	}
	return Requirement{Quantity: explicitCount(line.Qts), Unit: UnitCount, Form: form}
}

// LiquidVolumeML is strength (ml per dose) x doses per day x days. Any factor
// that does not resolve makes the whole volume 0.
func LiquidVolumeML(line prescription.MedicationLine) float64 {
	perDose, ok := units.ToCanonicalVolumeML(line.Strength, line.StrengthUnit)
	if !ok || perDose <= 0 {
		return 0
	}
	doses := DosesPerDay(line.Frequency)
	days := DurationDays(line.Duration)
	if doses <= 0 || days <= 0 {
		return 0
	}
	return perDose * doses * float64(days)
}

func explicitCount(raw string) float64 {
	v, ok := units.ExtractNumericMagnitude(raw)
	if !ok {
		return 0
	}
	n := math.Floor(v)
	if n < 1 {
		return 0
	}
	return n
}

var frequencies = map[string]float64{
	"once daily":        1,
	"once a day":        1,
	"daily":             1,
	"od":                1,
	"qd":                1,
	"twice daily":       2,
	"twice a day":       2,
	"bd":                2,
	"bid":               2,
	"three times daily": 3,
	"three times a day": 3,
	"tds":               3,
	"tid":               3,
	"four times daily":  4,
	"four times a day":  4,
	"qds":               4,
	"qid":               4,
	"every 4 hours":     6,
	"every 6 hours":     4,
	"every 8 hours":     3,
	"every 12 hours":    2,
	"every other day":   0.5,
	"alternate days":    0.5,
	"weekly":            1.0 / 7,
	"once weekly":       1.0 / 7,
	"once a week":       1.0 / 7,
	"monthly":           1.0 / 30,
	"once monthly":      1.0 / 30,
	"once a month":      1.0 / 30,
	"stat":              1,
}

var hourlyPattern = regexp.MustCompile(`^every (\d+) ?(h|hr|hrs|hour|hours)$`)

// DosesPerDay maps a frequency phrase to doses per day; unrecognised phrases
// give 0.
func DosesPerDay(frequency string) float64 {
	f := strings.Join(strings.Fields(strings.ToLower(frequency)), " ")
	f = strings.TrimSuffix(f, ".")
	if f == "" {
		return 0
	}
	if v, ok := frequencies[f]; ok {
		return v
	}
	if m := hourlyPattern.FindStringSubmatch(f); m != nil {
		return frequencies["every "+m[1]+" hours"]
	}
	return 0
}

var durationPattern = regexp.MustCompile(`(?i)^\s*(\d+)\s*days?\b`)

// DurationDays extracts the leading day count from a duration phrase. Week and
// month phrases are not converted and give 0.
func DurationDays(duration string) int {
	m := durationPattern.FindStringSubmatch(duration)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 0 {
		return 0
	}
	return n
}
