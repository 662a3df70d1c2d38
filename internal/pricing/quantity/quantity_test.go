package quantity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drfirst/go-rxcharge/internal/domain/prescription"
)

func TestResolveMeasuredLiquid(t *testing.T) {
	r := NewResolver()
	line := prescription.MedicationLine{
		Name:         "Paracetamol Syrup",
		DosageForm:   "Liquid (measured)",
		Strength:     "5",
		StrengthUnit: "ml",
		Frequency:    "four times daily",
		Duration:     "1 days",
	}

	req := r.Requirement(line)
	assert.Equal(t, 20.0, req.Quantity)
	assert.Equal(t, UnitML, req.Unit)
	assert.True(t, req.Volumetric())
}

func TestResolveMeasuredLiquidUnresolvableFactor(t *testing.T) {
	r := NewResolver()
	base := prescription.MedicationLine{
		DosageForm:   "Liquid (measured)",
		Strength:     "5",
		StrengthUnit: "ml",
		Frequency:    "twice daily",
		Duration:     "3 days",
	}
	assert.Equal(t, 30.0, r.Resolve(base))

	tests := map[string]func(l *prescription.MedicationLine){
		"unknown frequency": func(l *prescription.MedicationLine) { l.Frequency = "whenever" },
		"weeks duration":    func(l *prescription.MedicationLine) { l.Duration = "2 weeks" },
		"unit-only duration": func(l *prescription.MedicationLine) {
			l.Duration = "days"
		},
		"mass strength": func(l *prescription.MedicationLine) { l.StrengthUnit = "mg" },
		"no strength":   func(l *prescription.MedicationLine) { l.Strength = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			line := base
			mutate(&line)
			assert.Equal(t, 0.0, r.Resolve(line))
		})
	}
}

func TestResolveExplicitCount(t *testing.T) {
	r := NewResolver()
	tests := []struct {
		form string
		qts  string
		want float64
	}{
		{"Cream", "3", 3},
		{"Ointment", "2.7", 2},
		{"Packet", "0.5", 0},
		{"Suppository", "-1", 0},
		{"Shampoo", "two", 0},
		{"Inhaler", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.form+"/"+tt.qts, func(t *testing.T) {
			req := r.Requirement(prescription.MedicationLine{DosageForm: tt.form, Qts: tt.qts, Amount: "9"})
			assert.Equal(t, tt.want, req.Quantity)
			assert.Equal(t, UnitCount, req.Unit)
		})
	}
}

func TestResolveDosed(t *testing.T) {
	r := NewResolver()

	t.Run("bottle form counts bottles", func(t *testing.T) {
		line := prescription.MedicationLine{
			DosageForm:   "Liquid (bottles)",
			Strength:     "100",
			StrengthUnit: "ml",
			Frequency:    "three times daily",
			Duration:     "5 days",
			Amount:       "2",
		}
		req := r.Requirement(line)
		assert.Equal(t, 2.0, req.Quantity)
		assert.Equal(t, UnitCount, req.Unit)
	})

	t.Run("tablet amount", func(t *testing.T) {
		assert.Equal(t, 10.0, r.Resolve(prescription.MedicationLine{DosageForm: "Tablet", Amount: "10"}))
	})

	t.Run("dosage alias", func(t *testing.T) {
		assert.Equal(t, 14.0, r.Resolve(prescription.MedicationLine{DosageForm: "Capsule", Dosage: "14"}))
	})

	t.Run("qts as last resort", func(t *testing.T) {
		assert.Equal(t, 4.0, r.Resolve(prescription.MedicationLine{DosageForm: "Tablet", Qts: "4"}))
	})

	t.Run("syrup uses volume when it resolves", func(t *testing.T) {
		line := prescription.MedicationLine{
			DosageForm:   "Syrup",
			Strength:     "10",
			StrengthUnit: "ml",
			Frequency:    "twice daily",
			Duration:     "3 days",
			Amount:       "1",
		}
		req := r.Requirement(line)
		assert.Equal(t, 60.0, req.Quantity)
		assert.True(t, req.Volumetric())
	})

	t.Run("syrup falls back to amount", func(t *testing.T) {
		req := r.Requirement(prescription.MedicationLine{DosageForm: "Syrup", Amount: "1", Duration: "2 weeks"})
		assert.Equal(t, 1.0, req.Quantity)
		assert.False(t, req.Volumetric())
	})
}

func TestDosesPerDay(t *testing.T) {
	tests := map[string]float64{
		"Once daily":        1,
		"twice daily":       2,
		"three times daily": 3,
		"Four times daily":  4,
		"every 4h":          6,
		"every 6 hours":     4,
		"Every 8 hrs":       3,
		"every 12h":         2,
		"every other day":   0.5,
		"weekly":            1.0 / 7,
		"monthly":           1.0 / 30,
		"STAT":              1,
		"every 3 hours":     0,
		"as needed":         0,
		"":                  0,
	}
	for phrase, want := range tests {
		assert.InDelta(t, want, DosesPerDay(phrase), 1e-12, phrase)
	}
}

func TestDurationDays(t *testing.T) {
	tests := map[string]int{
		"1 days":    1,
		"5 day":     5,
		"7days":     7,
		" 10 Days ": 10,
		"2 weeks":   0,
		"1 month":   0,
		"weeks":     0,
		"days":      0,
		"":          0,
	}
	for phrase, want := range tests {
		assert.Equal(t, want, DurationDays(phrase), phrase)
	}
}
