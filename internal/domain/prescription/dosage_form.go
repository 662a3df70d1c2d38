package prescription

import (
	"strings"
)

// Category is the quantity policy a dosage form is priced under.
type Category int

const (
	// CategoryExplicitCount covers creams, ointments, packets, suppositories and
	// every other form priced by an explicit count.
	CategoryExplicitCount Category = iota
	// CategoryMeasured covers liquids dispensed by measured volume (ml).
	CategoryMeasured
	// CategoryDosed covers tablets, capsules and bottled liquids priced by the
	// administered amount.
	CategoryDosed
)

func (c Category) String() string {
	switch c {
	case CategoryMeasured:
		return "measured"
	case CategoryDosed:
		return "dosed"
	default:
		return "explicit_count"
	}
}

// DosageForm is a parsed dosage-form label.
type DosageForm struct {
	Raw      string
	Category Category
	// Liquid is set for every liquid variant, measured or bottled.
	Liquid bool
	// BottleCounted is set for liquids prescribed as a number of whole bottles.
	BottleCounted bool
}

// Volumetric reports whether the form may be priced per ml.
func (f DosageForm) Volumetric() bool {
	return f.Category == CategoryMeasured || (f.Liquid && !f.BottleCounted)
}

// dosageForms maps normalised labels to forms. Labels not listed here are
// explicit-count forms.
var dosageForms = map[string]DosageForm{
	"liquid (measured)": {Category: CategoryMeasured, Liquid: true},
	"measured liquid":   {Category: CategoryMeasured, Liquid: true},
	"liquid (bottles)":  {Category: CategoryDosed, Liquid: true, BottleCounted: true},
	"liquid (bottle)":   {Category: CategoryDosed, Liquid: true, BottleCounted: true},
	"bottle":            {Category: CategoryDosed, Liquid: true, BottleCounted: true},
	"bottles":           {Category: CategoryDosed, Liquid: true, BottleCounted: true},
	"liquid":            {Category: CategoryDosed, Liquid: true},
	"syrup":             {Category: CategoryDosed, Liquid: true},
	"suspension":        {Category: CategoryDosed, Liquid: true},
	"tablet":            {Category: CategoryDosed},
	"tablets":           {Category: CategoryDosed},
	"tab":               {Category: CategoryDosed},
	"capsule":           {Category: CategoryDosed},
	"capsules":          {Category: CategoryDosed},
	"cap":               {Category: CategoryDosed},
}

// ParseDosageForm resolves a free-text dosage form label.
func ParseDosageForm(raw string) DosageForm {
	form, ok := dosageForms[normalizeLabel(raw)]
	if !ok {
		form = DosageForm{Category: CategoryExplicitCount}
	}
	form.Raw = raw
	return form
}

func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
