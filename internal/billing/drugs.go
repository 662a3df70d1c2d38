package billing

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/drfirst/go-rxcharge/internal/domain/prescription"
	"github.com/drfirst/go-rxcharge/internal/pricing/allocation"
	"github.com/drfirst/go-rxcharge/internal/pricing/sources"
)

// CalculateDrugCharges prices the dispensed lines of rx against the pharmacy's
// stock. Lines that cannot be priced are kept with a reason.
func (c *Calculator) CalculateDrugCharges(rx *prescription.Prescription, pc PharmacyContext) DrugCharges {
	return c.drugCharges(rx, pc, QuoteOptions{})
}

func (c *Calculator) drugCharges(rx *prescription.Prescription, pc PharmacyContext, opts QuoteOptions) DrugCharges {
	drugs := DrugCharges{TotalCost: decimal.Zero, MedicationBreakdown: []MedicationCharge{}}
	for _, line := range rx.Lines {
		if !line.IsDispensed && !opts.AssumeDispensedForAvailable {
			continue
		}
		mc := c.priceLine(line, pc, opts.IgnoreAvailability)
		if opts.AssumeDispensedForAvailable && errors.Is(mc.Err, ErrMissingPrice) {
			continue
		}
		drugs.MedicationBreakdown = append(drugs.MedicationBreakdown, mc)
		drugs.TotalCost = drugs.TotalCost.Add(mc.TotalCost)
	}
	return drugs
}

func (c *Calculator) priceLine(line prescription.MedicationLine, pc PharmacyContext, ignoreAvailability bool) MedicationCharge {
	req := c.resolver.Requirement(line)
	mc := MedicationCharge{
		Name:       line.Name,
		DosageForm: line.DosageForm,
		Unit:       req.Unit,
		TotalCost:  decimal.Zero,
		Allocation: allocation.Allocate(req.Quantity, nil),
	}
	if !req.Resolvable() {
		return mc.fail(ErrUnresolvableQuantity)
	}

	set := c.builder.Build(line, req, pc.Snapshot, sources.Options{IncludeDepleted: ignoreAvailability})
	mc.Fuzzy = set.Fuzzy
	if len(set.Sources) == 0 {
		if set.Matched > 0 && set.Unpriced > 0 {
			return mc.fail(ErrMissingPrice)
		}
		return mc.fail(ErrNoMatchingSource)
	}

	if ignoreAvailability {
		mc.Allocation = allocation.PriceAtFirstSource(req.Quantity, set.Sources)
	} else {
		mc.Allocation = allocation.Allocate(req.Quantity, set.Sources)
	}
	mc.Found = true
	mc.Partial = !mc.Allocation.FullyAllocated
	mc.TotalCost = decimal.NewFromFloat(mc.Allocation.TotalCost).Round(2)
	return mc
}

func (mc MedicationCharge) fail(err error) MedicationCharge {
	mc.Found = false
	mc.Err = err
	mc.Reason = err.Error()
	return mc
}
