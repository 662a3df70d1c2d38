package billing

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/drfirst/go-rxcharge/internal/domain/prescription"
)

var hundred = decimal.NewFromInt(100)

// CalculateDoctorCharges prices consultation, hospital and procedures and
// applies the prescription's discount. Procedures are never discounted.
func (c *Calculator) CalculateDoctorCharges(rx *prescription.Prescription, profile *DoctorFeeProfile) DoctorCharges {
	dc := DoctorCharges{
		ConsultationCharge: decimal.Zero,
		HospitalCharge:     decimal.Zero,
		ProcedureCharges:   decimal.Zero,
		DiscountPercent:    decimal.NewFromFloat(rx.DiscountPercent),
		DiscountScope:      rx.DiscountScope,
	}
	if profile != nil {
		if !rx.ExcludeConsultationCharge {
			dc.ConsultationCharge = profile.ConsultationCharge
		}
		dc.HospitalCharge = profile.HospitalCharge
	}

	for _, name := range rx.Procedures {
		pc := priceProcedure(name, rx, profile)
		dc.Procedures = append(dc.Procedures, pc)
		dc.ProcedureCharges = dc.ProcedureCharges.Add(pc.Price)
	}

	base := dc.ConsultationCharge
	if rx.DiscountScope == prescription.DiscountScopeConsultationHospital {
		base = base.Add(dc.HospitalCharge)
	}
	dc.DiscountAmount = decimal.Zero
	if dc.DiscountPercent.IsPositive() {
		dc.DiscountAmount = base.Mul(dc.DiscountPercent).Div(hundred).Round(2)
	}

	dc.TotalBeforeDiscount = dc.ConsultationCharge.Add(dc.HospitalCharge).Add(dc.ProcedureCharges)
	dc.TotalAfterDiscount = dc.TotalBeforeDiscount.Sub(dc.DiscountAmount)
	return dc
}

func priceProcedure(name string, rx *prescription.Prescription, profile *DoctorFeeProfile) ProcedureCharge {
	if strings.EqualFold(strings.TrimSpace(name), prescription.ProcedureOther) {
		return ProcedureCharge{Name: name, Price: decimal.NewFromFloat(rx.OtherProcedurePrice), Priced: true}
	}
	if profile == nil {
		return ProcedureCharge{Name: name, Price: decimal.Zero}
	}
	if price, ok := profile.ProcedurePricing[name]; ok {
		return ProcedureCharge{Name: name, Price: price, Priced: true}
	}
	for label, price := range profile.ProcedurePricing {
		if strings.EqualFold(label, strings.TrimSpace(name)) {
			return ProcedureCharge{Name: name, Price: price, Priced: true}
		}
	}
	return ProcedureCharge{Name: name, Price: decimal.Zero}
}
