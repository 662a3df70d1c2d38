// Package billing computes doctor, procedure and drug charges for a prescription.
package billing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/drfirst/go-rxcharge/internal/domain/inventory"
	"github.com/drfirst/go-rxcharge/internal/domain/prescription"
	"github.com/drfirst/go-rxcharge/internal/pricing/allocation"
	"github.com/drfirst/go-rxcharge/internal/pricing/quantity"
	"github.com/drfirst/go-rxcharge/internal/pricing/sources"
)

// Line failures. The messages are shown to users as the line's reason.
var (
	ErrUnresolvableQuantity = errors.New("no quantity specified")
	ErrNoMatchingSource     = errors.New("not available in inventory")
	ErrMissingPrice         = errors.New("price missing in inventory")
)

// ErrProfileNotFound is returned by profile sources for unknown doctors.
var ErrProfileNotFound = errors.New("doctor fee profile not found")

// RoundingPreference controls how the final total is rounded.
type RoundingPreference string

const (
	RoundingNone       RoundingPreference = "none"
	RoundingNearest50  RoundingPreference = "nearest50"
	RoundingNearest100 RoundingPreference = "nearest100"
)

// DoctorFeeProfile is a doctor's fee schedule.
type DoctorFeeProfile struct {
	DoctorID           string                     `json:"doctorId"`
	ConsultationCharge decimal.Decimal            `json:"consultationCharge"`
	HospitalCharge     decimal.Decimal            `json:"hospitalCharge"`
	ProcedurePricing   map[string]decimal.Decimal `json:"procedurePricing,omitempty"`
	RoundingPreference RoundingPreference         `json:"roundingPreference"`
}

// ProfileSource loads doctor fee profiles.
type ProfileSource interface {
	GetFeeProfile(ctx context.Context, doctorID string) (*DoctorFeeProfile, error)
}

// ProcedureCharge is one priced procedure.
type ProcedureCharge struct {
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Priced bool            `json:"priced"`
}

// DoctorCharges holds consultation, hospital and procedure fees with the
// discount applied.
type DoctorCharges struct {
	ConsultationCharge  decimal.Decimal            `json:"consultationCharge"`
	HospitalCharge      decimal.Decimal            `json:"hospitalCharge"`
	ProcedureCharges    decimal.Decimal            `json:"procedureCharges"`
	Procedures          []ProcedureCharge          `json:"procedures,omitempty"`
	DiscountPercent     decimal.Decimal            `json:"discountPercent"`
	DiscountScope       prescription.DiscountScope `json:"discountScope,omitempty"`
	DiscountAmount      decimal.Decimal            `json:"discountAmount"`
	TotalBeforeDiscount decimal.Decimal            `json:"totalBeforeDiscount"`
	TotalAfterDiscount  decimal.Decimal            `json:"totalAfterDiscount"`
}

// MedicationCharge is the priced outcome of one medication line.
type MedicationCharge struct {
	Name       string            `json:"name"`
	DosageForm string            `json:"dosageForm"`
	Unit       quantity.Unit     `json:"unit"`
	Found      bool              `json:"found"`
	Reason     string            `json:"reason,omitempty"`
	Partial    bool              `json:"partial,omitempty"`
	Fuzzy      bool              `json:"fuzzyMatch,omitempty"`
	TotalCost  decimal.Decimal   `json:"totalCost"`
	Allocation allocation.Result `json:"allocation"`
	// Err is one of the line failure errors when Found is false.
	Err error `json:"-"`
}

// DrugCharges is the drug part of a bill.
type DrugCharges struct {
	TotalCost           decimal.Decimal    `json:"totalCost"`
	MedicationBreakdown []MedicationCharge `json:"medicationBreakdown"`
}

// ChargeBreakdown is the full bill of a prescription.
type ChargeBreakdown struct {
	PrescriptionID      string             `json:"prescriptionId"`
	DoctorCharges       DoctorCharges      `json:"doctorCharges"`
	DrugCharges         DrugCharges        `json:"drugCharges"`
	RoundingPreference  RoundingPreference `json:"roundingPreference"`
	TotalBeforeRounding decimal.Decimal    `json:"totalBeforeRounding"`
	RoundingAdjustment  decimal.Decimal    `json:"roundingAdjustment"`
	TotalCharge         decimal.Decimal    `json:"totalCharge"`
}

// PartialLines returns the names of lines priced for less than requested.
func (b *ChargeBreakdown) PartialLines() []string {
	var names []string
	for _, mc := range b.DrugCharges.MedicationBreakdown {
		if mc.Partial {
			names = append(names, mc.Name)
		}
	}
	return names
}

// PharmacyContext is the inventory a prescription is priced against.
type PharmacyContext struct {
	PharmacyID string
	Snapshot   []inventory.Item
}

// QuoteOptions tune CalculateExpectedChargeFromStock.
type QuoteOptions struct {
	// IgnoreAvailability prices each line at its first matching source's unit
	// cost without consuming stock.
	IgnoreAvailability bool
	// AssumeDispensedForAvailable prices every line as if dispensed and drops
	// lines whose price is missing instead of reporting them.
	AssumeDispensedForAvailable bool
}

// Calculator prices prescriptions. It is safe for concurrent use.
type Calculator struct {
	resolver *quantity.Resolver
	builder  *sources.Builder
}

// NewCalculator creates a calculator. Nil collaborators get defaults.
func NewCalculator(resolver *quantity.Resolver, builder *sources.Builder) *Calculator {
	if resolver == nil {
		resolver = quantity.NewResolver()
	}
	if builder == nil {
		builder = sources.NewBuilder()
	}
	return &Calculator{resolver: resolver, builder: builder}
}

// Charge computes the actual bill of rx against the pharmacy's stock.
func (c *Calculator) Charge(rx *prescription.Prescription, profile *DoctorFeeProfile, pc PharmacyContext) *ChargeBreakdown {
	return c.breakdown(rx, profile, c.CalculateDrugCharges(rx, pc))
}

// CalculateExpectedChargeFromStock estimates the bill before dispensing.
func (c *Calculator) CalculateExpectedChargeFromStock(rx *prescription.Prescription, profile *DoctorFeeProfile, pc PharmacyContext, opts QuoteOptions) *ChargeBreakdown {
	return c.breakdown(rx, profile, c.drugCharges(rx, pc, opts))
}

func (c *Calculator) breakdown(rx *prescription.Prescription, profile *DoctorFeeProfile, drugs DrugCharges) *ChargeBreakdown {
	doctor := c.CalculateDoctorCharges(rx, profile)
	pref := RoundingNone
	if profile != nil && profile.RoundingPreference != "" {
		pref = profile.RoundingPreference
	}
	before := Total(doctor, drugs)
	rounded := RoundTotalCharge(before, pref)
	return &ChargeBreakdown{
		PrescriptionID:      rx.ID,
		DoctorCharges:       doctor,
		DrugCharges:         drugs,
		RoundingPreference:  pref,
		TotalBeforeRounding: before,
		RoundingAdjustment:  rounded.Sub(before),
		TotalCharge:         rounded,
	}
}

// Total is the doctor charges after discount plus the drug cost.
func Total(doctor DoctorCharges, drugs DrugCharges) decimal.Decimal {
	return doctor.TotalAfterDiscount.Add(drugs.TotalCost)
}
