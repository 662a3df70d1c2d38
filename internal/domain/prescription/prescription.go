// Package prescription holds the prescription model consumed by the pricing engine.
package prescription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DiscountScope selects which doctor charges a discount applies to.
type DiscountScope string

const (
	DiscountScopeConsultation         DiscountScope = "consultation"
	DiscountScopeConsultationHospital DiscountScope = "consultation_hospital"
)

// ProcedureOther is the catch-all procedure priced from OtherProcedurePrice.
const ProcedureOther = "Other"

// MatchRef points at an inventory row, and optionally one of its batches,
// that was already resolved for a line (for example by a search in the UI).
type MatchRef struct {
	InventoryItemID string `json:"inventoryItemId"`
	BatchID         string `json:"batchId,omitempty"`
}

// MedicationLine is one medication on a prescription.
type MedicationLine struct {
	Name         string     `json:"name"`
	GenericName  string     `json:"genericName,omitempty"`
	DosageForm   string     `json:"dosageForm"`
	Strength     string     `json:"strength,omitempty"`
	StrengthUnit string     `json:"strengthUnit,omitempty"`
	Qts          string     `json:"qts,omitempty"`
	Amount       string     `json:"amount,omitempty"`
	Dosage       string     `json:"dosage,omitempty"`
	Frequency    string     `json:"frequency,omitempty"`
	Duration     string     `json:"duration,omitempty"`
	IsDispensed  bool       `json:"isDispensed"`
	Matches      []MatchRef `json:"matches,omitempty"`
}

// Form returns the parsed dosage form of the line.
func (l MedicationLine) Form() DosageForm {
	return ParseDosageForm(l.DosageForm)
}

// AdministeredAmount returns Amount, falling back to the Dosage alias.
func (l MedicationLine) AdministeredAmount() string {
	if strings.TrimSpace(l.Amount) != "" {
		return l.Amount
	}
	return l.Dosage
}

// Prescription is a doctor's prescription with its billing settings.
type Prescription struct {
	ID                        string           `json:"id"`
	DoctorID                  string           `json:"doctorId"`
	PatientID                 string           `json:"patientId,omitempty"`
	Lines                     []MedicationLine `json:"medications"`
	Procedures                []string         `json:"procedures,omitempty"`
	OtherProcedurePrice       float64          `json:"otherProcedurePrice,omitempty"`
	DiscountPercent           float64          `json:"discountPercent,omitempty"`
	DiscountScope             DiscountScope    `json:"discountScope,omitempty"`
	ExcludeConsultationCharge bool             `json:"excludeConsultationCharge,omitempty"`
	CreatedAt                 time.Time        `json:"createdAt"`
}

// ValidationError describes an invalid prescription field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid prescription: %s: %s", e.Field, e.Message)
}

// Validate checks a prescription at ingestion.
func (p *Prescription) Validate() error {
	var errs []error
	if p.ID == "" {
		errs = append(errs, &ValidationError{Field: "id", Message: "required"})
	}
	if p.DiscountPercent < 0 || p.DiscountPercent > 100 {
		errs = append(errs, &ValidationError{Field: "discountPercent", Message: "must be between 0 and 100"})
	}
	switch p.DiscountScope {
	case "", DiscountScopeConsultation, DiscountScopeConsultationHospital:
	default:
		errs = append(errs, &ValidationError{Field: "discountScope", Message: fmt.Sprintf("unknown scope %q", p.DiscountScope)})
	}
	for i, line := range p.Lines {
		if strings.TrimSpace(line.Name) == "" && strings.TrimSpace(line.GenericName) == "" {
			errs = append(errs, &ValidationError{Field: fmt.Sprintf("medications[%d].name", i), Message: "required"})
		}
		if strings.TrimSpace(line.DosageForm) == "" {
			errs = append(errs, &ValidationError{Field: fmt.Sprintf("medications[%d].dosageForm", i), Message: "required"})
		}
	}
	return errors.Join(errs...)
}

// Source loads prescriptions by ID.
type Source interface {
	GetPrescription(ctx context.Context, id string) (*Prescription, error)
}

// ErrNotFound is returned by sources when a prescription does not exist.
var ErrNotFound = errors.New("prescription not found")
