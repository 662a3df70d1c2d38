package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/drfirst/go-rxcharge/internal/billing"
	"github.com/drfirst/go-rxcharge/internal/domain/prescription"
)

// PrescriptionSource loads prescriptions stored as JSON documents.
type PrescriptionSource struct {
	pool *pgxpool.Pool
}

// NewPrescriptionSource creates a source on pool.
func NewPrescriptionSource(pool *pgxpool.Pool) *PrescriptionSource {
	return &PrescriptionSource{pool: pool}
}

// GetPrescription returns the prescription with id.
func (s *PrescriptionSource) GetPrescription(ctx context.Context, id string) (*prescription.Prescription, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM prescriptions WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", prescription.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get prescription: %w", err)
	}

	var rx prescription.Prescription
	if err := json.Unmarshal(body, &rx); err != nil {
		return nil, fmt.Errorf("decode prescription %s: %w", id, err)
	}
	return &rx, nil
}

// SavePrescription validates and stores rx.
func (s *PrescriptionSource) SavePrescription(ctx context.Context, rx *prescription.Prescription) error {
	if err := rx.Validate(); err != nil {
		return err
	}
	body, err := encodeJSON(rx)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO prescriptions (id, doctor_id, body) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET doctor_id = EXCLUDED.doctor_id, body = EXCLUDED.body`,
		rx.ID, rx.DoctorID, body)
	if err != nil {
		return fmt.Errorf("save prescription: %w", err)
	}
	return nil
}

// FeeProfileSource loads doctor fee profiles.
type FeeProfileSource struct {
	pool *pgxpool.Pool
}

// NewFeeProfileSource creates a source on pool.
func NewFeeProfileSource(pool *pgxpool.Pool) *FeeProfileSource {
	return &FeeProfileSource{pool: pool}
}

// GetFeeProfile returns the fee profile of doctorID. Amounts are read as
// text so no precision passes through floating point.
func (s *FeeProfileSource) GetFeeProfile(ctx context.Context, doctorID string) (*billing.DoctorFeeProfile, error) {
	var consultation, hospital, rounding string
	var pricing []byte
	err := s.pool.QueryRow(ctx, `
		SELECT consultation_charge::text, hospital_charge::text, procedure_pricing, rounding_preference
		FROM doctor_fee_profiles WHERE doctor_id = $1`, doctorID).Scan(&consultation, &hospital, &pricing, &rounding)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", billing.ErrProfileNotFound, doctorID)
	}
	if err != nil {
		return nil, fmt.Errorf("get fee profile: %w", err)
	}
	return decodeProfile(doctorID, consultation, hospital, pricing, rounding)
}

func decodeProfile(doctorID, consultation, hospital string, pricing []byte, rounding string) (*billing.DoctorFeeProfile, error) {
	p := &billing.DoctorFeeProfile{
		DoctorID:           doctorID,
		RoundingPreference: billing.ParseRoundingPreference(rounding),
	}
	var err error
	if p.ConsultationCharge, err = decimal.NewFromString(consultation); err != nil {
		return nil, fmt.Errorf("consultation charge of %s: %w", doctorID, err)
	}
	if p.HospitalCharge, err = decimal.NewFromString(hospital); err != nil {
		return nil, fmt.Errorf("hospital charge of %s: %w", doctorID, err)
	}
	if len(pricing) > 0 {
		if err := json.Unmarshal(pricing, &p.ProcedurePricing); err != nil {
			return nil, fmt.Errorf("procedure pricing of %s: %w", doctorID, err)
		}
	}
	return p, nil
}

// SaveFeeProfile stores p.
func (s *FeeProfileSource) SaveFeeProfile(ctx context.Context, p *billing.DoctorFeeProfile) error {
	pricing, err := encodeJSON(p.ProcedurePricing)
	if err != nil {
		return err
	}
	if p.ProcedurePricing == nil {
		pricing = []byte("{}")
	}
	rounding := p.RoundingPreference
	if rounding == "" {
		rounding = billing.RoundingNone
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO doctor_fee_profiles (doctor_id, consultation_charge, hospital_charge, procedure_pricing, rounding_preference)
		VALUES ($1, $2::numeric, $3::numeric, $4, $5)
		ON CONFLICT (doctor_id) DO UPDATE SET
			consultation_charge = EXCLUDED.consultation_charge, hospital_charge = EXCLUDED.hospital_charge,
			procedure_pricing = EXCLUDED.procedure_pricing, rounding_preference = EXCLUDED.rounding_preference`,
		p.DoctorID, p.ConsultationCharge.String(), p.HospitalCharge.String(), pricing, string(rounding))
	if err != nil {
		return fmt.Errorf("save fee profile: %w", err)
	}
	return nil
}
