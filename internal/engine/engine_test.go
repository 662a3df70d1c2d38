package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxcharge/internal/billing"
	"github.com/drfirst/go-rxcharge/internal/domain/inventory"
	"github.com/drfirst/go-rxcharge/internal/domain/prescription"
	"github.com/drfirst/go-rxcharge/internal/infrastructure/memory"
	"github.com/drfirst/go-rxcharge/internal/observability/metrics"
)

const pharmacyID = "ph-1"

type profiles map[string]*billing.DoctorFeeProfile

func (p profiles) GetFeeProfile(_ context.Context, doctorID string) (*billing.DoctorFeeProfile, error) {
	if prof, ok := p[doctorID]; ok {
		return prof, nil
	}
	return nil, billing.ErrProfileNotFound
}

type prescriptions map[string]*prescription.Prescription

func (p prescriptions) GetPrescription(_ context.Context, id string) (*prescription.Prescription, error) {
	if rx, ok := p[id]; ok {
		return rx, nil
	}
	return nil, prescription.ErrNotFound
}

type recordingSink struct {
	mu     sync.Mutex
	events []*prescription.Event
}

func (s *recordingSink) Publish(_ context.Context, e *prescription.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func expiry(d int) *time.Time {
	t := time.Date(2027, time.June, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func snapshot() []inventory.Item {
	return []inventory.Item{
		{
			ID: "fucidin", PharmacyID: pharmacyID, BrandName: "Fucidin", DosageForm: "Cream", CurrentStock: 4,
			Batches: []inventory.Batch{
				{ID: "late", Quantity: 2, SellingPrice: "20", ExpiryDate: expiry(20)},
				{ID: "early", Quantity: 2, SellingPrice: "10", ExpiryDate: expiry(2)},
			},
		},
		{ID: "calpol", PharmacyID: pharmacyID, BrandName: "Calpol", DosageForm: "Syrup", ContainerSize: "100", ContainerUnit: "ml", SellingPrice: "250", CurrentStock: 5},
		{ID: "amoxil", PharmacyID: pharmacyID, BrandName: "Amoxil", DosageForm: "Capsule", SellingPrice: "12", CurrentStock: 500},
	}
}

func testRx() *prescription.Prescription {
	return &prescription.Prescription{
		ID:              "rx-1",
		DoctorID:        "dr-1",
		DiscountPercent: 10,
		DiscountScope:   prescription.DiscountScopeConsultation,
		Lines: []prescription.MedicationLine{
			{Name: "Fucidin", DosageForm: "Cream", Qts: "3", IsDispensed: true},
			{Name: "Calpol", DosageForm: "Syrup", Strength: "5", StrengthUnit: "ml", Frequency: "three times daily", Duration: "4 days", IsDispensed: true},
			{Name: "Amoxil", DosageForm: "Capsule", Amount: "15", IsDispensed: true},
			{Name: "Zyrtec", DosageForm: "Tablet", Amount: "10", IsDispensed: true},
		},
	}
}

func testProfile() *billing.DoctorFeeProfile {
	return &billing.DoctorFeeProfile{
		DoctorID:           "dr-1",
		ConsultationCharge: decimal.NewFromInt(1000),
		HospitalCharge:     decimal.NewFromInt(500),
		RoundingPreference: billing.RoundingNearest50,
	}
}

func TestQuoteIsIdempotent(t *testing.T) {
	e := New(Deps{}, nil)
	rx := testRx()
	snap := snapshot()
	before, err := json.Marshal(snap)
	require.NoError(t, err)

	first, err := e.QuotePrescriptionCharge(context.Background(), rx, testProfile(), snap, QuoteOptions{PharmacyID: pharmacyID})
	require.NoError(t, err)
	second, err := e.QuotePrescriptionCharge(context.Background(), rx, testProfile(), snap, QuoteOptions{PharmacyID: pharmacyID})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	after, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
	assert.Equal(t, testRx(), rx)
}

func TestQuoteTotals(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	e := New(Deps{Metrics: m}, nil)

	b, err := e.QuotePrescriptionCharge(context.Background(), testRx(), testProfile(), snapshot(), QuoteOptions{})
	require.NoError(t, err)

	// cream 40, syrup 60 ml at 2.5/ml = 150, capsules 15 x 12 = 180
	assert.True(t, decimal.NewFromInt(370).Equal(b.DrugCharges.TotalCost), b.DrugCharges.TotalCost.String())
	assert.True(t, decimal.NewFromInt(1770).Equal(b.TotalBeforeRounding))
	assert.True(t, decimal.NewFromInt(1750).Equal(b.TotalCharge))
	assert.True(t, decimal.NewFromInt(-20).Equal(b.RoundingAdjustment))

	require.Len(t, b.DrugCharges.MedicationBreakdown, 4)
	assert.Equal(t, "not available in inventory", b.DrugCharges.MedicationBreakdown[3].Reason)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuotesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinesUnpriced.WithLabelValues("not available in inventory")))
}

func TestQuoteRejectsInvalidPrescription(t *testing.T) {
	e := New(Deps{}, nil)
	rx := testRx()
	rx.DiscountScope = "all"
	_, err := e.QuotePrescriptionCharge(context.Background(), rx, testProfile(), snapshot(), QuoteOptions{})
	var verr *prescription.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestDispenseAndCharge(t *testing.T) {
	store := memory.New()
	store.Load(pharmacyID, snapshot())
	sink := &recordingSink{}
	e := New(Deps{
		Store:    store,
		Profiles: profiles{"dr-1": testProfile()},
		Events:   sink,
	}, nil)

	b, err := e.DispenseAndCharge(context.Background(), testRx(), pharmacyID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1750).Equal(b.TotalCharge))

	items, err := store.Snapshot(context.Background(), pharmacyID)
	require.NoError(t, err)
	byID := map[string]inventory.Item{}
	for _, it := range items {
		byID[it.ID] = it
	}
	assert.Equal(t, 1.0, byID["fucidin"].CurrentStock)
	assert.Equal(t, 1.0, byID["fucidin"].Batches[0].Quantity) // late
	assert.Equal(t, 0.0, byID["fucidin"].Batches[1].Quantity) // early
	assert.InDelta(t, 4.4, byID["calpol"].CurrentStock, 1e-9)
	assert.Equal(t, 485.0, byID["amoxil"].CurrentStock)

	history, err := store.ListMovements(context.Background(), pharmacyID, "fucidin")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, inventory.MovementDispatch, history[0].Type)
	assert.Equal(t, "rx-1", history[0].Reference)

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, prescription.EventPrescriptionDispensed, ev.EventType)
	assert.Equal(t, pharmacyID, ev.PharmacyID)
	var data prescription.PrescriptionDispensedData
	require.NoError(t, json.Unmarshal(ev.EventData, &data))
	assert.Len(t, data.MovementIDs, 4)
	assert.Equal(t, "1750", data.TotalCharge)
}

func TestDispenseByID(t *testing.T) {
	store := memory.New()
	store.Load(pharmacyID, snapshot())
	e := New(Deps{
		Store:         store,
		Profiles:      profiles{"dr-1": testProfile()},
		Prescriptions: prescriptions{"rx-1": testRx()},
	}, nil)

	_, err := e.DispenseByID(context.Background(), "rx-1", pharmacyID)
	require.NoError(t, err)

	_, err = e.DispenseByID(context.Background(), "missing", pharmacyID)
	assert.ErrorIs(t, err, prescription.ErrNotFound)
}

func TestDispenseErrors(t *testing.T) {
	_, err := New(Deps{}, nil).DispenseAndCharge(context.Background(), testRx(), pharmacyID)
	assert.ErrorIs(t, err, ErrNotConfigured)

	store := memory.New()
	e := New(Deps{Store: store, Profiles: profiles{}}, nil)
	_, err = e.DispenseAndCharge(context.Background(), testRx(), pharmacyID)
	assert.ErrorIs(t, err, billing.ErrProfileNotFound)
}
