package postgres

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxcharge/internal/billing"
	"github.com/drfirst/go-rxcharge/internal/domain/inventory"
	"github.com/drfirst/go-rxcharge/internal/domain/prescription"
	"github.com/drfirst/go-rxcharge/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxcharge/internal/ledger"
)

func TestEntryFromEvent(t *testing.T) {
	ev, err := prescription.NewEvent("rx-1", "Prescription", prescription.EventPrescriptionDispensed,
		prescription.PrescriptionDispensedData{PrescriptionID: "rx-1", TotalCharge: "1750"})
	require.NoError(t, err)
	ev.PharmacyID = "ph-1"

	entry, err := EntryFromEvent(ev)
	require.NoError(t, err)
	assert.Equal(t, redpanda.TopicBillingCharges, entry.Topic)
	assert.Equal(t, "ph-1", entry.Key)
	assert.Equal(t, "rx-1", entry.AggregateID)

	var decoded prescription.Event
	require.NoError(t, json.Unmarshal(entry.Payload, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)

	ev.EventType = "Unknown"
	_, err = EntryFromEvent(ev)
	assert.ErrorIs(t, err, redpanda.ErrUnroutableEvent)
}

func TestMovementEntry(t *testing.T) {
	m := &inventory.StockMovement{
		ID: "m1", PharmacyID: "ph-1", ItemID: "amoxil",
		Type: inventory.MovementDispatch, Quantity: 5, Delta: -5, Reference: "rx-1",
	}
	entry, err := movementEntry(m)
	require.NoError(t, err)
	assert.Equal(t, redpanda.TopicInventoryMovements, entry.Topic)
	assert.Equal(t, "ph-1", entry.Key)
	assert.False(t, m.CreatedAt.IsZero())

	var ev prescription.Event
	require.NoError(t, json.Unmarshal(entry.Payload, &ev))
	var data prescription.StockMovementRecordedData
	require.NoError(t, json.Unmarshal(ev.EventData, &data))
	assert.Equal(t, "m1", data.MovementID)
	assert.Equal(t, -5.0, data.Delta)
}

func TestDecodeProfile(t *testing.T) {
	p, err := decodeProfile("dr-1", "1000.00", "500.50", []byte(`{"Suturing":"450","Dressing":200}`), "nearest50")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1000).Equal(p.ConsultationCharge))
	assert.True(t, decimal.RequireFromString("500.5").Equal(p.HospitalCharge))
	assert.True(t, decimal.NewFromInt(450).Equal(p.ProcedurePricing["Suturing"]))
	assert.True(t, decimal.NewFromInt(200).Equal(p.ProcedurePricing["Dressing"]))
	assert.Equal(t, billing.RoundingNearest50, p.RoundingPreference)

	p, err = decodeProfile("dr-2", "0", "0", nil, "weird")
	require.NoError(t, err)
	assert.Equal(t, billing.RoundingNone, p.RoundingPreference)

	_, err = decodeProfile("dr-3", "abc", "0", nil, "")
	assert.Error(t, err)
}

// The tests below need a database; set RXCHARGE_TEST_DATABASE_URL to run them.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("RXCHARGE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("RXCHARGE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))
	return pool
}

func TestConcurrentDispatches(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := NewInventoryStore(pool, nil)
	pharmacyID := "ph-" + uuid.NewString()

	require.NoError(t, store.UpsertItem(ctx, inventory.Item{
		ID: "amoxil", PharmacyID: pharmacyID, BrandName: "Amoxil", CurrentStock: 500,
		Batches: []inventory.Batch{{ID: "b1", Quantity: 500}},
	}))

	l := ledger.New(store, nil, nil)
	require.True(t, l.Atomic())

	var wg sync.WaitGroup
	for _, q := range []float64{5, 7} {
		wg.Add(1)
		go func(q float64) {
			defer wg.Done()
			_, err := l.ApplyMovement(ctx, pharmacyID, inventory.StockRef{ItemID: "amoxil", BatchID: "b1"}, q, inventory.MovementDispatch, "rx-1")
			assert.NoError(t, err)
		}(q)
	}
	wg.Wait()

	items, err := store.Snapshot(ctx, pharmacyID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 488.0, items[0].CurrentStock)
	assert.Equal(t, 488.0, items[0].Batches[0].Quantity)

	movements, err := store.ListMovements(ctx, pharmacyID, "amoxil")
	require.NoError(t, err)
	assert.Len(t, movements, 2)

	var queued int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE topic = $1 AND message_key = $2`,
		redpanda.TopicInventoryMovements, pharmacyID).Scan(&queued))
	assert.Equal(t, 2, queued)
}

func TestSourcesRoundTrip(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	doctorID := "dr-" + uuid.NewString()

	profiles := NewFeeProfileSource(pool)
	require.NoError(t, profiles.SaveFeeProfile(ctx, &billing.DoctorFeeProfile{
		DoctorID:           doctorID,
		ConsultationCharge: decimal.NewFromInt(1000),
		HospitalCharge:     decimal.NewFromInt(500),
		ProcedurePricing:   map[string]decimal.Decimal{"Suturing": decimal.NewFromInt(450)},
		RoundingPreference: billing.RoundingNearest100,
	}))
	p, err := profiles.GetFeeProfile(ctx, doctorID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(450).Equal(p.ProcedurePricing["Suturing"]))
	assert.Equal(t, billing.RoundingNearest100, p.RoundingPreference)

	_, err = profiles.GetFeeProfile(ctx, "missing-"+doctorID)
	assert.ErrorIs(t, err, billing.ErrProfileNotFound)

	rxs := NewPrescriptionSource(pool)
	rx := &prescription.Prescription{
		ID: "rx-" + uuid.NewString(), DoctorID: doctorID,
		Lines: []prescription.MedicationLine{{Name: "Amoxil", DosageForm: "Capsule", Amount: "15"}},
	}
	require.NoError(t, rxs.SavePrescription(ctx, rx))
	got, err := rxs.GetPrescription(ctx, rx.ID)
	require.NoError(t, err)
	assert.Equal(t, rx.Lines, got.Lines)

	_, err = rxs.GetPrescription(ctx, "missing")
	assert.ErrorIs(t, err, prescription.ErrNotFound)
}
