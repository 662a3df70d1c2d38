package stores

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxcharge/internal/config"
	"github.com/drfirst/go-rxcharge/internal/domain/inventory"
	"github.com/drfirst/go-rxcharge/internal/ledger"
)

func TestOpenEmbeddedDrivers(t *testing.T) {
	for _, driver := range []string{config.DriverMemory, config.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			cfg := &config.Config{StoreDriver: driver, SQLitePath: filepath.Join(t.TempDir(), "rx.db")}

			b, err := Open(ctx, cfg, nil, nil)
			require.NoError(t, err)
			t.Cleanup(b.Close)

			require.NoError(t, b.Inventory.UpsertItem(ctx, inventory.Item{
				ID: "amoxil", PharmacyID: "ph-1", BrandName: "Amoxil", CurrentStock: 10,
			}))

			l := ledger.New(b.Inventory, nil, nil)
			_, err = l.ApplyMovement(ctx, "ph-1", inventory.StockRef{ItemID: "amoxil"}, 4, inventory.MovementDispatch, "rx-1")
			require.NoError(t, err)

			items, err := b.Inventory.Snapshot(ctx, "ph-1")
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, 6.0, items[0].CurrentStock)

			history, err := b.Inventory.ListMovements(ctx, "ph-1", "amoxil")
			require.NoError(t, err)
			assert.Len(t, history, 1)
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{StoreDriver: "redis"}, nil, nil)
	assert.Error(t, err)
}
