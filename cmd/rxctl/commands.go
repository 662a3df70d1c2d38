package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxcharge/internal/billing"
	"github.com/drfirst/go-rxcharge/internal/config"
	"github.com/drfirst/go-rxcharge/internal/domain/inventory"
	"github.com/drfirst/go-rxcharge/internal/domain/prescription"
	"github.com/drfirst/go-rxcharge/internal/engine"
	"github.com/drfirst/go-rxcharge/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxcharge/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxcharge/internal/infrastructure/stores"
)

type inputFiles struct {
	prescription string
	profile      string
	inventory    string
	pharmacyID   string
}

func (f *inputFiles) register(cmd *cobra.Command, inventoryRequired bool) {
	cmd.Flags().StringVar(&f.prescription, "prescription", "", "prescription JSON file")
	cmd.Flags().StringVar(&f.profile, "profile", "", "doctor fee profile JSON file")
	cmd.Flags().StringVar(&f.inventory, "inventory", "", "JSON array of inventory items")
	cmd.Flags().StringVar(&f.pharmacyID, "pharmacy", "", "pharmacy ID")
	cmd.MarkFlagRequired("prescription")
	cmd.MarkFlagRequired("profile")
	cmd.MarkFlagRequired("pharmacy")
	if inventoryRequired {
		cmd.MarkFlagRequired("inventory")
	}
}

func (f *inputFiles) load() (*prescription.Prescription, *billing.DoctorFeeProfile, []inventory.Item, error) {
	var rx prescription.Prescription
	if err := readJSON(f.prescription, &rx); err != nil {
		return nil, nil, nil, err
	}
	var profile billing.DoctorFeeProfile
	if err := readJSON(f.profile, &profile); err != nil {
		return nil, nil, nil, err
	}
	if profile.DoctorID == "" {
		profile.DoctorID = rx.DoctorID
	}

	var items []inventory.Item
	if f.inventory != "" {
		if err := readJSON(f.inventory, &items); err != nil {
			return nil, nil, nil, err
		}
		for i := range items {
			items[i].PharmacyID = f.pharmacyID
		}
	}
	return &rx, &profile, items, nil
}

func quoteCmd() *cobra.Command {
	var (
		files              inputFiles
		ignoreAvailability bool
		assumeDispensed    bool
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a prescription against an inventory file without touching any store",
		RunE: func(cmd *cobra.Command, args []string) error {
			rx, profile, items, err := files.load()
			if err != nil {
				return err
			}
			b, err := engine.New(engine.Deps{}, nil).QuotePrescriptionCharge(cmd.Context(), rx, profile, items, engine.QuoteOptions{
				PharmacyID:                  files.pharmacyID,
				IgnoreAvailability:          ignoreAvailability,
				AssumeDispensedForAvailable: assumeDispensed,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), b)
		},
	}
	files.register(cmd, true)
	cmd.Flags().BoolVar(&ignoreAvailability, "ignore-availability", false, "price at the first matching source regardless of stock")
	cmd.Flags().BoolVar(&assumeDispensed, "assume-dispensed", false, "price every line and drop lines without a price")
	return cmd
}

func dispenseCmd() *cobra.Command {
	var (
		files  inputFiles
		driver string
	)
	cmd := &cobra.Command{
		Use:   "dispense",
		Short: "Dispense a prescription against the configured store",
		Long: "Dispense moves stock in the store selected by STORE_DRIVER (or --store). " +
			"Items from --inventory are upserted first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rx, profile, items, err := files.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			b, err := openBackend(ctx, driver)
			if err != nil {
				return err
			}
			defer b.Close()

			for _, item := range items {
				if err := b.Inventory.UpsertItem(ctx, item); err != nil {
					return fmt.Errorf("seed %s: %w", item.ID, err)
				}
			}

			eng := engine.New(engine.Deps{
				Store:    b.Inventory,
				Profiles: staticProfile{profile},
			}, logger(cmd))
			breakdown, err := eng.DispenseAndCharge(ctx, rx, files.pharmacyID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), breakdown)
		},
	}
	files.register(cmd, false)
	cmd.Flags().StringVar(&driver, "store", "", "store driver overriding STORE_DRIVER")
	return cmd
}

func historyCmd() *cobra.Command {
	var driver, pharmacyID, itemID string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the stock movements of an item",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := openBackend(ctx, driver)
			if err != nil {
				return err
			}
			defer b.Close()

			movements, err := b.Inventory.ListMovements(ctx, pharmacyID, itemID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), movements)
		},
	}
	cmd.Flags().StringVar(&driver, "store", "", "store driver overriding STORE_DRIVER")
	cmd.Flags().StringVar(&pharmacyID, "pharmacy", "", "pharmacy ID")
	cmd.Flags().StringVar(&itemID, "item", "", "inventory item ID")
	cmd.MarkFlagRequired("pharmacy")
	cmd.MarkFlagRequired("item")
	return cmd
}

func migrateCmd() *cobra.Command {
	var driver string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema of the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := openBackend(ctx, driver)
			if err != nil {
				return err
			}
			defer b.Close()

			// the postgres tables for prescriptions, profiles, outbox and
			// inbox are needed by the worker whatever holds the inventory
			if b.Driver == config.DriverMongo {
				cfg, err := loadConfig(driver)
				if err != nil {
					return err
				}
				pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
				if err != nil {
					return err
				}
				defer pool.Close()
				if err := postgres.Migrate(ctx, pool); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s store\n", b.Driver)
			return nil
		},
	}
	cmd.Flags().StringVar(&driver, "store", "", "store driver overriding STORE_DRIVER")
	return cmd
}

func topicsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "Create the Redpanda topics and list them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger(cmd))
			if err != nil {
				return err
			}
			defer admin.Close()

			ctx := cmd.Context()
			if err := admin.EnsureTopics(ctx); err != nil {
				return err
			}
			topics, err := admin.ListTopics(ctx)
			if err != nil {
				return err
			}
			for _, t := range topics {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
}

func loadConfig(driver string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if driver != "" {
		cfg.StoreDriver = driver
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openBackend(ctx context.Context, driver string) (*stores.Backend, error) {
	cfg, err := loadConfig(driver)
	if err != nil {
		return nil, err
	}
	return stores.Open(ctx, cfg, nil, zap.NewNop())
}

func logger(cmd *cobra.Command) *zap.Logger {
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		l, err := zap.NewDevelopment()
		if err == nil {
			return l
		}
	}
	return zap.NewNop()
}

type staticProfile struct {
	profile *billing.DoctorFeeProfile
}

func (s staticProfile) GetFeeProfile(_ context.Context, doctorID string) (*billing.DoctorFeeProfile, error) {
	if s.profile == nil || s.profile.DoctorID != doctorID {
		return nil, billing.ErrProfileNotFound
	}
	return s.profile, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
