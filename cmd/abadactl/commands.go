package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"abada_sales/internal/app"
	"abada_sales/internal/courtesy"
	"abada_sales/internal/middleware"
	"abada_sales/internal/store"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply schema migrations for the configured database.

postgres runs the embedded SQL migrations; sqlite uses gorm AutoMigrate.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if appCfg.DBDriver == "postgres" {
				if err := store.Migrate(appCfg.DatabaseURL); err != nil {
					return err
				}
				fmt.Println("postgres migrations applied")
				return nil
			}
			db, err := store.OpenSQLite(appCfg.DBPath)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
			fmt.Printf("sqlite schema ready at %s\n", appCfg.DBPath)
			return nil
		},
	}
}

func syncLotsCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "sync-lots",
		Short: "Load price tiers from the lots file into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				appCfg.LotsFile = file
			}
			if _, err := os.Stat(appCfg.LotsFile); err != nil {
				return fmt.Errorf("lots file: %w", err)
			}
			a, err := app.New(cmd.Context(), appCfg)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.SyncLots(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("synced %d lots from %s\n", n, appCfg.LotsFile)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "lots yaml file (default LOTS_FILE)")
	return cmd
}

func purgeCmd() *cobra.Command {
	var (
		before    string
		olderThan time.Duration
	)
	cmd := &cobra.Command{
		Use:   "purge-cancelled",
		Short: "Delete CANCELLED orders created before a cutoff",
		Long: `Delete CANCELLED orders (with their items and token registry rows)
created before the cutoff. Use either --before or --older-than.

Examples:
  abadactl purge-cancelled --older-than 720h
  abadactl purge-cancelled --before 2026-01-01T00:00:00Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cutoff, err := purgeCutoff(before, olderThan, time.Now())
			if err != nil {
				return err
			}
			db, err := app.OpenDB(appCfg)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			n, err := store.New(db).PurgeCancelledOrders(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			fmt.Printf("purged %d cancelled orders created before %s\n", n, cutoff.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "RFC3339 cutoff")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "relative cutoff, e.g. 720h")
	return cmd
}

func purgeCutoff(before string, olderThan time.Duration, now time.Time) (time.Time, error) {
	switch {
	case before != "" && olderThan > 0:
		return time.Time{}, errors.New("use either --before or --older-than, not both")
	case before != "":
		t, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --before: %w", err)
		}
		return t, nil
	case olderThan > 0:
		return now.Add(-olderThan), nil
	default:
		return time.Time{}, errors.New("a cutoff is required (--before or --older-than)")
	}
}

func courtesyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "courtesy",
		Short: "Manage courtesy entitlements",
	}

	var (
		phone     string
		items     []string
		grantedBy string
	)
	grant := &cobra.Command{
		Use:   "grant [holder name]",
		Short: "Grant a courtesy and print its redemption token",
		Long: `Grant a courtesy entitlement. Each --item is TYPE[:SIZE]:QTY, where TYPE
is "abada" (primary credential) or "addon" / any ADD_ON type.

Examples:
  abadactl courtesy grant "Maria Silva" --item abada:M:1
  abadactl courtesy grant "Joao" --item abada:G:1 --item addon:2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := parseItemSpecs(items)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), appCfg)
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := a.Courtesies.Grant(cmd.Context(), courtesy.GrantRequest{
				HolderName:  args[0],
				HolderPhone: phone,
				Items:       reqs,
			}, grantedBy)
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(map[string]any{
				"id":    c.ID,
				"token": c.Token,
				"items": len(c.Items),
			}, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	grant.Flags().StringVar(&phone, "phone", "", "holder phone")
	grant.Flags().StringArrayVarP(&items, "item", "i", nil, "item spec TYPE[:SIZE]:QTY (repeatable)")
	grant.Flags().StringVar(&grantedBy, "by", "abadactl", "staff id recorded as grantor")
	_ = grant.MarkFlagRequired("item")

	cmd.AddCommand(grant)
	return cmd
}

func staffTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "staff-token [staff id]",
		Short: "Sign a staff bearer token with STAFF_JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if appCfg.StaffJWTSecret == "" {
				return errors.New("STAFF_JWT_SECRET is not set")
			}
			tok, err := middleware.IssueStaffToken(appCfg.StaffJWTSecret, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
