package main

import (
	"context"
	"fmt"
	"time"

	pgStorage "custody-engine/internal/adapter/storage/postgres"
	"custody-engine/internal/core/domain"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var skipBootstrap bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and bootstrap the ledger state",
		Long: `Apply the embedded schema migrations in order, then create the single ledger
state row from the custody section of the config if it does not exist yet.

Examples:
  custodyd migrate
  custodyd migrate --config /etc/custody/config.yaml --skip-bootstrap`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), skipBootstrap)
		},
	}
	cmd.Flags().BoolVar(&skipBootstrap, "skip-bootstrap", false, "only apply migrations")
	return cmd
}

func runMigrate(ctx context.Context, skipBootstrap bool) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.connectPostgres(ctx); err != nil {
		return err
	}

	applied, err := pgStorage.Migrate(ctx, a.pool, a.log)
	if err != nil {
		return err
	}
	fmt.Printf("Applied %d migration(s)\n", applied)

	if skipBootstrap {
		return nil
	}

	created, err := pgStorage.NewStateRepo(a.pool).Bootstrap(ctx, &domain.LedgerState{
		MinAmount: a.cfg.Custody.MinAmount,
		MaxAmount: a.cfg.Custody.MaxAmount,
		FeeAmount: a.cfg.Custody.FeeAmount,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("bootstrap ledger state: %w", err)
	}
	if created {
		fmt.Printf("Ledger state created: min=%d max=%d fee=%d\n",
			a.cfg.Custody.MinAmount, a.cfg.Custody.MaxAmount, a.cfg.Custody.FeeAmount)
	} else {
		fmt.Println("Ledger state already exists, left unchanged")
	}
	return nil
}
