package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func receiptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "Inspect the receipt registry",
	}
	cmd.AddCommand(receiptsVerifyCmd())
	return cmd
}

func receiptsVerifyCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute the receipt hash chain and compare it with the ledger state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if err := a.connectPostgres(ctx); err != nil {
				return err
			}
			if err := a.connectRedis(ctx); err != nil {
				return err
			}

			custodySvc, dispatcher := a.custody(http.DefaultClient)
			defer dispatcher.Shutdown()

			report, err := custodySvc.VerifyReceiptChain(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "checked:      %d\n", report.Checked)
				fmt.Fprintf(out, "head digest:  %s\n", report.HeadDigest)
				fmt.Fprintf(out, "state digest: %s\n", report.StateDigest)
				if report.BrokenAt != nil {
					fmt.Fprintf(out, "broken at:    payment %d\n", *report.BrokenAt)
				}
			}
			if !report.Valid {
				return fmt.Errorf("receipt chain is not valid")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}
