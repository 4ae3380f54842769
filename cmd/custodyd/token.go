package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage admin bearer tokens",
	}
	cmd.AddCommand(tokenIssueCmd())
	return cmd
}

func tokenIssueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue [client-id]",
		Short: "Issue an admin bearer token for an active client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid client id %q: %w", args[0], err)
			}

			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.connectPostgres(cmd.Context()); err != nil {
				return err
			}
			clientSvc, err := a.clientService()
			if err != nil {
				return err
			}

			token, expiresAt, err := clientSvc.IssueToken(cmd.Context(), clientID)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	return cmd
}
