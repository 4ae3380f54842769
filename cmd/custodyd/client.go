package main

import (
	"fmt"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"

	"github.com/spf13/cobra"
)

func clientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage API clients",
	}
	cmd.AddCommand(clientCreateCmd())
	return cmd
}

func clientCreateCmd() *cobra.Command {
	var (
		name    string
		account string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision an API client bound to an account",
		Long: `Provision an API client. The secret key is printed once and stored encrypted;
it cannot be recovered later.

Examples:
  custodyd client create --name clinic-backend --account 0x9f2c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := domain.ParseAccountID(account)
			if err != nil {
				return fmt.Errorf("--account: %w", err)
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

			creds, err := clientSvc.Create(cmd.Context(), ports.CreateClientRequest{Name: name, Account: accountID})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "client_id:  %s\n", creds.ClientID)
			fmt.Fprintf(out, "account:    %s\n", accountID)
			fmt.Fprintf(out, "access_key: %s\n", creds.AccessKey)
			fmt.Fprintf(out, "secret_key: %s\n", creds.SecretKey)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "client name")
	cmd.Flags().StringVar(&account, "account", "", "account the client acts as")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
