package main

import (
	"fmt"

	"github.com/leninjo/pairrelay/internal/auth"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <client-id>",
		Short: "Print the auth token for a client id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := cmd.Flags().GetString("secret")
			if err != nil {
				return err
			}
			verifier, err := auth.NewVerifier(secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), verifier.ExpectedToken(args[0]))
			return nil
		},
	}
}
