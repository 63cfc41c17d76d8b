package main

import (
	"github.com/spf13/cobra"
)

const defaultSecret = "clave-maestra-oculta"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mockclient",
		Short:        "Development client for the pairing relay",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("secret", defaultSecret, "Shared secret used to derive auth tokens")

	root.AddCommand(newTokenCmd(), newRunCmd())
	return root
}
