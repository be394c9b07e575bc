package main

import (
	"github.com/mohammadpnp/roster-import/internal/config"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var envFiles []string

	cmd := &cobra.Command{
		Use:          "importctl",
		Short:        "Roster import tools: offline validation and schema migrations",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env", ".env.local"}, "env files to load when present")

	load := func() (*config.Configuration, error) {
		return config.Load(envFiles...)
	}
	cmd.AddCommand(newValidateCmd(load))
	cmd.AddCommand(newMigrateCmd(load))
	return cmd
}
