package cmd

import (
	"github.com/spf13/cobra"
	"live-broadcast/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "live-broadcast",
		Short: "live broadcast backend",
	}
	rootCmd.AddCommand(server(config))
	rootCmd.AddCommand(migrate(config))
	return rootCmd
}
