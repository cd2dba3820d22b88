package cmd

import (
	"github.com/spf13/cobra"
	"live-broadcast/config"
	server2 "live-broadcast/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start http server, discovery scheduler and backfill consumer",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}
