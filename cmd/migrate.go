package cmd

import (
	"errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"live-broadcast/config"
	"live-broadcast/repository"
)

func migrate(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create or update database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if config.DB == nil {
				return errors.New("postgresql_host is not set")
			}
			repo, err := repository.NewRepo(config.DB)
			if err != nil {
				return err
			}
			if err := repo.Migrate(cmd.Context()); err != nil {
				return err
			}
			log.Info().Msg("migration completed")
			return nil
		},
	}
}
