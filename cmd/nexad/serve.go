package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/nexad/internal/app"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var resetState bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}

			log.Info().Str("config", flags.configPath).Str("version", getVersion()).Msg("Starting nexad")

			application, err := app.New(cfg, app.Options{
				ConfigPath: flags.configPath,
				DryRun:     cfg.Transmitter.DryRun,
				Servers:    true,
				ResetState: resetState,
			})
			if err != nil {
				return err
			}

			ctx := app.SignalContext()
			if err := application.Start(ctx); err != nil {
				application.Stop()
				return err
			}

			application.Wait()

			if err := application.Stop(); err != nil {
				log.Error().Err(err).Msg("Error during shutdown")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&resetState, "reset-state", false, "Forget persisted target states on startup")
	return cmd
}
