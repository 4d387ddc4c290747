package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/nexad/internal/app"
	"github.com/dokzlo13/nexad/internal/radio"
)

func newSendCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "send <address>=on|off...",
		Short:   "Send one batch of switch requests and exit",
		Example: "  nexad send -c config.yaml 3=on 4=off",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := parseOperations(args)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}

			application, err := app.New(cfg, app.Options{DryRun: cfg.Transmitter.DryRun})
			if err != nil {
				return err
			}
			defer application.Stop()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.GetShutdownTimeout()+cfg.Debounce.Window.Duration())
			defer cancel()

			if err := application.Send(ctx, ops); err != nil {
				return err
			}

			snap := application.Services().Sequencer.Snapshot()
			log.Info().
				Int("transmissions", snap.Stats.Transmissions).
				Int("commands", snap.Stats.Commands).
				Int("failures", snap.Stats.Failures).
				Msg("Batch finished")
			if snap.Stats.Failures > 0 {
				return fmt.Errorf("transmission failed")
			}
			return nil
		},
	}
}

func parseOperations(args []string) ([]radio.Operation, error) {
	ops := make([]radio.Operation, 0, len(args))
	for _, arg := range args {
		op, err := radio.ParseOperation(arg)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}
