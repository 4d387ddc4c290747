package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/dokzlo13/nexad/internal/config"
)

var version string

func getVersion() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logJSON    bool
	dryRun     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "nexad",
		Short: "Batching bridge for HomeEasy/Nexa 433 MHz switches",
		Long: `nexad collects switch requests, coalesces them over a short quiet
window and drives the 433 MHz sender script with the fewest commands,
using the HomeEasy group address when that is shorter.`,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "config.yaml", "Path to configuration file")
	pf.StringVar(&flags.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
	pf.BoolVar(&flags.logJSON, "log-json", false, "Override log.json")
	pf.BoolVar(&flags.dryRun, "dry-run", false, "Record bursts instead of running the sender script")

	root.AddCommand(
		newServeCmd(flags),
		newSendCmd(flags),
		newPlanCmd(),
	)
	return root
}

// loadConfig reads the config file, applies flag overrides and sets up
// logging. Flags only win when they were given on the command line.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if changed["log-level"] {
		cfg.Log.Level = flags.logLevel
	}
	if changed["log-json"] {
		cfg.Log.UseJSON = flags.logJSON
	}
	if changed["dry-run"] {
		cfg.Transmitter.DryRun = flags.dryRun
	}

	setupLogging(cfg.Log)
	log.Debug().Str("config", flags.configPath).Msg("Configuration loaded")
	return cfg, nil
}
