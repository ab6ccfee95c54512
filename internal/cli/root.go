package cli

import (
	"log/slog"

	"github.com/me/gomint/internal/config"
	"github.com/me/gomint/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagConfig    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the gomint CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gomint",
		Short: "gomint runs black-box optimisation experiments",
		Long: "gomint proposes parameter settings for an objective function, dispatches each\n" +
			"trial to a configured resource and records the observations in a shared store.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", config.DefaultFile, "Experiment configuration file, relative to the experiment directory")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newLaunchCmd(),
		newStatusCmd(),
	)

	return root
}
