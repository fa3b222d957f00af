// Package cli implements the physique command line client. It drives the
// client-side delivery pipeline against the API server the way the mobile
// analysis screen does.
package cli

import (
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "physique",
		Short: "Physique photo analysis client",
		Long: `Physique submits physique photos for AI analysis and delivers each result
exactly once, whether it arrives in the direct response or over the realtime
channel.

Configuration is read from the environment and from a .env file in the
working directory.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: level,
			})))
		},
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log delivery decisions to stderr")

	cmd.AddCommand(newAnalyzeCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newKeysCmd())

	return cmd
}
