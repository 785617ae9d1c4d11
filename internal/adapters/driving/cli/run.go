package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep sources in sync until interrupted",
	Long: `Runs sync cycles on the configured interval. File sources are also
synchronised as soon as their files change, and edits to the config file
are applied without a restart. Stops on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if runEngine == nil {
			return errors.New("engine not configured")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cmd.Println("Running. Press Ctrl+C to stop.")
		err := runEngine(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		if err == nil {
			cmd.Println("Stopped.")
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
