package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driving"
)

// progressInterval is how often a single-source sync polls its status.
var progressInterval = 500 * time.Millisecond

var syncCmd = &cobra.Command{
	Use:   "sync [source]",
	Short: "Synchronise records from sources",
	Long: `Runs one sync cycle over every enabled source whose backoff has elapsed.
If a source name is provided, only that source is synchronised and its
backoff is ignored.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	if syncOrchestrator == nil {
		return errors.New("sync service not configured")
	}
	ctx := cmd.Context()

	if len(args) > 0 {
		source := args[0]
		cmd.Printf("Synchronising source: %s\n", source)

		res, err := syncWithProgress(ctx, cmd, syncOrchestrator, source)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		printResult(cmd, res)
		if res.Status == domain.SyncFailed {
			return fmt.Errorf("sync of %s failed: %s", source, res.Error)
		}
		return nil
	}

	cmd.Println("Synchronising all sources...")
	results, err := syncOrchestrator.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	if len(results) == 0 {
		cmd.Println("No sources are due for sync.")
		return nil
	}

	failed := 0
	for _, r := range results {
		printResult(cmd, r)
		if r.Status == domain.SyncFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sources failed", failed, len(results))
	}
	return nil
}

// syncWithProgress runs an on-demand sync while reporting items processed.
func syncWithProgress(
	ctx context.Context,
	cmd *cobra.Command,
	syncOrch driving.SyncOrchestrator,
	source string,
) (domain.SyncResult, error) {
	type outcome struct {
		res domain.SyncResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := syncOrch.SyncSource(ctx, source)
		done <- outcome{res: res, err: err}
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	last := 0
	for {
		select {
		case o := <-done:
			if last > 0 {
				cmd.Println()
			}
			return o.res, o.err
		case <-ticker.C:
			// Best effort: a failed status read only skips one update.
			status, err := syncOrch.Status(ctx, source)
			if err == nil && status != nil && status.Running && status.ItemsProcessed > last {
				last = status.ItemsProcessed
				cmd.Printf("\rProcessing... %d records", last)
			}
		}
	}
}

func printResult(cmd *cobra.Command, r domain.SyncResult) {
	cmd.Printf("  %-20s %-8s %d records", r.Source, statusLabel(r.Status), r.ItemsProcessed)
	if r.ItemsFailed > 0 {
		cmd.Printf(" (%d failed)", r.ItemsFailed)
	}
	cmd.Printf(" in %s\n", r.Duration.Round(time.Millisecond))
	if r.Error != "" {
		cmd.Printf("      %s\n", r.Error)
	}
}
