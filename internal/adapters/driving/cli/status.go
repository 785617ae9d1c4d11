package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-federation/internal/core/ports/driving"
)

// statusHistory is how many recent results status prints per source.
const statusHistory = 5

var statusCmd = &cobra.Command{
	Use:   "status [source]",
	Short: "Show sync status",
	Long: `Shows each source's live state, stored cursor, backoff and recent
results. If a source name is provided, only that source is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if syncOrchestrator == nil {
		return errors.New("sync service not configured")
	}
	ctx := cmd.Context()

	var names []string
	switch {
	case len(args) > 0:
		names = args
	case configProvider != nil && configProvider.Current() != nil:
		for _, src := range configProvider.Current().Sources {
			names = append(names, src.Name)
		}
	default:
		return errors.New("configuration not loaded")
	}

	for i, name := range names {
		status, err := syncOrchestrator.Status(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to get status for %s: %w", name, err)
		}
		if i > 0 {
			cmd.Println()
		}
		printStatus(ctx, cmd, status)
	}
	return nil
}

func printStatus(ctx context.Context, cmd *cobra.Command, s *driving.SyncStatus) {
	cmd.Printf("%s  %s\n", s.Source, stateLabel(s.State))
	if s.Running {
		cmd.Printf("  In progress:    %d records\n", s.ItemsProcessed)
	}
	if s.Cursor.LastSuccess.IsZero() {
		cmd.Println("  Last success:   never")
	} else {
		cmd.Printf("  Last success:   %s\n", s.Cursor.LastSuccess.Local().Format(time.RFC3339))
	}
	if s.Cursor.ConsecutiveFailures > 0 {
		cmd.Printf("  Failures:       %s\n", failStyle.Sprint(s.Cursor.ConsecutiveFailures))
	}
	if !s.Cursor.NextEligible.IsZero() && s.Cursor.NextEligible.After(time.Now()) {
		cmd.Printf("  Next attempt:   %s\n", s.Cursor.NextEligible.Local().Format(time.RFC3339))
	}
	if documentCounter != nil {
		if n, err := documentCounter.Count(ctx, s.Source); err == nil {
			cmd.Printf("  Documents:      %d\n", n)
		}
	}

	if len(s.History) == 0 {
		return
	}
	cmd.Println("  Recent:")
	for i, r := range s.History {
		if i == statusHistory {
			break
		}
		cmd.Printf("    %s  %-8s %d records", r.StartedAt.Local().Format(time.DateTime), statusLabel(r.Status), r.ItemsProcessed)
		if r.Error != "" {
			cmd.Printf("  %s", dimStyle.Sprint(r.Error))
		}
		cmd.Println()
	}
}
