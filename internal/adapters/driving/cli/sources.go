package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if configProvider == nil || configProvider.Current() == nil {
			return errors.New("configuration not loaded")
		}
		cfg := configProvider.Current()
		if len(cfg.Sources) == 0 {
			cmd.Println("No sources configured.")
			return nil
		}

		cmd.Printf("%-20s %-8s %-8s %-12s %6s  %s\n", "NAME", "TYPE", "ENABLED", "MODE", "WEIGHT", "ENDPOINT")
		for _, src := range cfg.Sources {
			enabled := okStyle.Sprint("yes")
			if !src.Enabled {
				enabled = dimStyle.Sprint("no")
			}
			cmd.Printf("%-20s %-8s %-8s %-12s %6.2f  %s\n",
				src.Name, src.Type, enabled, src.SyncMode, src.Weight, src.Endpoint)
			if len(src.TableFilter) > 0 {
				cmd.Printf("%-20s tables: %s\n", "", strings.Join(src.TableFilter, ", "))
			}
		}
		if len(cfg.Rejected) > 0 {
			cmd.Println()
			cmd.Println(warnStyle.Sprint("Skipped:"))
			for _, r := range cfg.Rejected {
				cmd.Printf("  %s: %v\n", r.Name, r.Err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
