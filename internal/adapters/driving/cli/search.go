package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

var (
	searchSources []string
	searchWeights []string
	searchTimeout time.Duration
	searchLimit   int
	searchJSON    bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search every source at once",
	Long: `Sends the query to every enabled source in parallel and merges the
answers into one ranked list. Scores are normalised per source and
scaled by source weight. Duplicate content is shown once. Sources that
miss the deadline are listed as not responding.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringSliceVarP(&searchSources, "sources", "s", nil, "restrict the query to these sources")
	searchCmd.Flags().StringArrayVarP(&searchWeights, "weight", "w", nil, "override a source weight, as source=weight")
	searchCmd.Flags().DurationVarP(&searchTimeout, "timeout", "t", 0, "query deadline (default from engine settings)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if federatedSearch == nil {
		return errors.New("search service not configured")
	}

	weights, err := parseWeights(searchWeights)
	if err != nil {
		return err
	}
	req := domain.SearchRequest{
		Query:    args[0],
		Sources:  searchSources,
		Weights:  weights,
		Deadline: searchTimeout,
		Limit:    searchLimit,
	}

	result, err := federatedSearch.Search(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return outputSearchJSON(cmd, result)
	}
	outputSearchTable(cmd, result)
	return nil
}

// parseWeights reads source=weight pairs.
func parseWeights(pairs []string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	weights := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid weight %q: want source=weight", pair)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || w < 0 {
			return nil, fmt.Errorf("invalid weight %q: want a non-negative number", pair)
		}
		weights[name] = w
	}
	return weights, nil
}

func outputSearchJSON(cmd *cobra.Command, result *domain.FederatedResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputSearchTable(cmd *cobra.Command, result *domain.FederatedResult) {
	if len(result.Candidates) == 0 {
		cmd.Println("No results found.")
	} else {
		cmd.Println("Results:")
		cmd.Println()
		for i, c := range result.Candidates {
			cmd.Printf("  [%d] %s (%.2f)\n", i+1, c.DocumentID, c.NormalizedScore)
			cmd.Printf("      Source: %s\n", c.Source)
			if c.Snippet != "" {
				cmd.Printf("      %s\n", c.Snippet)
			}
			cmd.Println()
		}
	}

	if len(result.NonResponding) > 0 {
		names := append([]string(nil), result.NonResponding...)
		sort.Strings(names)
		cmd.Println(warnStyle.Sprint("Not responding:"))
		for _, name := range names {
			if reason := result.Errors[name]; reason != "" {
				cmd.Printf("  %s: %s\n", name, reason)
			} else {
				cmd.Printf("  %s\n", name)
			}
		}
	}
	cmd.Println(dimStyle.Sprintf("Answered in %s", result.Latency.Round(time.Millisecond)))
}
