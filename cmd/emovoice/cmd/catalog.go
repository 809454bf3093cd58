package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"emovoice/internal/domain"
	"emovoice/internal/wellness"
)

var (
	catalogEmotion string
	catalogLevel   string
	catalogCount   int
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List wellness activities or preview suggestions for an emotion",
	Args:  cobra.NoArgs,
	RunE:  runCatalog,
}

func init() {
	catalogCmd.Flags().StringVar(&catalogEmotion, "emotion", "", "preview suggestions for this emotion")
	catalogCmd.Flags().StringVar(&catalogLevel, "level", "moderate", "intensity level for the preview")
	catalogCmd.Flags().IntVar(&catalogCount, "count", 3, "number of suggestions to preview")
	rootCmd.AddCommand(catalogCmd)
}

func runCatalog(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	selector, err := buildSelector(cfg, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if strings.TrimSpace(catalogEmotion) == "" {
		printCatalog(out, selector.Catalog().All())
		return nil
	}
	if catalogCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	q := wellness.QueryFromLabel(catalogEmotion, catalogLevel)
	if wellness.ShouldSkip(q) {
		fmt.Fprintf(out, "%s at %s intensity: suggestions are skipped, safety resources come first\n", q.PrimaryEmotion, q.IntensityLevel)
		return nil
	}
	for i, a := range selector.AllSuggestions(q, catalogCount) {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, selector.SuggestionText(a, q))
	}
	return nil
}

func printCatalog(w io.Writer, all []domain.WellnessSuggestion) {
	for _, a := range all {
		fmt.Fprintf(w, "%-22s %-14s %-10s %s\n", a.Key, a.Module, a.Duration, a.Title)
	}
	fmt.Fprintf(w, "%d activities\n", len(all))
}
