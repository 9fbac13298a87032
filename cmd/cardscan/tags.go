package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/menta2k/cardscan/pkg/collection"
)

var suggestCard string

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "Inspect the tags in use",
}

var tagsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every tag, with the recently used ones first",
	Args:  cobra.NoArgs,
	RunE:  runTagsList,
}

var tagsSuggestCmd = &cobra.Command{
	Use:   "suggest [prefix]",
	Short: "Suggest tags for a card",
	Long: `Suggest tags for a card. Without an argument, prints the recently used tags
and the remaining ones; with an argument, prints autocomplete matches.

Examples:
  cardscan tags suggest --card 3f2c...
  cardscan tags suggest ber`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTagsSuggest,
}

func init() {
	tagsSuggestCmd.Flags().StringVar(&suggestCard, "card", "", "card whose tags are already applied")
	tagsCmd.AddCommand(tagsListCmd, tagsSuggestCmd)
}

func runTagsList(cmd *cobra.Command, _ []string) error {
	_, app, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer app.Close()

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "recent: %s\n", strings.Join(app.Cards.RecentTags(nil), ", "))
	fmt.Fprintf(w, "all:    %s\n", strings.Join(app.Cards.AllTags(), ", "))
	return nil
}

func runTagsSuggest(cmd *cobra.Command, args []string) error {
	_, app, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer app.Close()

	var applied []string
	if suggestCard != "" {
		card, err := app.Cards.Get(suggestCard)
		if err != nil {
			return err
		}
		applied = card.Tags
	}

	w := cmd.OutOrStdout()
	if len(args) == 1 {
		for _, t := range app.Cards.Autocomplete(args[0], applied) {
			fmt.Fprintln(w, t)
		}
		return nil
	}
	printSuggestions(w, app.Cards.Suggest(applied))
	return nil
}

func printSuggestions(w io.Writer, s collection.Suggestions) {
	fmt.Fprintf(w, "recent: %s\n", strings.Join(s.Recent, ", "))
	other := strings.Join(s.Other, ", ")
	if s.OtherHidden > 0 {
		other += fmt.Sprintf(" (+%d more)", s.OtherHidden)
	}
	fmt.Fprintf(w, "other:  %s\n", other)
}
