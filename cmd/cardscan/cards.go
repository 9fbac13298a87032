package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/menta2k/cardscan/internal/utils"
	"github.com/menta2k/cardscan/pkg/collection"
	"github.com/menta2k/cardscan/pkg/types"
)

var (
	listTag    string
	listSearch string
	listOldest bool
	listLimit  int
	listJSON   bool

	editCompany  string
	editName     string
	editPosition string
	editEmail    string
	editNotes    string

	tagAdd    []string
	tagRemove []string

	imageOutput string
)

var cardsCmd = &cobra.Command{
	Use:   "cards",
	Short: "Browse and edit the card collection",
}

var cardsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cards, newest first",
	Long: `List cards, newest first.

Examples:
  # Every card tagged vip
  cardscan cards list --tag vip

  # Free-text search over name, company, email, position, notes and tags
  cardscan cards list --search acme`,
	Args: cobra.NoArgs,
	RunE: runCardsList,
}

var cardsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one card",
	Args:  cobra.ExactArgs(1),
	RunE:  runCardsShow,
}

var cardsEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit the fields of a card",
	Long: `Edit the fields of a card. Only the flags given are changed.

Examples:
  cardscan cards edit 3f2c... --position CTO --notes "met at booth 12"`,
	Args: cobra.ExactArgs(1),
	RunE: runCardsEdit,
}

var cardsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a card",
	Args:  cobra.ExactArgs(1),
	RunE:  runCardsDelete,
}

var cardsTagCmd = &cobra.Command{
	Use:   "tag <id>...",
	Short: "Add or remove tags on one or more cards",
	Long: `Add or remove tags on one or more cards. Nothing is changed if any id is unknown.

Examples:
  cardscan cards tag --add expo --remove todo 3f2c... 9a1b...`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCardsTag,
}

var cardsImageCmd = &cobra.Command{
	Use:   "image <id>",
	Short: "Write the stored preview image of a card",
	Args:  cobra.ExactArgs(1),
	RunE:  runCardsImage,
}

func init() {
	cardsListCmd.Flags().StringVar(&listTag, "tag", "", "only cards with this tag")
	cardsListCmd.Flags().StringVar(&listSearch, "search", "", "case-insensitive text search")
	cardsListCmd.Flags().BoolVar(&listOldest, "oldest", false, "oldest first")
	cardsListCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of cards (0 = all)")
	cardsListCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")

	cardsEditCmd.Flags().StringVar(&editCompany, "company", "", "company")
	cardsEditCmd.Flags().StringVar(&editName, "name", "", "name")
	cardsEditCmd.Flags().StringVar(&editPosition, "position", "", "position")
	cardsEditCmd.Flags().StringVar(&editEmail, "email", "", "email")
	cardsEditCmd.Flags().StringVar(&editNotes, "notes", "", "notes")

	cardsTagCmd.Flags().StringArrayVar(&tagAdd, "add", nil, "tag to add (repeatable)")
	cardsTagCmd.Flags().StringArrayVar(&tagRemove, "remove", nil, "tag to remove (repeatable)")

	cardsImageCmd.Flags().StringVarP(&imageOutput, "output", "o", "", "output file (default <id>.<ext>)")

	cardsCmd.AddCommand(cardsListCmd, cardsShowCmd, cardsEditCmd, cardsDeleteCmd, cardsTagCmd, cardsImageCmd)
}

func runCardsList(cmd *cobra.Command, _ []string) error {
	_, app, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer app.Close()

	q := collection.Query{Tag: listTag, Search: listSearch, Limit: listLimit}
	if listOldest {
		q.Order = collection.OldestFirst
	}
	cards := app.Cards.List(q)

	if listJSON {
		for i := range cards {
			cards[i].ImageBytes = nil
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cards)
	}
	printCardTable(cmd.OutOrStdout(), cards)
	return nil
}

func printCardTable(w io.Writer, cards []types.Card) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCOMPANY\tEMAIL\tTAGS\tCAPTURED")
	for _, c := range cards {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.Name, c.Company, c.Email, strings.Join(c.Tags, ","), c.CapturedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush()
}

func runCardsShow(cmd *cobra.Command, args []string) error {
	_, app, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer app.Close()

	card, err := app.Cards.Get(args[0])
	if err != nil {
		return err
	}
	printCard(cmd.OutOrStdout(), card)
	return nil
}

func printCard(w io.Writer, c types.Card) {
	fmt.Fprintf(w, "id:         %s\n", c.ID)
	fmt.Fprintf(w, "name:       %s\n", c.Name)
	fmt.Fprintf(w, "company:    %s\n", c.Company)
	fmt.Fprintf(w, "position:   %s\n", c.Position)
	fmt.Fprintf(w, "email:      %s\n", c.Email)
	fmt.Fprintf(w, "confidence: %.2f\n", c.Confidence)
	fmt.Fprintf(w, "captured:   %s\n", c.CapturedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "tags:       %s\n", strings.Join(c.Tags, ", "))
	if c.Notes != "" {
		fmt.Fprintf(w, "notes:      %s\n", c.Notes)
	}
	if len(c.ImageBytes) > 0 {
		fmt.Fprintf(w, "image:      %s\n", utils.FormatFileSize(int64(len(c.ImageBytes))))
	}
	fmt.Fprintf(w, "backends:   %s, %s\n", c.Provenance.OCRBackend, c.Provenance.ExtractorBackend)
	fmt.Fprintf(w, "raw text:\n%s\n", c.RawText)
}

func runCardsEdit(cmd *cobra.Command, args []string) error {
	var patch collection.Patch
	flags := cmd.Flags()
	set := func(name string, value string, dst **string) {
		if flags.Changed(name) {
			v := value
			*dst = &v
		}
	}
	set("company", editCompany, &patch.Company)
	set("name", editName, &patch.Name)
	set("position", editPosition, &patch.Position)
	set("email", editEmail, &patch.Email)
	set("notes", editNotes, &patch.Notes)

	ctx, app, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer app.Close()

	card, err := app.Cards.Update(ctx, args[0], patch)
	if err != nil {
		return err
	}
	printCard(cmd.OutOrStdout(), card)
	return nil
}

func runCardsDelete(cmd *cobra.Command, args []string) error {
	ctx, app, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer app.Close()

	if err := app.Cards.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[0])
	return nil
}

func runCardsTag(cmd *cobra.Command, args []string) error {
	if len(tagAdd) == 0 && len(tagRemove) == 0 {
		return fmt.Errorf("nothing to do: use --add or --remove")
	}
	ctx, app, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer app.Close()

	if err := app.Cards.ApplyTags(ctx, args, tagAdd, tagRemove); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "updated %d cards\n", len(args))
	return nil
}

func runCardsImage(cmd *cobra.Command, args []string) error {
	_, app, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer app.Close()

	card, err := app.Cards.Get(args[0])
	if err != nil {
		return err
	}
	if len(card.ImageBytes) == 0 {
		return fmt.Errorf("card %s has no stored image", card.ID)
	}

	path := imageOutput
	if path == "" {
		path = utils.SanitizeFilename(card.ID) + "." + previewExt(card.ImageBytes)
	}
	if err := os.WriteFile(path, card.ImageBytes, 0o644); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

// previewExt guesses the extension of a stored preview from its magic bytes.
func previewExt(b []byte) string {
	if len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WEBP" {
		return "webp"
	}
	return "jpg"
}
