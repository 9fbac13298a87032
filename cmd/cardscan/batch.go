package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/menta2k/cardscan"
	"github.com/menta2k/cardscan/internal/utils"
	"github.com/menta2k/cardscan/pkg/collection"
	"github.com/menta2k/cardscan/pkg/geometry"
	"github.com/menta2k/cardscan/pkg/pipeline"
	"github.com/menta2k/cardscan/pkg/report"
)

var (
	batchFormat      string
	batchOutput      string
	batchOrientation string
	batchOCROnly     bool
	batchSave        bool
	batchTags        []string
)

var batchCmd = &cobra.Command{
	Use:   "batch <file|dir>...",
	Short: "Scan many cards and write a report",
	Long: `Scan every image in the given files and directories, one at a time, and write
a JSON, CSV or YAML report. Directories are searched recursively for .jpg,
.jpeg, .png, .bmp and .webp files.

Interrupting the batch (Ctrl-C) lets the card being scanned finish, then stops
and reports what was done.

Examples:
  # Report for a folder of photos
  cardscan batch --format csv --output cards.csv photos/

  # Save every scanned card, tagged with the event
  cardscan batch --save --tag expo-2026 photos/`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVar(&batchFormat, "format", "json", "report format: json|csv|yaml")
	batchCmd.Flags().StringVarP(&batchOutput, "output", "o", "", "report file (default stdout)")
	batchCmd.Flags().StringVar(&batchOrientation, "orientation", "up", "orientation of the raw photos: up|right|down|left")
	batchCmd.Flags().BoolVar(&batchOCROnly, "ocr-only", false, "skip field extraction for every card")
	batchCmd.Flags().BoolVar(&batchSave, "save", false, "store the scanned cards in the collection")
	batchCmd.Flags().StringArrayVar(&batchTags, "tag", nil, "tag applied to every saved card (repeatable)")
}

func runBatch(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(batchFormat)
	if err != nil {
		return err
	}
	orientation, err := geometry.ParseOrientation(batchOrientation)
	if err != nil {
		return err
	}
	files, err := utils.CollectImages(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no images found")
	}

	ctx, app, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer app.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sources := make([]pipeline.Source, len(files))
	for i, f := range files {
		sources[i] = pipeline.FileSource{Path: f, Orientation: orientation, Processor: app.Processor}
	}

	progress := cmd.ErrOrStderr()
	res := app.Pipeline.RunBatch(ctx, sources, pipeline.BatchOptions{
		OCROnly: batchOCROnly,
		OnOutcome: func(i int, out pipeline.Outcome) {
			fmt.Fprintf(progress, "[%d/%d] %s: %s\n", i+1, len(sources), out.Source, out.State)
		},
	})
	if res.Cancelled {
		fmt.Fprintf(progress, "batch cancelled after %d of %d images\n", len(res.Outcomes), len(sources))
	}

	w := cmd.OutOrStdout()
	if batchOutput != "" {
		f, err := os.Create(batchOutput)
		if err != nil {
			return fmt.Errorf("failed to create report: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := finishBatch(context.WithoutCancel(ctx), app, res, batchSave, batchTags, w, format, progress); err != nil {
		return err
	}

	assembled, ocrOnly, failed := res.Counts()
	logger.Info("batch complete",
		zap.Int("assembled", assembled),
		zap.Int("ocr_only", ocrOnly),
		zap.Int("failed", failed),
		zap.Duration("elapsed", res.Elapsed),
	)
	return nil
}

// finishBatch saves the assembled cards when save is set and writes the report.
// The report is written even when saving fails part way.
func finishBatch(ctx context.Context, app *cardscan.App, res pipeline.BatchResult, save bool, tags []string, w io.Writer, format report.Format, progress io.Writer) error {
	var saveErr error
	if save {
		saved, err := saveBatch(ctx, app, res, tags)
		fmt.Fprintf(progress, "saved %d cards\n", saved)
		if err != nil {
			saveErr = err
		}
	}
	if err := report.FromBatch(res).Write(w, format); err != nil {
		return errors.Join(saveErr, fmt.Errorf("failed to write report: %w", err))
	}
	return saveErr
}

// saveBatch stores every assembled card, with the batch tags propagated to each.
func saveBatch(ctx context.Context, app *cardscan.App, res pipeline.BatchResult, tags []string) (int, error) {
	var items []*collection.BatchItem
	var cards []pipeline.Outcome
	for _, out := range res.Outcomes {
		if out.State != pipeline.StateAssembled {
			continue
		}
		items = append(items, &collection.BatchItem{Source: out.Source, Included: true, Tags: out.Card.Tags})
		cards = append(cards, out)
	}

	tagger := collection.NewBatchTagger(items)
	for _, t := range tags {
		tagger.Add(t)
	}

	for i, out := range cards {
		card := *out.Card
		card.Tags = items[i].Tags
		if _, err := app.Cards.Add(ctx, card); err != nil {
			return i, fmt.Errorf("save %s: %w", out.Source, err)
		}
	}
	return len(cards), nil
}

