package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/menta2k/cardscan"
	"github.com/menta2k/cardscan/internal/utils"
	"github.com/menta2k/cardscan/pkg/geometry"
	"github.com/menta2k/cardscan/pkg/pipeline"
)

var (
	scanOrientation string
	scanOCROnly     bool
	scanSave        bool
	scanTags        []string
	scanJSON        bool
	scanDebugDir    string
)

var scanCmd = &cobra.Command{
	Use:   "scan <image|url>",
	Short: "Scan one business card",
	Long: `Scan one business card photo: rectify it, recognize its text and extract the
contact fields. When the extraction backend cannot be reached the recognized
text is shown instead.

Examples:
  # Scan and print the extracted fields
  cardscan scan card.jpg

  # Photo taken in landscape, save it to the collection with two tags
  cardscan scan --orientation right --save --tag expo --tag berlin card.jpg

  # Only run text recognition
  cardscan scan --ocr-only card.jpg

  # Write a detection overlay next to the result
  cardscan scan --debug-dir out card.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanOrientation, "orientation", "up", "orientation of the raw photo: up|right|down|left")
	scanCmd.Flags().BoolVar(&scanOCROnly, "ocr-only", false, "skip field extraction and print the recognized text")
	scanCmd.Flags().BoolVar(&scanSave, "save", false, "store the scanned card in the collection")
	scanCmd.Flags().StringArrayVar(&scanTags, "tag", nil, "tag to apply when saving (repeatable)")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "print the outcome as JSON")
	scanCmd.Flags().StringVar(&scanDebugDir, "debug-dir", "", "write a detection overlay image to this directory")
}

func runScan(cmd *cobra.Command, args []string) error {
	orientation, err := geometry.ParseOrientation(scanOrientation)
	if err != nil {
		return err
	}

	ctx, app, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer app.Close()

	source := args[0]
	img, err := app.Processor.LoadImageSmart(ctx, source)
	if err != nil {
		return err
	}
	in := pipeline.Input{Source: source, Image: img, Orientation: orientation}

	if scanDebugDir != "" {
		if err := writeDebugOverlay(cmd, app, in); err != nil {
			logger.Warn("debug overlay failed", zap.Error(err))
		}
	}

	var out pipeline.Outcome
	if scanOCROnly {
		out = app.Pipeline.RecognizeOnly(ctx, in)
	} else {
		out = app.Pipeline.Process(ctx, in)
	}

	if out.State == pipeline.StateAssembled && scanSave {
		card := *out.Card
		card.Tags = scanTags
		saved, err := app.Cards.Add(ctx, card)
		if err != nil {
			return err
		}
		out.Card = &saved
	}

	if scanJSON {
		if err := printOutcomeJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	} else {
		printOutcome(cmd.OutOrStdout(), out)
	}

	if out.State == pipeline.StateFailed {
		return fmt.Errorf("scan failed")
	}
	return nil
}

func writeDebugOverlay(cmd *cobra.Command, app *cardscan.App, in pipeline.Input) error {
	if err := utils.EnsureDir(scanDebugDir); err != nil {
		return err
	}
	quad, err := app.Detector.Detect(cmd.Context(), in.Image, cardscan.DetectOptions(app.Config))
	if err != nil {
		return err
	}
	overlay := app.Processor.CreateDebugOverlay(in.Image, quad, nil)
	path := utils.DebugFilename(in.Source, scanDebugDir)
	if err := app.Processor.SaveImage(overlay, path, "png", 0, false); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "debug overlay: %s (card detected: %t)\n", path, quad != nil)
	return nil
}

func printOutcome(w io.Writer, out pipeline.Outcome) {
	fmt.Fprintln(w, out.Message())
	if out.State != pipeline.StateAssembled {
		return
	}
	c := out.Card
	fmt.Fprintf(w, "  name:       %s\n", c.Name)
	fmt.Fprintf(w, "  company:    %s\n", c.Company)
	fmt.Fprintf(w, "  position:   %s\n", c.Position)
	fmt.Fprintf(w, "  email:      %s\n", c.Email)
	fmt.Fprintf(w, "  confidence: %.2f\n", c.Confidence)
	if len(c.Tags) > 0 {
		fmt.Fprintf(w, "  tags:       %v\n", c.Tags)
	}
	fmt.Fprintf(w, "  geometry:   %s (corners used: %t)\n", out.Strategy, out.UsedCorners)
	fmt.Fprintf(w, "  backends:   %s, %s (%.2f ms)\n", c.Provenance.OCRBackend, c.Provenance.ExtractorBackend, c.Provenance.ProcessingTimeMs)
}

type outcomeJSON struct {
	Source      string `json:"source"`
	State       string `json:"state"`
	Message     string `json:"message"`
	Card        any    `json:"card,omitempty"`
	RawText     string `json:"raw_text,omitempty"`
	Strategy    string `json:"strategy"`
	UsedCorners bool   `json:"used_corners"`
	Error       string `json:"error,omitempty"`
}

func printOutcomeJSON(w io.Writer, out pipeline.Outcome) error {
	doc := outcomeJSON{
		Source:      out.Source,
		State:       out.State.String(),
		Message:     out.Message(),
		RawText:     out.RawText,
		Strategy:    string(out.Strategy),
		UsedCorners: out.UsedCorners,
	}
	if out.Card != nil {
		card := out.Card.Clone()
		card.ImageBytes = nil
		doc.Card = card
	}
	if out.Err != nil {
		doc.Error = out.Err.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
