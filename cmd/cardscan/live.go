package main

import (
	"fmt"
	"image"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/menta2k/cardscan"
	"github.com/menta2k/cardscan/internal/utils"
	"github.com/menta2k/cardscan/pkg/geometry"
	"github.com/menta2k/cardscan/pkg/types"
)

var (
	liveOrientation string
	liveInterval    time.Duration
	liveGuide       string
	livePreview     string
)

var liveCmd = &cobra.Command{
	Use:   "live <frames-dir>",
	Short: "Replay a sequence of camera frames and capture the last one",
	Long: `Replay a directory of camera frames (in file name order) through live card
tracking, then capture the last frame with the tracked outline and scan it.
Useful to reproduce what the camera view saw.

Examples:
  cardscan live --orientation right --guide 0.1,0.3,0.8,0.4 --preview 390,844 frames/`,
	Args: cobra.ExactArgs(1),
	RunE: runLive,
}

func init() {
	liveCmd.Flags().StringVar(&liveOrientation, "orientation", "right", "sensor orientation of the frames: up|right|down|left")
	liveCmd.Flags().DurationVar(&liveInterval, "interval", 0, "delay between frames")
	liveCmd.Flags().StringVar(&liveGuide, "guide", "", "guide frame as x,y,w,h in normalized display coordinates")
	liveCmd.Flags().StringVar(&livePreview, "preview", "", "preview view size as w,h")
}

func runLive(cmd *cobra.Command, args []string) error {
	orientation, err := geometry.ParseOrientation(liveOrientation)
	if err != nil {
		return err
	}
	guide, err := parseFloats(liveGuide, 4)
	if err != nil {
		return fmt.Errorf("invalid --guide: %w", err)
	}
	preview, err := parseFloats(livePreview, 2)
	if err != nil {
		return fmt.Errorf("invalid --preview: %w", err)
	}
	files, err := utils.CollectImages(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no frames found in %s", args[0])
	}

	ctx, app, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer app.Close()

	session := app.NewSession()
	session.SetOrientation(orientation)
	if guide != nil {
		session.SetGuide(types.Box{X: guide[0], Y: guide[1], W: guide[2], H: guide[3]})
	}
	if preview != nil {
		session.SetPreviewBounds(types.Size{W: preview[0], H: preview[1]})
	}

	frames := make(chan image.Image)
	done := make(chan error, 1)
	go func() {
		done <- session.Run(ctx, frames, app.Detector, cardscan.DetectOptions(app.Config))
	}()

	var last image.Image
feed:
	for _, f := range files {
		img, err := app.Processor.LoadImage(f)
		if err != nil {
			logger.Warn("skipping frame", zap.String("frame", f), zap.Error(err))
			continue
		}
		select {
		case frames <- img:
		case <-ctx.Done():
			break feed
		}
		last = img
		if liveInterval > 0 {
			time.Sleep(liveInterval)
		}
	}
	close(frames)
	if err := <-done; err != nil {
		return err
	}
	if last == nil {
		return fmt.Errorf("no frame could be decoded")
	}

	if q, ok := session.Overlay(); ok {
		fmt.Fprintf(cmd.ErrOrStderr(), "tracked outline: confidence %.2f\n", q.Confidence)
	} else {
		fmt.Fprintln(cmd.ErrOrStderr(), "no card tracked; falling back to the guide frame")
	}

	in := session.Capture(last)
	out := app.Pipeline.Process(ctx, in)
	printOutcome(cmd.OutOrStdout(), out)
	return nil
}

// parseFloats parses n comma separated numbers. An empty string yields nil.
func parseFloats(s string, n int) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma separated numbers, got %d", n, len(parts))
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
