// Package live connects a continuous detection stream to on-demand capture.
//
// The detection worker overwrites a single "latest observation" slot; it is
// never queued. Capture snapshots that slot together with the guide frame and
// preview bounds under one lock, so a newer observation arriving while the
// captured photo is processed cannot change the crop.
package live

import (
	"context"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/cardscan/pkg/client"
	"github.com/menta2k/cardscan/pkg/geometry"
	"github.com/menta2k/cardscan/pkg/pipeline"
	"github.com/menta2k/cardscan/pkg/types"
)

// Observation is the latest live detection result.
type Observation struct {
	// Quad is nil when the frame had no card.
	Quad *types.Quad
	At   time.Time
}

// Session holds the live state shared by the detection worker and capture.
type Session struct {
	mu          sync.Mutex
	tracker     *geometry.Tracker
	latest      Observation
	guide       *types.Box
	preview     types.Size
	orientation geometry.Orientation

	logger *zap.Logger
	now    func() time.Time
}

// NewSession creates a session whose overlay uses the given smoothing factor
// and miss threshold (non-positive values select the defaults).
func NewSession(alpha float64, missFrames int, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		tracker: geometry.NewTracker(alpha, missFrames),
		logger:  logger,
		now:     time.Now,
	}
}

// Publish records the detection for one live frame (nil for a miss).
func (s *Session) Publish(q *types.Quad) {
	var cp *types.Quad
	if q != nil {
		v := *q
		cp = &v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = Observation{Quad: cp, At: s.now()}
	s.tracker.Observe(cp)
}

// Latest returns the most recent observation.
func (s *Session) Latest() Observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyObservation(s.latest)
}

// Overlay returns the smoothed outline to draw and whether it is visible.
func (s *Session) Overlay() (types.Quad, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Current()
}

// SetGuide sets the on-screen alignment box (display space).
func (s *Session) SetGuide(guide types.Box) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := guide
	s.guide = &g
}

// SetPreviewBounds sets the size of the preview the guide is drawn over.
func (s *Session) SetPreviewBounds(size types.Size) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preview = size
}

// SetOrientation sets the rotation that makes captured buffers upright.
func (s *Session) SetOrientation(o geometry.Orientation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orientation = o
}

// Capture pairs a full-resolution photo with the live geometry as it was at
// the moment of the call. The returned Input shares nothing with the session.
func (s *Session) Capture(img image.Image) pipeline.Input {
	s.mu.Lock()
	obs := copyObservation(s.latest)
	var guide *types.Box
	if s.guide != nil {
		g := *s.guide
		guide = &g
	}
	in := pipeline.Input{
		Source:      "capture",
		Image:       img,
		Orientation: s.orientation,
		Quad:        obs.Quad,
		Guide:       guide,
		Preview:     s.preview,
	}
	s.mu.Unlock()

	s.logger.Debug("capture snapshot",
		zap.Bool("has_quad", in.Quad != nil),
		zap.Bool("has_guide", in.Guide != nil),
		zap.Stringer("orientation", in.Orientation),
	)
	return in
}

// Run detects on every frame until frames is closed or ctx is done. Detector
// errors count as misses. Frames that arrive while a detection runs are left
// in the channel; callers that want only the newest frame should use a
// buffered channel of size one and drop on send.
func (s *Session) Run(ctx context.Context, frames <-chan image.Image, detector client.Detector, opts client.DetectOptions) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			quad, err := detector.Detect(ctx, frame, opts)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Debug("live detection failed", zap.Error(err))
				quad = nil
			}
			s.Publish(quad)
		}
	}
}

func copyObservation(o Observation) Observation {
	if o.Quad != nil {
		q := *o.Quad
		o.Quad = &q
	}
	return o
}
