// Package server exposes scanning and the card collection over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/menta2k/cardscan/internal/logging"
	"github.com/menta2k/cardscan/internal/metrics"
	"github.com/menta2k/cardscan/pkg/collection"
	"github.com/menta2k/cardscan/pkg/extraction"
	"github.com/menta2k/cardscan/pkg/geometry"
	"github.com/menta2k/cardscan/pkg/pipeline"
	"github.com/menta2k/cardscan/pkg/processing"
	"github.com/menta2k/cardscan/pkg/types"
)

// Scanner runs one scan. *pipeline.Pipeline implements it.
type Scanner interface {
	Process(ctx context.Context, in pipeline.Input) pipeline.Outcome
	RecognizeOnly(ctx context.Context, in pipeline.Input) pipeline.Outcome
}

// Config holds HTTP settings.
type Config struct {
	Addr          string
	ReadTimeout   time.Duration
	MaxUploadSize int64
}

// Server is the HTTP API.
type Server struct {
	scanner   Scanner
	cards     *collection.Collection
	processor *processing.Processor
	config    Config
	logger    *zap.Logger
	engine    *gin.Engine
}

// New builds the router.
func New(scanner Scanner, cards *collection.Collection, config Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxUploadSize <= 0 {
		config.MaxUploadSize = 20 << 20
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		scanner:   scanner,
		cards:     cards,
		processor: processing.NewProcessor(),
		config:    config,
		logger:    logger,
		engine:    gin.New(),
	}
	s.routes()
	return s
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	r := s.engine
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(metrics.Middleware())

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.POST("/scan", s.scan)
	v1.GET("/cards", s.listCards)
	v1.POST("/cards/tags", s.applyTags)
	v1.GET("/cards/:id", s.getCard)
	v1.GET("/cards/:id/image", s.getCardImage)
	v1.PATCH("/cards/:id", s.updateCard)
	v1.DELETE("/cards/:id", s.deleteCard)
	v1.POST("/cards/:id/tags", s.addTag)
	v1.DELETE("/cards/:id/tags/:tag", s.removeTag)
	v1.GET("/tags", s.listTags)
	v1.GET("/tags/suggest", s.suggestTags)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.config.Addr,
		Handler:     s.engine,
		ReadTimeout: s.config.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", zap.String("addr", s.config.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped gracefully")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqLogger := s.logger.With(zap.String("method", c.Request.Method), zap.String("path", c.Request.URL.Path))
		c.Request = c.Request.WithContext(logging.ContextWithLogger(c.Request.Context(), reqLogger))
		c.Next()
		reqLogger.Debug("request",
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "cards": s.cards.Len()})
}

// scanResponse is the body of POST /v1/scan.
type scanResponse struct {
	State       string      `json:"state"`
	Message     string      `json:"message"`
	Card        *types.Card `json:"card,omitempty"`
	RawText     string      `json:"raw_text,omitempty"`
	UsedCorners bool        `json:"used_corners"`
	Strategy    string      `json:"strategy"`
}

// scan accepts a multipart upload with an "image" file and optional
// orientation, quad, guide, tags, ocr_only and save fields.
func (s *Server) scan(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadSize)

	in, err := s.scanInput(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	var out pipeline.Outcome
	if c.PostForm("ocr_only") == "true" {
		out = s.scanner.RecognizeOnly(ctx, in)
	} else {
		out = s.scanner.Process(ctx, in)
	}

	resp := scanResponse{
		State:       out.State.String(),
		Message:     out.Message(),
		RawText:     out.RawText,
		UsedCorners: out.UsedCorners,
		Strategy:    string(out.Strategy),
	}

	switch out.State {
	case pipeline.StateAssembled:
		card := *out.Card
		card.Tags = collection.NormalizeTags(splitTags(c.PostForm("tags")))
		if c.DefaultPostForm("save", "true") == "true" {
			card, err = s.cards.Add(ctx, card)
			if err != nil {
				s.fail(c, err)
				return
			}
		}
		resp.Card = &card
		c.JSON(http.StatusCreated, resp)
	case pipeline.StateOCROnly:
		c.JSON(http.StatusOK, resp)
	default:
		c.JSON(scanStatus(out.Err), resp)
	}
}

func (s *Server) scanInput(c *gin.Context) (pipeline.Input, error) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		return pipeline.Input{}, fmt.Errorf("image file is required: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return pipeline.Input{}, fmt.Errorf("failed to read upload: %w", err)
	}
	img, err := s.processor.DecodeImage(data)
	if err != nil {
		return pipeline.Input{}, err
	}

	orientation, err := geometry.ParseOrientation(c.PostForm("orientation"))
	if err != nil {
		return pipeline.Input{}, err
	}

	in := pipeline.Input{
		Source:      header.Filename,
		Image:       img,
		Orientation: orientation,
	}
	if raw := c.PostForm("quad"); raw != "" {
		var q types.Quad
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return pipeline.Input{}, fmt.Errorf("invalid quad: %w", err)
		}
		in.Quad = &q
	}
	if raw := c.PostForm("guide"); raw != "" {
		var g types.Box
		if err := json.Unmarshal([]byte(raw), &g); err != nil {
			return pipeline.Input{}, fmt.Errorf("invalid guide: %w", err)
		}
		in.Guide = &g
	}
	if raw := c.PostForm("preview"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.Preview); err != nil {
			return pipeline.Input{}, fmt.Errorf("invalid preview size: %w", err)
		}
	}
	return in, nil
}

func scanStatus(err error) int {
	switch {
	case errors.Is(err, extraction.ErrExtractionServer):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *Server) listCards(c *gin.Context) {
	q := collection.Query{
		Tag:    c.Query("tag"),
		Search: c.Query("q"),
	}
	if c.Query("order") == "oldest" {
		q.Order = collection.OldestFirst
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		q.Limit = limit
	}

	cards := s.cards.List(q)
	if c.Query("images") != "true" {
		for i := range cards {
			cards[i].ImageBytes = nil
		}
	}
	c.JSON(http.StatusOK, gin.H{"cards": cards, "count": len(cards)})
}

func (s *Server) getCard(c *gin.Context) {
	card, err := s.cards.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

func (s *Server) getCardImage(c *gin.Context) {
	card, err := s.cards.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if len(card.ImageBytes) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "card has no image"})
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(card.ImageBytes), card.ImageBytes)
}

func (s *Server) updateCard(c *gin.Context) {
	var patch collection.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	card, err := s.cards.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

func (s *Server) deleteCard(c *gin.Context) {
	if err := s.cards.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type tagRequest struct {
	Tag string `json:"tag" binding:"required"`
}

func (s *Server) addTag(c *gin.Context) {
	var req tagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	card, err := s.cards.AddTag(c.Request.Context(), c.Param("id"), req.Tag)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

func (s *Server) removeTag(c *gin.Context) {
	card, err := s.cards.RemoveTag(c.Request.Context(), c.Param("id"), c.Param("tag"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

type applyTagsRequest struct {
	IDs    []string `json:"ids" binding:"required"`
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

func (s *Server) applyTags(c *gin.Context) {
	var req applyTagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.cards.ApplyTags(c.Request.Context(), req.IDs, req.Add, req.Remove); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": len(req.IDs)})
}

func (s *Server) listTags(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tags":   s.cards.AllTags(),
		"recent": s.cards.RecentTags(nil),
	})
}

// suggestTags returns autocomplete matches when q is set, otherwise the
// recent/other split for the tags already applied to card (if given).
func (s *Server) suggestTags(c *gin.Context) {
	var applied []string
	if id := c.Query("card"); id != "" {
		card, err := s.cards.Get(id)
		if err != nil {
			s.fail(c, err)
			return
		}
		applied = card.Tags
	}

	if input := c.Query("q"); input != "" {
		c.JSON(http.StatusOK, gin.H{"matches": s.cards.Autocomplete(input, applied)})
		return
	}
	c.JSON(http.StatusOK, s.cards.Suggest(applied))
}

func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, collection.ErrCardNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, collection.ErrInvalidCard):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logging.FromContext(c.Request.Context()).Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
