// Package httpapi exposes documents, podcast generation and playback
// sessions over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loqalabs/studycast/internal/docstore"
	"github.com/loqalabs/studycast/internal/eventstore"
	"github.com/loqalabs/studycast/internal/media"
	"github.com/loqalabs/studycast/internal/orchestrator"
	"github.com/loqalabs/studycast/internal/playback"
	"github.com/loqalabs/studycast/internal/podcast"
	"github.com/loqalabs/studycast/internal/script"
	"github.com/loqalabs/studycast/internal/storage"
)

// StudyWriter produces the text study artifacts.
type StudyWriter interface {
	Summary(ctx context.Context, source string) (string, error)
	Questions(ctx context.Context, source string) ([]script.Question, error)
}

type Deps struct {
	Docs     *docstore.Store
	Events   *eventstore.Store
	Pipeline *podcast.Pipeline
	Players  *podcast.Players
	Study    StudyWriter
	Store    storage.Store
	Metrics  http.Handler
	Ready    func() bool
}

type Server struct {
	deps   Deps
	router *gin.Engine
	logger *slog.Logger
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		deps:   deps,
		router: gin.New(),
		logger: logger.With(slog.String("component", "http")),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/readyz", s.handleReady)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/documents", s.listDocuments)
		v1.POST("/documents", s.createDocument)
		v1.GET("/documents/:id", s.getDocument)
		v1.DELETE("/documents/:id", s.deleteDocument)

		v1.POST("/documents/:id/summary", s.summary)
		v1.POST("/documents/:id/questions", s.questions)

		v1.POST("/documents/:id/podcast", s.generatePodcast)
		v1.DELETE("/documents/:id/podcast", s.deletePodcast)
		v1.GET("/documents/:id/podcast/audio", s.podcastAudio)
		v1.GET("/documents/:id/runs", s.listRuns)
		v1.GET("/runs/:run/events", s.listRunEvents)

		player := v1.Group("/documents/:id/player")
		player.POST("", s.openPlayer)
		player.GET("", s.playerSnapshot)
		player.DELETE("", s.closePlayer)
		player.POST("/play", s.playerPlay)
		player.POST("/pause", s.playerPause)
		player.POST("/toggle", s.playerToggle)
		player.POST("/seek", s.playerSeek)
		player.POST("/skip", s.playerSkip)
		player.POST("/rate", s.playerRate)
		player.POST("/volume", s.playerVolume)
		player.GET("/events", s.playerEvents)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleReady(c *gin.Context) {
	if s.deps.Ready == nil || s.deps.Ready() {
		c.String(http.StatusOK, "ready")
		return
	}
	c.String(http.StatusServiceUnavailable, "not ready")
}

// fail writes err as JSON with a status derived from its type.
func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
	}
	c.JSON(status, gin.H{"error": podcast.UserMessage(err), "detail": err.Error()})
}

func statusFor(err error) int {
	var (
		partial  *orchestrator.PartialFailure
		gen      *script.GenerationError
		assembly *media.AssemblyError
		play     *playback.PlaybackError
	)
	switch {
	case errors.Is(err, docstore.ErrNotFound), errors.Is(err, storage.ErrNotFound), errors.Is(err, podcast.ErrNoPodcast):
		return http.StatusNotFound
	case errors.Is(err, podcast.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, script.ErrEmptySource):
		return http.StatusUnprocessableEntity
	case errors.As(err, &play):
		if errors.Is(err, playback.ErrNoTrack) {
			return http.StatusConflict
		}
		if errors.Is(err, playback.ErrUnsupportedRate) {
			return http.StatusBadRequest
		}
		return http.StatusUnprocessableEntity
	case errors.As(err, &partial), errors.As(err, &gen), errors.As(err, &assembly):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
