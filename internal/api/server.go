// Package api exposes text generation over HTTP. The engine behind the
// server owns a single model instance with mutable cache state, so requests
// are serialized; concurrency comes from running more instances.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/condense/internal/generate"
	"github.com/samcharles93/condense/internal/logger"
)

// Engine is the generation backend behind the server.
type Engine interface {
	GenerateText(ctx context.Context, prompt string, maxNewTokens int) (string, generate.Stats, error)
}

type Server struct {
	engine Engine
	log    logger.Logger
	clock  func() time.Time

	// Guards the engine's cache state across requests.
	mu sync.Mutex
}

func NewServer(engine Engine, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		engine: engine,
		log:    log,
		clock:  time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/generate", s.handleGenerate)
	e.GET("/healthz", s.handleHealth)
}

func (s *Server) handleGenerate(c *echo.Context) error {
	if s.engine == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "generation engine not configured")
	}
	req, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Prompt == "" {
		return writeBadRequest(c, "prompt must not be empty")
	}
	if req.MaxNewTokens < 0 {
		return writeBadRequest(c, "max_new_tokens must not be negative")
	}

	s.mu.Lock()
	text, stats, err := s.engine.GenerateText(c.Request().Context(), req.Prompt, req.MaxNewTokens)
	s.mu.Unlock()
	if err != nil {
		s.log.Error("generation failed", "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}

	s.log.Info("generation complete",
		"tokens", stats.TokensGenerated, "tps", stats.TPS)
	return writeJSON(c, http.StatusOK, GenerateResponse{
		ID:        newGenerationID(),
		Object:    "generation",
		CreatedAt: s.clock().Unix(),
		Text:      text,
		Usage: Usage{
			CompletionTokens: stats.TokensGenerated,
			TokensPerSecond:  stats.TPS,
		},
	})
}

func (s *Server) handleHealth(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, healthResponse{Status: "ok"})
}

func newGenerationID() string {
	return "gen_" + uuid.NewString()
}
