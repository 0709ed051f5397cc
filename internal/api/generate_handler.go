package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/chatrelay/internal/api/shared"
	"github.com/phrazzld/chatrelay/internal/generation"
	"github.com/phrazzld/chatrelay/internal/pipeline"
	"github.com/phrazzld/chatrelay/internal/platform/logger"
)

// Generator is the slice of *pipeline.Pipeline the handlers depend on.
type Generator interface {
	Submit(ctx context.Context, req generation.Request) (generation.Result, error)
	Stats() pipeline.Statistics
	Status() pipeline.Status
	ClearCache()
}

var _ Generator = (*pipeline.Pipeline)(nil)

// GenerateHandler serves the generation, statistics and cache endpoints.
type GenerateHandler struct {
	pipeline Generator
	logger   *slog.Logger
}

// NewGenerateHandler creates a new GenerateHandler.
func NewGenerateHandler(p Generator, logger *slog.Logger) *GenerateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerateHandler{
		pipeline: p,
		logger:   logger.With("component", "generate_handler"),
	}
}

// Generate handles POST /v1/generate requests.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req GenerateRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	start := time.Now()
	result, err := h.pipeline.Submit(r.Context(), req.toGenerationRequest())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	log.Info("generation completed",
		"model", result.Model,
		"total_tokens", result.Usage.TotalTokens,
		"duration_ms", time.Since(start).Milliseconds())
	shared.RespondWithJSON(w, r, http.StatusOK, resultToResponse(result))
}

// GetStats handles GET /v1/stats requests.
func (h *GenerateHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, StatsResponse{
		Statistics: h.pipeline.Stats(),
		Status:     h.pipeline.Status(),
	})
}

// ClearCache handles DELETE /v1/cache requests.
func (h *GenerateHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	cleared := h.pipeline.Status().CachedResponses
	h.pipeline.ClearCache()
	logger.FromContextOrDefault(r.Context(), h.logger).Info("cache cleared via API", "entries", cleared)
	shared.RespondWithJSON(w, r, http.StatusOK, CacheClearedResponse{Cleared: cleared})
}
