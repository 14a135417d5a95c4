package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/upb/medbot/middleware"
	"github.com/upb/medbot/models"
	"github.com/upb/medbot/utils"
	"go.uber.org/zap"
)

// maxQueryBodyBytes bounds the JSON body of a query request
const maxQueryBodyBytes = 1 << 20

// QueryService answers one question. Implemented by rag.Pipeline.
type QueryService interface {
	Run(ctx context.Context, query string) (*models.Answer, error)
}

// QueryHandler handles question answering over the JSON API
type QueryHandler struct {
	service QueryService
	logger  *zap.Logger
}

// NewQueryHandler creates a new QueryHandler
func NewQueryHandler(service QueryService, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{
		service: service,
		logger:  logger,
	}
}

// HandleQuery handles POST /api/v1/query
func (h *QueryHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req models.Query
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBodyBytes)).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	answer, err := h.service.Run(ctx, req.Text)
	if err != nil {
		h.logger.Warn("query failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, r, err, h.logger)
		return
	}

	h.logger.Info("query answered",
		zap.String("request_id", requestID),
		zap.String("answer_id", answer.ID.String()),
		zap.Int("documents", len(answer.SourceDocuments)),
		zap.Int64("latency_ms", answer.LatencyMs))

	if err := utils.WriteOK(w, answer); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}
