package handlers

import (
	"errors"
	"net/http"

	"github.com/upb/medbot/middleware"
	"github.com/upb/medbot/services"
	"github.com/upb/medbot/utils"
	"go.uber.org/zap"
)

// StatusForError maps a domain error to the HTTP status returned to clients
func StatusForError(err error) int {
	switch {
	case services.IsValidationError(err):
		return http.StatusBadRequest
	case services.IsUnauthorizedError(err):
		return http.StatusUnauthorized
	case services.IsRateLimitError(err):
		return http.StatusTooManyRequests
	case isUpstreamError(err) && services.IsTimeout(err):
		return http.StatusGatewayTimeout
	case services.IsEmbeddingError(err):
		return http.StatusBadGateway
	case services.IsRetrievalError(err):
		return http.StatusServiceUnavailable
	case services.IsGenerationError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func isUpstreamError(err error) bool {
	return services.IsEmbeddingError(err) || services.IsRetrievalError(err) || services.IsGenerationError(err)
}

// clientMessage returns the message safe to show a client. Causes from
// upstream services stay in the logs.
func clientMessage(err error) string {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) && domainErr.Type != services.ErrorTypeInternal {
		return domainErr.Message
	}
	return "An internal error occurred"
}

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	status := StatusForError(err)
	details := services.GetErrorDetails(err)
	requestID := middleware.GetRequestIDFromContext(r.Context())

	if status == http.StatusInternalServerError {
		// Internal causes are logged, never returned
		logger.Error("internal server error",
			zap.String("request_id", requestID),
			zap.String("error_type", string(services.GetErrorType(err))),
			zap.Error(err))
		details = nil
	} else {
		logger.Debug("handled service error",
			zap.String("request_id", requestID),
			zap.String("type", string(services.GetErrorType(err))),
			zap.Any("details", details))
	}

	if len(details) == 0 {
		details = nil
	}

	if err := utils.WriteErrorWithRequestID(w, status, clientMessage(err), requestID, details); err != nil {
		logger.Error("failed to write error response", zap.Error(err))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{})
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
