package handlers

import (
	"errors"
	"net/http"

	"github.com/upb/arca-auth/services"
	"github.com/upb/arca-auth/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses.
// 500 responses carry a generic message only.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	var domainErr *services.DomainError
	message := "An unexpected error occurred"
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}
	details := services.GetErrorDetails(err)
	if len(details) == 0 {
		details = nil
	}

	var writeErr error
	switch {
	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, message)

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, message, details)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, message)

	case services.IsRateLimitError(err):
		writeErr = utils.WriteTooManyRequests(w, message, details)

	case services.IsUnavailableError(err):
		logger.Error("upstream unavailable", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "Service temporarily unavailable, please retry")

	case services.IsInternalError(err):
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, message)

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}
	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}

	if domainErr != nil {
		logger.Debug("handled service error",
			zap.String("type", string(domainErr.Type)),
			zap.String("message", domainErr.Message),
			zap.Any("details", domainErr.Details))
	}
}

// HandleValidationError handles errors from request body decoding
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var writeErr error
	switch {
	case errors.Is(err, utils.ErrUnsupportedMediaType):
		writeErr = utils.WriteError(w, http.StatusUnsupportedMediaType, err.Error(), nil)
	case utils.IsValidationError(err):
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		writeErr = utils.WriteBadRequest(w, err.Error(), details)
	default:
		writeErr = utils.WriteBadRequest(w, "Invalid request body", nil)
	}
	if writeErr != nil {
		logger.Error("failed to write validation error response", zap.Error(writeErr))
	}
}
