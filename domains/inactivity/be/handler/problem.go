package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-campus/domains/inactivity/be/service"
	"github.com/zenGate-Global/palmyra-campus/platform/go/jobs"
	platformlogging "github.com/zenGate-Global/palmyra-campus/platform/go/logging"
)

// ProblemDetails is an RFC 7807 error body.
type ProblemDetails struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, op operation) {
	status, problem := h.problemForError(r.Context(), err, op)
	h.writeProblem(w, status, problem)
}

func (h *Handler) problemForError(ctx context.Context, err error, op operation) (int, ProblemDetails) {
	status, title, detail, problemType := classifyError(err)

	logger := h.loggerFrom(ctx)
	fieldsForLog := []zap.Field{
		zap.String("operation", string(op)),
		zap.Int("status", status),
	}

	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("inactivity operation failed", append(fieldsForLog, zap.Error(err))...)
	case status == http.StatusNotFound:
		logger.Info("inactivity resource not found", append(fieldsForLog, zap.Error(err))...)
	default:
		logger.Warn("inactivity request rejected", append(fieldsForLog, zap.Error(err))...)
	}

	return status, h.buildProblem(title, detail, problemType, status)
}

func classifyError(err error) (status int, title, detail, problemType string) {
	switch {
	case errors.Is(err, service.ErrStudentNotFound):
		return http.StatusNotFound, "Resource not found", "student not found", problemTypeNotFound
	case errors.Is(err, service.ErrBranchNotFound):
		return http.StatusNotFound, "Resource not found", "branch not found", problemTypeNotFound
	case errors.Is(err, service.ErrBranchInactive):
		return http.StatusConflict, "Conflict", "branch is not active", problemTypeConflict
	case errors.Is(err, jobs.ErrUnknownJob):
		return http.StatusNotFound, "Resource not found", "job is not registered", problemTypeNotFound
	default:
		return http.StatusInternalServerError, "Internal server error", "an unexpected error occurred", problemTypeInternal
	}
}

func (h *Handler) buildProblem(title, detail, problemType string, status int) ProblemDetails {
	return ProblemDetails{Type: problemType, Title: title, Status: status, Detail: detail}
}

func (h *Handler) writeProblem(w http.ResponseWriter, status int, problem ProblemDetails) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return h.logger
}
