package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lazypower/secondbrain/internal/engine"
)

// Error codes returned in the error envelope.
const (
	codeBadRequest         = "BAD_REQUEST"
	codeValidationFailed   = "VALIDATION_FAILED"
	codeNotFound           = "NOT_FOUND"
	codeConflict           = "CONFLICT"
	codeServiceUnavailable = "SERVICE_UNAVAILABLE"
	codeTimeout            = "GATEWAY_TIMEOUT"
	codeInternal           = "INTERNAL_SERVER_ERROR"
)

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: errorDetail{
		Code:      code,
		Message:   msg,
		RequestID: middleware.GetReqID(r.Context()),
	}})
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest, codeValidationFailed
	case errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, engine.ErrInvalidFilterKey),
		errors.Is(err, engine.ErrInvalidDecayMode):
		return http.StatusBadRequest, codeBadRequest
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, engine.ErrMergeConflict):
		return http.StatusConflict, codeConflict
	case errors.Is(err, engine.ErrProviderUnavailable),
		errors.Is(err, engine.ErrNoEmbedder):
		return http.StatusServiceUnavailable, codeServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, codeTimeout
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= 500 {
		s.logger.Error("http: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeErrorCode(w, r, status, code, err.Error())
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json: %v", engine.ErrInvalidInput, err)
	}
	return s.validate.Struct(v)
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", engine.ErrInvalidInput, name)
	}
	return n, nil
}

// queryFloat parses an optional float query parameter.
func queryFloat(r *http.Request, name string) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative number", engine.ErrInvalidInput, name)
	}
	return f, nil
}
