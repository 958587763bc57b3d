package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"

	"familytasks/internal/security"
	"familytasks/internal/service"
	"familytasks/internal/validation"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// respondWithError writes a JSON error body. A non-nil err is logged with the request's logger.
func respondWithError(w http.ResponseWriter, r *http.Request, status int, code, userMsg string, err error) {
	if err != nil {
		event := hlog.FromRequest(r).Warn()
		if status >= http.StatusInternalServerError {
			event = hlog.FromRequest(r).Error()
		}
		event.Err(err).Int("status", status).Str("code", code).Msg(userMsg)
	}

	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: userMsg}})
}

// respondWithServiceError maps domain errors to their status and code
func respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if ve, ok := validation.AsValidationError(err); ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Code:    CodeValidationFailed,
			Message: ve.Message,
			Field:   ve.Field,
		}})
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrPasswordSetupRequired):
		respondWithError(w, r, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid email or password", nil)
	case errors.Is(err, service.ErrAppUserNotFound):
		respondWithError(w, r, http.StatusUnauthorized, CodeAppUserNotFound, "Account is not a member of any family", nil)
	case errors.Is(err, security.ErrExpiredToken):
		respondWithError(w, r, http.StatusUnauthorized, CodeExpiredToken, "Session expired", nil)
	case errors.Is(err, security.ErrInvalidToken):
		respondWithError(w, r, http.StatusUnauthorized, CodeInvalidToken, "Invalid session token", nil)
	case errors.Is(err, service.ErrForbidden):
		respondWithError(w, r, http.StatusForbidden, CodeForbidden, "Insufficient role", nil)
	case errors.Is(err, service.ErrNotFound):
		respondWithError(w, r, http.StatusNotFound, CodeNotFound, "Not found", nil)
	case errors.Is(err, service.ErrEmailTaken):
		respondWithError(w, r, http.StatusConflict, CodeEmailTaken, "Email already registered", nil)
	case errors.Is(err, service.ErrLastAdmin):
		respondWithError(w, r, http.StatusConflict, CodeLastAdmin, "A family must keep at least one admin", nil)
	case errors.Is(err, service.ErrCannotRemoveSelf):
		respondWithError(w, r, http.StatusConflict, CodeCannotRemoveSelf, "You cannot remove yourself", nil)
	case errors.Is(err, service.ErrInvalidResetToken):
		respondWithError(w, r, http.StatusBadRequest, CodeInvalidResetToken, "Invalid or expired reset link", nil)
	case errors.Is(err, context.DeadlineExceeded):
		w.Header().Set("Retry-After", retryAfterStoreTimeout)
		respondWithError(w, r, http.StatusServiceUnavailable, CodeStoreTimeout, "Service temporarily unavailable", err)
	default:
		respondWithError(w, r, http.StatusInternalServerError, CodeInternal, ErrInternalServerError, err)
	}
}

// decodeJSON reads a bounded JSON request body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("unsupported content type %q", ct)
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}
