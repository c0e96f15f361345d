package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/Proton-105/himera-lend/internal/errors"
)

const codeInternal = "internal"

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

var statusByCode = map[string]int{
	apperrors.CodeValidation:         http.StatusBadRequest,
	apperrors.CodeUserRejected:       http.StatusConflict,
	apperrors.CodeHealthFactor:       http.StatusUnprocessableEntity,
	apperrors.CodeNoDebt:             http.StatusUnprocessableEntity,
	apperrors.CodeInsufficientFunds:  http.StatusUnprocessableEntity,
	apperrors.CodeInsufficientGas:    http.StatusUnprocessableEntity,
	apperrors.CodeOutOfGas:           http.StatusUnprocessableEntity,
	apperrors.CodeInProgress:         http.StatusConflict,
	apperrors.CodeUnsupportedNetwork: http.StatusBadRequest,
	apperrors.CodeDatabase:           http.StatusServiceUnavailable,
	apperrors.CodeExternalAPI:        http.StatusBadGateway,
	apperrors.CodeState:              http.StatusConflict,
	apperrors.CodeNotFound:           http.StatusNotFound,
	apperrors.CodeRateLimit:          http.StatusTooManyRequests,
	apperrors.CodeTxFailed:           http.StatusUnprocessableEntity,
}

// StatusOf maps an error code to its HTTP status.
func StatusOf(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeError logs err through the error handler and writes the localized
// error body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	message, retryable := s.errors.Handle(r.Context(), err)

	code := apperrors.CodeOf(err)
	lang := s.locales.Negotiate(r.Header.Get("Accept-Language"))
	if code == "" {
		message = s.locales.Localize(lang, "", "")
		code = codeInternal
	} else {
		message = s.locales.Localize(lang, code, message)
	}
	if message == "" {
		message = http.StatusText(StatusOf(code))
	}

	writeJSON(w, StatusOf(code), errorResponse{Code: code, Message: message, Retryable: retryable})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return apperrors.NewValidationError("Invalid request body")
	}
	return nil
}
