package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	apperrors "github.com/Proton-105/himera-lend/internal/errors"
	"github.com/Proton-105/himera-lend/internal/idempotency"
)

const (
	// IdempotencyHeader carries the client-chosen key.
	IdempotencyHeader = "Idempotency-Key"
	// ReplayedHeader marks a response served from a stored record.
	ReplayedHeader = "Idempotent-Replayed"

	maxIdempotencyKey = 255
	maxIdempotentBody = 1 << 20
	replayContentType = "application/json"
)

// serverFailure carries a 5xx response out of the operation so it is written
// but not stored.
type serverFailure struct {
	rec *httptest.ResponseRecorder
}

func (serverFailure) Error() string { return "handler failed" }

// Idempotency replays the first response for requests repeating an
// Idempotency-Key. Requests without the header pass through. 5xx responses
// are not stored.
func Idempotency(manager idempotency.Manager, ttl time.Duration, writeErr ErrorWriter, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return func(next http.Handler) http.Handler {
		if manager == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(IdempotencyHeader)
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(header) > maxIdempotencyKey {
				writeErr(w, r, apperrors.NewValidationError("Invalid idempotency key"))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody))
			if err != nil {
				writeErr(w, r, apperrors.NewValidationError("Invalid request body"))
				return
			}

			key := idempotency.GenerateKey(r.Method, r.URL.Path, Identity(r), header)
			result, err := manager.Execute(r.Context(), key, idempotency.Fingerprint(body), ttl, func(ctx context.Context) (*idempotency.Response, error) {
				rec := httptest.NewRecorder()
				req := r.WithContext(ctx)
				req.Body = io.NopCloser(bytes.NewReader(body))

				next.ServeHTTP(rec, req)

				if rec.Code >= http.StatusInternalServerError {
					return nil, serverFailure{rec: rec}
				}
				return &idempotency.Response{StatusCode: rec.Code, Body: rec.Body.Bytes()}, nil
			})

			var failure serverFailure
			switch {
			case errors.As(err, &failure):
				copyRecorded(w, failure.rec)
				return
			case errors.Is(err, idempotency.ErrRequestInProgress):
				writeErr(w, r, apperrors.NewInProgressError("idempotency key"))
				return
			case errors.Is(err, idempotency.ErrKeyReused):
				writeErr(w, r, apperrors.NewValidationError("Idempotency key reused with a different request"))
				return
			case err != nil:
				log.Warn("idempotency store unavailable", slog.Any("error", err))
				r.Body = io.NopCloser(bytes.NewReader(body))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Content-Type", replayContentType)
			if result.FromCache {
				w.Header().Set(ReplayedHeader, "true")
			}
			status := result.Response.StatusCode
			if status == 0 {
				status = http.StatusOK
			}
			w.WriteHeader(status)
			_, _ = w.Write(result.Response.Body)
		})
	}
}

func copyRecorded(w http.ResponseWriter, rec *httptest.ResponseRecorder) {
	for key, values := range rec.Header() {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(rec.Code)
	_, _ = rec.Body.WriteTo(w)
}
