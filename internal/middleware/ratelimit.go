package middleware

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	apperrors "github.com/Proton-105/himera-lend/internal/errors"
	"github.com/Proton-105/himera-lend/internal/ratelimit"
)

// WalletHeader lets clients identify their wallet on routes without a user
// path parameter.
const WalletHeader = "X-Wallet-Address"

// ErrorWriter renders err as the API error response.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// RateLimit enforces the configured rules on API routes.
type RateLimit struct {
	limiter  ratelimit.Limiter
	rules    *ratelimit.Rules
	writeErr ErrorWriter
	log      *slog.Logger
	now      func() time.Time
}

// NewRateLimit builds the middleware set. A nil limiter or rules disables it.
func NewRateLimit(limiter ratelimit.Limiter, rules *ratelimit.Rules, writeErr ErrorWriter, log *slog.Logger) *RateLimit {
	if log == nil {
		log = slog.Default()
	}

	return &RateLimit{
		limiter:  limiter,
		rules:    rules,
		writeErr: writeErr,
		log:      log,
		now:      time.Now,
	}
}

// Global limits all requests together.
func (m *RateLimit) Global(next http.Handler) http.Handler {
	if !m.active() {
		return next
	}
	return m.enforce(next, m.rules.Global, func(*http.Request) string { return "global" })
}

// PerAddress limits each wallet, or each client IP when no wallet is known.
func (m *RateLimit) PerAddress(next http.Handler) http.Handler {
	if !m.active() {
		return next
	}
	return m.enforce(next, m.rules.PerAddress, func(r *http.Request) string { return "addr:" + Identity(r) })
}

// Submit limits transaction submissions per identity.
func (m *RateLimit) Submit(next http.Handler) http.Handler {
	if !m.active() {
		return next
	}
	return m.enforce(next, m.rules.Submit, func(r *http.Request) string { return "submit:" + Identity(r) })
}

func (m *RateLimit) active() bool {
	return m != nil && m.limiter != nil && m.rules != nil
}

func (m *RateLimit) enforce(next http.Handler, rule ratelimit.Rule, keyOf func(*http.Request) string) http.Handler {
	if !rule.Enabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.rules.IsWhitelisted(Identity(r)) || m.rules.IsWhitelisted(clientIP(r)) {
			next.ServeHTTP(w, r)
			return
		}

		key := keyOf(r)
		result, err := m.limiter.Check(r.Context(), key, rule.Limit, rule.Window)
		if err != nil && !errors.Is(err, ratelimit.ErrLimitExceeded) {
			m.log.Warn("rate limiter error", slog.String("rule", rule.Name), slog.String("key", key), slog.Any("error", err))
			next.ServeHTTP(w, r)
			return
		}

		if result != nil {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		}

		if result != nil && !result.Allowed {
			retryAfter := result.RetryAfter(m.now())
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			m.log.Warn("rate limit exceeded", slog.String("rule", rule.Name), slog.String("key", key))
			m.writeErr(w, r, apperrors.NewRateLimitError(retryAfter))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Identity returns the lowercased wallet address of the request: the user
// path parameter, then WalletHeader, then the client IP.
func Identity(r *http.Request) string {
	if user := chi.URLParam(r, "user"); common.IsHexAddress(user) {
		return strings.ToLower(user)
	}
	if wallet := strings.TrimSpace(r.Header.Get(WalletHeader)); common.IsHexAddress(wallet) {
		return strings.ToLower(wallet)
	}
	return clientIP(r)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
