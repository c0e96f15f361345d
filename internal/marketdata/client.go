// Package marketdata reads positions, reserves and USD rates from the Aave
// GraphQL data API and keeps the results the service needs warm.
package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Proton-105/himera-lend/internal/errors"
)

const (
	apiName          = "aave-graphql"
	DefaultEndpoint  = "https://api.v3.aave.com/graphql"
	maxResponseBytes = 4 << 20
)

var requestRecorder = func(query, result string, d time.Duration) {}

// RegisterRequestRecorder allows external packages to observe data API calls.
func RegisterRequestRecorder(recorder func(query, result string, d time.Duration)) {
	if recorder == nil {
		requestRecorder = func(string, string, time.Duration) {}
		return
	}

	requestRecorder = recorder
}

// Market addresses one Aave V3 market in the data API.
type Market struct {
	ChainID int64  `json:"chainId"`
	Address string `json:"address"`
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRetryPolicy replaces the default read retry policy.
func WithRetryPolicy(policy apperrors.RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = policy
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *apperrors.CircuitBreaker) ClientOption {
	return func(c *Client) {
		if cb != nil {
			c.breaker = cb
		}
	}
}

// Client posts GraphQL queries to the data API. Every call is a read, so
// failures are retried and counted by the breaker.
type Client struct {
	endpoint string
	http     *http.Client
	breaker  *apperrors.CircuitBreaker
	retry    apperrors.RetryPolicy
	log      *slog.Logger
}

func NewClient(endpoint string, timeout time.Duration, log *slog.Logger, opts ...ClientOption) *Client {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		retry:    apperrors.DefaultRetryPolicy,
		log:      log,
	}
	c.breaker = apperrors.NewCircuitBreaker(apiName, apperrors.BreakerSettings{
		OnStateChange: func(name string, from, to apperrors.State) {
			c.log.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// query runs one named GraphQL operation and decodes its data into out.
func (c *Client) query(ctx context.Context, name, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", name, err)
	}

	start := time.Now()
	err = c.retry.Do(ctx, func() error {
		return c.breaker.Call(func() error {
			return c.post(ctx, name, body, out)
		})
	})

	result := "success"
	if err != nil {
		result = "error"
		c.log.Warn("data api query failed",
			slog.String("query", name),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
	}
	requestRecorder(name, result, time.Since(start))

	if errors.Is(err, apperrors.ErrCircuitOpen) || errors.Is(err, apperrors.ErrHalfOpenTooManyRequests) {
		return apperrors.NewExternalAPIError(apiName, err)
	}
	return err
}

func (c *Client) post(ctx context.Context, name string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.NewExternalAPIError(apiName, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperrors.NewExternalAPIError(apiName, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := apperrors.NewExternalAPIError(apiName, fmt.Errorf("GraphQL request failed: %s", resp.Status))
		// Client errors will not improve on retry.
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			apiErr.Retryable = false
		}
		return apiErr
	}

	var decoded graphQLResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return apperrors.NewExternalAPIError(apiName, fmt.Errorf("decode %s response: %w", name, err))
	}
	if len(decoded.Errors) > 0 {
		messages := make([]string, 0, len(decoded.Errors))
		for _, e := range decoded.Errors {
			messages = append(messages, e.Message)
		}
		apiErr := apperrors.NewExternalAPIError(apiName, fmt.Errorf("%s: %s", name, strings.Join(messages, ", ")))
		apiErr.Retryable = false
		return apiErr
	}
	if out == nil || len(decoded.Data) == 0 || string(decoded.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(decoded.Data, out); err != nil {
		return apperrors.NewExternalAPIError(apiName, fmt.Errorf("decode %s data: %w", name, err))
	}

	return nil
}
