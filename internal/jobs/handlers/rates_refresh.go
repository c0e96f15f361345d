// Package handlers processes asynq tasks.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/himera-lend/internal/domain"
	"github.com/Proton-105/himera-lend/internal/jobs"
)

// RateRefresher is satisfied by *marketdata.Rates.
type RateRefresher interface {
	Refresh(ctx context.Context, network domain.Network) ([]domain.ExchangeRate, error)
	RefreshAll(ctx context.Context) error
}

type RatesRefreshHandler struct {
	rates RateRefresher
	log   *slog.Logger
}

func NewRatesRefreshHandler(rates RateRefresher, log *slog.Logger) *RatesRefreshHandler {
	if log == nil {
		log = slog.Default()
	}
	return &RatesRefreshHandler{rates: rates, log: log}
}

// ProcessTask refreshes the payload's networks. A malformed payload is not
// retried.
func (h *RatesRefreshHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.RatesRefreshPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			h.log.ErrorContext(ctx, "rates refresh: failed to decode payload", slog.String("task_type", t.Type()), slog.String("error", err.Error()))
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
	}

	if len(payload.Networks) == 0 {
		if err := h.rates.RefreshAll(ctx); err != nil {
			h.log.WarnContext(ctx, "rates refresh failed", slog.String("error", err.Error()))
			return err
		}
		h.log.InfoContext(ctx, "rates refreshed", slog.String("scope", "all"))
		return nil
	}

	var errs []error
	for _, raw := range payload.Networks {
		network := domain.ParseNetwork(raw)
		rates, err := h.rates.Refresh(ctx, network)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", network, err))
			continue
		}
		h.log.InfoContext(ctx, "rates refreshed", slog.String("network", network.String()), slog.Int("count", len(rates)))
	}
	if err := errors.Join(errs...); err != nil {
		h.log.WarnContext(ctx, "rates refresh failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}
