package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/Proton-105/himera-lend/internal/domain"
	apperrors "github.com/Proton-105/himera-lend/internal/errors"
	"github.com/Proton-105/himera-lend/internal/jobs"
	"github.com/Proton-105/himera-lend/internal/marketdata"
	"github.com/Proton-105/himera-lend/internal/prediction"
)

type refreshQueuedResponse struct {
	TaskID  string `json:"taskId"`
	Queue   string `json:"queue"`
	Network string `json:"network"`
}

type ratesResponse struct {
	Network domain.Network        `json:"network"`
	Rates   []domain.ExchangeRate `json:"rates"`
}

type reservesResponse struct {
	Network  domain.Network   `json:"network"`
	Side     marketdata.Side  `json:"side"`
	Reserves []domain.Reserve `json:"reserves"`
}

type historyResponse struct {
	User     string                 `json:"user"`
	Outcomes []domain.ActionOutcome `json:"outcomes"`
}

func networkParam(r *http.Request) domain.Network {
	return domain.ParseNetwork(chi.URLParam(r, "network"))
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	positions, err := s.positions.Positions(ctx, networkParam(r), chi.URLParam(r, "user"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleRefreshPositions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	positions, err := s.positions.Refresh(ctx, networkParam(r), chi.URLParam(r, "user"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	asset, symbol := chi.URLParam(r, "asset"), r.URL.Query().Get("symbol")
	if !common.IsHexAddress(asset) {
		asset, symbol = "", firstNonEmpty(symbol, asset)
	}

	balances, err := s.balances.Balances(ctx, networkParam(r), chi.URLParam(r, "user"), asset, symbol)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func (s *Server) handleReserves(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	side := marketdata.SideSupply
	if raw := r.URL.Query().Get("side"); raw != "" {
		parsed, ok := marketdata.ParseSide(raw)
		if !ok {
			s.writeError(w, r, apperrors.NewValidationError("Invalid market side"))
			return
		}
		side = parsed
	}

	network := networkParam(r)
	reserves, err := s.positions.Reserves(ctx, network, r.URL.Query().Get("user"), side)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if reserves == nil {
		reserves = []domain.Reserve{}
	}
	writeJSON(w, http.StatusOK, reservesResponse{Network: network, Side: side, Reserves: reserves})
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	network := networkParam(r)
	rates, err := s.rates.List(ctx, network)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rates == nil {
		rates = []domain.ExchangeRate{}
	}
	writeJSON(w, http.StatusOK, ratesResponse{Network: network, Rates: rates})
}

// handleRefreshRates queues a refresh when a job queue is configured and
// refreshes inline otherwise.
func (s *Server) handleRefreshRates(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	network := networkParam(r)
	if s.jobs == nil {
		rates, err := s.rates.Refresh(ctx, network)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if rates == nil {
			rates = []domain.ExchangeRate{}
		}
		writeJSON(w, http.StatusOK, ratesResponse{Network: network, Rates: rates})
		return
	}

	if err := s.checkNetwork(network); err != nil {
		s.writeError(w, r, err)
		return
	}

	task, err := jobs.NewRatesRefreshTask(network.String())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := s.jobs.Enqueue(ctx, task)
	if err != nil {
		s.log.Error("enqueue rates refresh failed", slog.String("network", network.String()), slog.String("error", err.Error()))
		s.writeError(w, r, apperrors.NewStateError("Rates refresh could not be queued"))
		return
	}
	writeJSON(w, http.StatusAccepted, refreshQueuedResponse{TaskID: info.ID, Queue: info.Queue, Network: network.String()})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var in prediction.Input
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	in.Network = domain.ParseNetwork(string(in.Network))
	if err := s.checkNetwork(in.Network); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	out, err := s.predictor.Predict(ctx, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	if !common.IsHexAddress(user) {
		s.writeError(w, r, apperrors.NewValidationError("Invalid user address"))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, r, apperrors.NewValidationError("Invalid limit"))
			return
		}
		limit = parsed
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	outcomes, err := s.history.ListByUser(ctx, user, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if outcomes == nil {
		outcomes = []domain.ActionOutcome{}
	}
	writeJSON(w, http.StatusOK, historyResponse{User: common.HexToAddress(user).Hex(), Outcomes: outcomes})
}

func (s *Server) checkNetwork(network domain.Network) error {
	if s.networks == nil {
		return nil
	}
	_, err := s.networks.Lookup(network)
	return err
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}
