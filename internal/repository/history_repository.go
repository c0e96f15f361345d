// Package repository implements SQL-backed storage for action history.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Proton-105/himera-lend/internal/domain"
	apperrors "github.com/Proton-105/himera-lend/internal/errors"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// HistoryRepository persists action outcomes in tx_history.
type HistoryRepository interface {
	Record(ctx context.Context, outcome domain.ActionOutcome) error
	ListByUser(ctx context.Context, user string, limit int) ([]domain.ActionOutcome, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type historyRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewHistoryRepository creates a SQL-backed history repository.
func NewHistoryRepository(db *sql.DB, log *slog.Logger) HistoryRepository {
	if log == nil {
		log = slog.Default()
	}

	return &historyRepository{
		db:  db,
		log: log,
	}
}

// Record appends one outcome.
func (r *historyRepository) Record(ctx context.Context, outcome domain.ActionOutcome) error {
	const query = `
		INSERT INTO tx_history (
			action, network, user_address, asset, symbol, amount, status,
			tx_hash, block_number, gas_used, error_code, error_message, duration_ms, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	at := outcome.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	if _, err := r.db.ExecContext(
		ctx,
		query,
		string(outcome.Action),
		outcome.Network.String(),
		strings.ToLower(outcome.User),
		outcome.Asset,
		outcome.Symbol,
		outcome.Amount,
		outcome.Status,
		outcome.Hash,
		int64(outcome.BlockNumber),
		int64(outcome.GasUsed),
		outcome.ErrorCode,
		outcome.ErrorMessage,
		outcome.Duration.Milliseconds(),
		at,
	); err != nil {
		r.log.Error("failed to record action outcome",
			slog.String("action", string(outcome.Action)),
			slog.String("status", outcome.Status),
			slog.Any("error", err),
		)
		return apperrors.NewDatabaseError(fmt.Errorf("insert tx history: %w", err))
	}

	return nil
}

// ListByUser returns the latest outcomes of user, newest first.
func (r *historyRepository) ListByUser(ctx context.Context, user string, limit int) ([]domain.ActionOutcome, error) {
	const query = `
		SELECT action, network, user_address, asset, symbol, amount, status,
			tx_hash, block_number, gas_used, error_code, error_message, duration_ms, created_at
		FROM tx_history
		WHERE user_address = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, strings.ToLower(user), clampLimit(limit))
	if err != nil {
		r.log.Error("failed to list tx history", slog.String("user", user), slog.Any("error", err))
		return nil, apperrors.NewDatabaseError(fmt.Errorf("select tx history: %w", err))
	}
	defer rows.Close()

	var out []domain.ActionOutcome
	for rows.Next() {
		var (
			outcome     domain.ActionOutcome
			action      string
			network     string
			blockNumber int64
			gasUsed     int64
			durationMS  int64
		)
		if err := rows.Scan(
			&action,
			&network,
			&outcome.User,
			&outcome.Asset,
			&outcome.Symbol,
			&outcome.Amount,
			&outcome.Status,
			&outcome.Hash,
			&blockNumber,
			&gasUsed,
			&outcome.ErrorCode,
			&outcome.ErrorMessage,
			&durationMS,
			&outcome.At,
		); err != nil {
			return nil, apperrors.NewDatabaseError(fmt.Errorf("scan tx history: %w", err))
		}
		outcome.Action = domain.Action(action)
		outcome.Network = domain.Network(network)
		outcome.BlockNumber = uint64(blockNumber)
		outcome.GasUsed = uint64(gasUsed)
		outcome.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError(fmt.Errorf("iterate tx history: %w", err))
	}

	return out, nil
}

// Prune deletes records created before the cutoff and returns how many went.
func (r *historyRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM tx_history WHERE created_at < $1`

	res, err := r.db.ExecContext(ctx, query, before.UTC())
	if err != nil {
		return 0, apperrors.NewDatabaseError(fmt.Errorf("prune tx history: %w", err))
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.NewDatabaseError(fmt.Errorf("prune tx history: %w", err))
	}
	if removed > 0 {
		r.log.Info("tx history pruned", slog.Int64("rows", removed), slog.Time("before", before))
	}
	return removed, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultHistoryLimit
	case limit > maxHistoryLimit:
		return maxHistoryLimit
	default:
		return limit
	}
}
