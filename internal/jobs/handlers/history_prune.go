package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/himera-lend/internal/jobs"
)

// HistoryPruner is satisfied by repository.HistoryRepository.
type HistoryPruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type HistoryPruneHandler struct {
	history HistoryPruner
	log     *slog.Logger
	now     func() time.Time
}

func NewHistoryPruneHandler(history HistoryPruner, log *slog.Logger) *HistoryPruneHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HistoryPruneHandler{history: history, log: log, now: time.Now}
}

func (h *HistoryPruneHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.HistoryPrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.OlderThan <= 0 {
		h.log.ErrorContext(ctx, "history prune: invalid payload", slog.String("task_type", t.Type()))
		return fmt.Errorf("%w: invalid history prune payload", asynq.SkipRetry)
	}

	removed, err := h.history.Prune(ctx, h.now().Add(-payload.OlderThan))
	if err != nil {
		return err
	}
	h.log.InfoContext(ctx, "history pruned", slog.Int64("rows", removed), slog.Duration("older_than", payload.OlderThan))
	return nil
}
