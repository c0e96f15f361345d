// Package jobs runs periodic background work on asynq: warming exchange rates
// and pruning old history.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeRatesRefresh = "rates:refresh"
	TaskTypeHistoryPrune = "history:prune"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// DefaultQueues weights the worker's queues.
var DefaultQueues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

// RatesRefreshPayload selects networks to refresh. Empty means all.
type RatesRefreshPayload struct {
	Networks []string `json:"networks,omitempty"`
}

// HistoryPrunePayload removes history older than OlderThan.
type HistoryPrunePayload struct {
	OlderThan time.Duration `json:"older_than"`
}

func NewRatesRefreshTask(networks ...string) (*asynq.Task, error) {
	payload, err := json.Marshal(RatesRefreshPayload{Networks: networks})
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", TaskTypeRatesRefresh, err)
	}
	return asynq.NewTask(TaskTypeRatesRefresh, payload,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(2),
		asynq.Timeout(time.Minute),
	), nil
}

func NewHistoryPruneTask(olderThan time.Duration) (*asynq.Task, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("history retention must be positive")
	}
	payload, err := json.Marshal(HistoryPrunePayload{OlderThan: olderThan})
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", TaskTypeHistoryPrune, err)
	}
	return asynq.NewTask(TaskTypeHistoryPrune, payload, asynq.Queue(QueueLow)), nil
}
