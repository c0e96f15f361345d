package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Schedule lists the periodic tasks. An empty cron spec disables its task.
type Schedule struct {
	RatesRefreshCron string
	HistoryPruneCron string
	HistoryRetention time.Duration
}

type Scheduler interface {
	RegisterTasks(schedule Schedule) error
	Run(ctx context.Context) error
}

type scheduler struct {
	asynqScheduler *asynq.Scheduler
	log            *slog.Logger
}

func NewScheduler(redisOpt asynq.RedisConnOpt, log *slog.Logger) Scheduler {
	if log == nil {
		log = slog.Default()
	}

	return &scheduler{
		asynqScheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC}),
		log:            log,
	}
}

func (s *scheduler) RegisterTasks(schedule Schedule) error {
	if schedule.RatesRefreshCron != "" {
		task, err := NewRatesRefreshTask()
		if err != nil {
			return err
		}
		if err := s.register(schedule.RatesRefreshCron, task); err != nil {
			return err
		}
	}

	if schedule.HistoryPruneCron != "" && schedule.HistoryRetention > 0 {
		task, err := NewHistoryPruneTask(schedule.HistoryRetention)
		if err != nil {
			return err
		}
		if err := s.register(schedule.HistoryPruneCron, task); err != nil {
			return err
		}
	}

	return nil
}

func (s *scheduler) register(spec string, task *asynq.Task) error {
	entryID, err := s.asynqScheduler.Register(spec, task)
	if err != nil {
		return fmt.Errorf("register %s on %q: %w", task.Type(), spec, err)
	}

	s.log.Info("scheduler: registered task",
		slog.String("task_type", task.Type()),
		slog.String("cron", spec),
		slog.String("entry_id", entryID),
	)
	return nil
}

// Run starts the scheduler and stops it when ctx is done.
func (s *scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler: starting")
	if err := s.asynqScheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	<-ctx.Done()
	s.log.Info("scheduler: shutting down")
	s.asynqScheduler.Shutdown()
	return nil
}
