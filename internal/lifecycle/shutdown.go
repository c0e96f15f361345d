// Package lifecycle coordinates readiness and graceful shutdown of the server.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Shutdown runs registered hooks in parallel once.
type Shutdown struct {
	mu    sync.Mutex
	hooks []Hook
	once  sync.Once
	err   error
	log   *slog.Logger
}

// NewShutdown constructs a new Shutdown coordinator.
func NewShutdown(log *slog.Logger) *Shutdown {
	if log == nil {
		log = slog.Default()
	}

	return &Shutdown{log: log}
}

// Register adds a named shutdown hook.
func (s *Shutdown) Register(name string, fn func(context.Context) error) {
	s.RegisterHook(Hook{Name: name, Fn: fn})
}

// RegisterHook adds hook.
func (s *Shutdown) RegisterHook(hook Hook) {
	if hook.Fn == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.hooks = append(s.hooks, hook)
}

// Execute runs all registered hooks concurrently and waits for completion.
// Later calls return the result of the first.
func (s *Shutdown) Execute(ctx context.Context) error {
	s.once.Do(func() {
		s.err = s.execute(ctx)
	})
	return s.err
}

func (s *Shutdown) execute(ctx context.Context) error {
	s.mu.Lock()
	hooks := append([]Hook(nil), s.hooks...)
	s.mu.Unlock()

	start := time.Now()
	s.log.Info("shutdown sequence started", slog.Int("hook_count", len(hooks)))

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)

	for _, hook := range hooks {
		h := hook
		wg.Add(1)
		go func() {
			defer wg.Done()

			hookCtx, cancel := h.context(ctx)
			defer cancel()

			s.log.Info("running shutdown hook", slog.String("hook", h.Name))
			if err := h.Fn(hookCtx); err != nil {
				s.log.Error("shutdown hook failed", slog.String("hook", h.Name), slog.Any("error", err))
				errMu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", h.Name, err))
				errMu.Unlock()
				return
			}
			s.log.Info("shutdown hook completed", slog.String("hook", h.Name))
		}()
	}

	wg.Wait()
	s.log.Info("shutdown sequence finished", slog.Duration("elapsed", time.Since(start)))

	return errors.Join(errs...)
}
