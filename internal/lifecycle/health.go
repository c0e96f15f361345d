package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/Proton-105/himera-lend/internal/health"
)

// ErrNotReady is returned by Readiness before startup finished or once shutdown
// has begun.
var ErrNotReady = errors.New("service is not ready")

// HealthChecker exposes liveness and readiness probes.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

// Probes answers liveness unconditionally and readiness from the dependency
// checker.
type Probes struct {
	log     *slog.Logger
	checker *health.Checker
	ready   atomic.Bool
}

// NewProbes creates probes over checker. A nil checker makes readiness depend
// only on MarkReady.
func NewProbes(checker *health.Checker, log *slog.Logger) *Probes {
	if log == nil {
		log = slog.Default()
	}
	return &Probes{log: log, checker: checker}
}

// MarkReady flips readiness on after startup.
func (p *Probes) MarkReady() {
	p.ready.Store(true)
}

// MarkNotReady flips readiness off, typically when shutdown starts.
func (p *Probes) MarkNotReady() {
	p.ready.Store(false)
}

// Liveness reports that the process is running.
func (p *Probes) Liveness(ctx context.Context) error {
	p.log.Debug("liveness probe called")
	return ctx.Err()
}

// Readiness fails while not marked ready or when a dependency check fails.
func (p *Probes) Readiness(ctx context.Context) error {
	if !p.ready.Load() {
		return ErrNotReady
	}
	if p.checker == nil {
		return nil
	}

	results := p.checker.Check(ctx)
	if health.Healthy(results) {
		return nil
	}

	failed := make([]string, 0, len(results))
	for name, status := range results {
		if status != health.StatusOK {
			failed = append(failed, fmt.Sprintf("%s: %s", name, status))
		}
	}
	sort.Strings(failed)
	return fmt.Errorf("%w: %s", ErrNotReady, strings.Join(failed, "; "))
}

// Details returns the per-component statuses for the readiness endpoint.
func (p *Probes) Details(ctx context.Context) map[string]string {
	if p.checker == nil {
		return map[string]string{}
	}
	return p.checker.Check(ctx)
}
