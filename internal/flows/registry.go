package flows

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	apperrors "github.com/Proton-105/himera-lend/internal/errors"
)

// Registry stores sessions by id and evicts idle ones.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
	log      *slog.Logger
}

func NewRegistry(ttl time.Duration, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	return &Registry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
		log:      log,
	}
}

func (r *Registry) add(session *Session) {
	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()
}

// Get returns the session with id or a not-found error.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewNotFoundError("Flow")
	}
	return session, nil
}

// Delete removes the session and ends its event subscriptions.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		session.close()
	}
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CountByKind returns the number of sessions per kind.
func (r *Registry) CountByKind() map[Kind]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Kind]int)
	for _, session := range r.sessions {
		out[session.Kind]++
	}
	return out
}

// IDs returns the session ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Reap evicts sessions idle for longer than the TTL. Sessions with a running
// submission are kept.
func (r *Registry) Reap() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var expired []*Session
	for id, session := range r.sessions {
		lastActive, running := session.idleSince()
		if running || lastActive.After(cutoff) {
			continue
		}
		expired = append(expired, session)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, session := range expired {
		session.close()
		r.log.Info("flow session expired", slog.String("session_id", session.ID), slog.String("kind", string(session.Kind)))
	}
	return len(expired)
}

// Run reaps on every interval tick until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if reason := ctx.Err(); reason != nil {
				r.log.Info("flow reaper stopped", slog.String("reason", reason.Error()))
			}
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			r.Reap()
		}
	}
}
