package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Result is the raw window state reported by a Store after pruning.
type Result struct {
	Count    int
	Oldest   time.Time
	Admitted bool
}

// Store holds per-identifier sliding windows of admitted timestamps. Both
// operations prune entries older than now minus the window before acting;
// implementations must make prune-count-record atomic per identifier so
// concurrent workers cannot lose updates.
type Store interface {
	// Take records now for the identifier unless the pruned window already
	// holds limit entries.
	Take(ctx context.Context, id string, window time.Duration, limit int, now time.Time) (Result, error)
	// Peek reports the pruned window without recording anything.
	Peek(ctx context.Context, id string, window time.Duration, now time.Time) (Result, error)
}

type Config struct {
	Window      time.Duration
	MaxRequests int
}

// Limiter applies sliding-window admission control per client identifier.
// When the store is unreachable the limiter fails open: availability of the
// assistant is prioritized over strict quota enforcement.
type Limiter struct {
	store  Store
	window time.Duration
	limit  int
	logger *zap.Logger

	now func() time.Time
}

func New(store Store, cfg Config, logger *zap.Logger) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 60
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		store:  store,
		window: cfg.Window,
		limit:  cfg.MaxRequests,
		logger: logger,
		now:    time.Now,
	}
}

// Check admits or rejects one request for the identifier.
func (l *Limiter) Check(ctx context.Context, id string) Decision {
	now := l.now().UTC()
	result, err := l.store.Take(ctx, id, l.window, l.limit, now)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, failing open",
			zap.String("identifier", id),
			zap.Error(err))
		return Decision{Allowed: true, Remaining: l.limit - 1, ResetAt: now.Add(l.window)}
	}
	return l.decision(result, now, true)
}

// Status reports the identifier's window without consuming an admission.
func (l *Limiter) Status(ctx context.Context, id string) (Decision, error) {
	now := l.now().UTC()
	result, err := l.store.Peek(ctx, id, l.window, now)
	if err != nil {
		return Decision{}, err
	}
	result.Admitted = result.Count < l.limit
	return l.decision(result, now, false), nil
}

func (l *Limiter) decision(result Result, now time.Time, consumed bool) Decision {
	if !result.Admitted {
		resetAt := now.Add(l.window)
		if !result.Oldest.IsZero() {
			resetAt = result.Oldest.Add(l.window)
		}
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}

	remaining := l.limit - result.Count
	if consumed {
		remaining--
	}
	if remaining < 0 {
		remaining = 0
	}
	resetAt := now.Add(l.window)
	if !result.Oldest.IsZero() {
		resetAt = result.Oldest.Add(l.window)
	}
	return Decision{Allowed: true, Remaining: remaining, ResetAt: resetAt}
}
