package wigle

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// defaultRecheck bounds how long Acquire sleeps when the API gave no reset
// time, so a quota top-up is noticed without a reported schedule.
const defaultRecheck = 30 * time.Second

// Budget tracks the shared daily request quota across all concurrent query
// units. Each worker calls Acquire before a request; the count is corrected
// from the quota the API reports on every response. When the budget is
// exhausted, Acquire blocks until the reported reset time passes or the
// context is cancelled; requests are delayed, never dropped.
type Budget struct {
	mu        sync.Mutex
	remaining int
	resetAt   time.Time
	known     bool

	logger *zap.Logger
}

// NewBudget creates a tracker with no quota knowledge yet. Until the first
// Update, requests pass through freely.
func NewBudget() *Budget {
	return &Budget{
		logger: zap.L().With(zap.String("component", "wigle-budget")),
	}
}

// Acquire reserves one request from the budget, blocking while the quota is
// exhausted. Returns the context error on cancellation.
func (b *Budget) Acquire(ctx context.Context) error {
	for {
		b.mu.Lock()
		if !b.known || b.remaining > 0 {
			if b.known {
				b.remaining--
			}
			b.mu.Unlock()
			return nil
		}

		wait := defaultRecheck
		if !b.resetAt.IsZero() {
			if until := time.Until(b.resetAt); until > 0 {
				wait = until
			} else {
				// Reset time has passed; assume the quota refilled and let
				// the next response correct us.
				b.known = false
				b.mu.Unlock()
				continue
			}
		}
		b.logger.Warn("request budget exhausted, waiting",
			zap.Duration("wait", wait),
			zap.Time("reset_at", b.resetAt))
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return eris.Wrap(ctx.Err(), "wigle: budget wait cancelled")
		case <-timer.C:
		}
	}
}

// Update records the quota the API reported on a response. The reported
// value replaces the local estimate; it reflects requests made by anyone
// using the same credentials.
func (b *Budget) Update(remaining int, resetAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining = remaining
	b.resetAt = resetAt
	b.known = true
}

// Remaining returns the current estimate, or -1 when no quota has been
// reported yet.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.known {
		return -1
	}
	return b.remaining
}
