package engine

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/lelangbot/bid-engine/internal/metrics"
)

// ErrOverCommit is returned when a commit would push the committed amount
// past the budget ceiling. The decision path checks affordability before
// any submission, so hitting this indicates a bug upstream.
var ErrOverCommit = errors.New("engine: commit exceeds budget ceiling")

// BudgetLedger tracks the hard spending ceiling and the amount committed
// to confirmed bids. Committed moves only on a confirmed successful
// acknowledgment, never optimistically, and never exceeds the ceiling.
//
// The ledger is mutated from the submitter goroutine while the auto-stop
// path reads it from the polling side, hence the mutex.
type BudgetLedger struct {
	mu        sync.Mutex
	max       decimal.Decimal
	committed decimal.Decimal
}

// NewBudgetLedger creates a ledger with the given ceiling and nothing
// committed.
func NewBudgetLedger(max decimal.Decimal) *BudgetLedger {
	return &BudgetLedger{max: max}
}

// CanAfford reports whether a candidate bid fits the remaining budget:
// amount ≤ max − committed. Pure read, no side effects.
func (l *BudgetLedger) CanAfford(amount decimal.Decimal) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return amount.LessThanOrEqual(l.max.Sub(l.committed))
}

// Commit records a confirmed bid at the given amount. Later bids in an
// ascending auction supersede earlier ones, so the committed amount is
// replaced, not summed; it only ever moves upward. Committing the same
// amount twice is a no-op, which makes timeout reconciliation idempotent.
func (l *BudgetLedger) Commit(amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount.GreaterThan(l.max) {
		return ErrOverCommit
	}
	if amount.GreaterThan(l.committed) {
		l.committed = amount
		f, _ := l.committed.Float64()
		metrics.CommittedAmount.Set(f)
	}
	return nil
}

// Committed returns the amount currently committed.
func (l *BudgetLedger) Committed() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed
}

// Max returns the budget ceiling.
func (l *BudgetLedger) Max() decimal.Decimal {
	return l.max
}

// Headroom returns max − committed.
func (l *BudgetLedger) Headroom() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.max.Sub(l.committed)
}
