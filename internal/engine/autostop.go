package engine

import (
	"log/slog"
	"sync"

	"github.com/lelangbot/bid-engine/internal/model"
)

// AutoStop owns the session run state. The transition out of running is
// one-way: once a stop reason is recorded it never changes, and the
// session context is canceled so pollers and any in-flight submission exit
// at their next checkpoint. Cancellation is cooperative: an operation
// already on the wire completes, its result simply is no longer acted on.
type AutoStop struct {
	mu     sync.Mutex
	reason model.StopReason
	err    error
	cancel func()
}

// NewAutoStop creates a controller in the running state. cancel is invoked
// exactly once, on the first transition.
func NewAutoStop(cancel func()) *AutoStop {
	return &AutoStop{cancel: cancel}
}

// Running reports whether the session is still in the running state.
func (a *AutoStop) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reason == model.StopNone
}

// Reason returns the recorded stop reason and any associated error.
func (a *AutoStop) Reason() (model.StopReason, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reason, a.err
}

// trigger records the first stop reason and fires cancellation. Later
// calls are ignored; the terminal state is stable.
func (a *AutoStop) trigger(reason model.StopReason, err error) {
	a.mu.Lock()
	if a.reason != model.StopNone {
		a.mu.Unlock()
		return
	}
	a.reason = reason
	a.err = err
	cancel := a.cancel
	a.mu.Unlock()

	slog.Info("session stopping", "reason", reason.String(), "err", err)
	if cancel != nil {
		cancel()
	}
}

// Evaluate checks the stop conditions against a fresh snapshot and the
// budget ledger. Called after every accepted store publish and after every
// submission outcome.
func (a *AutoStop) Evaluate(st model.AuctionStatus, ledger *BudgetLedger, selfID string) {
	if st.Phase == model.PhaseClosed {
		a.trigger(model.StopAuctionEnded, nil)
		return
	}
	// Budget check only applies while someone else leads; holding the
	// high bid with no affordable counter left is the desired outcome,
	// not a stop condition.
	if st.LeaderIsSelf(selfID) {
		return
	}
	if st.HighestBid.IsZero() && st.HighestBidderID == "" {
		return
	}
	if st.NextRequiredBid().GreaterThan(ledger.Headroom()) {
		a.trigger(model.StopBudgetExceeded, nil)
	}
}

// Fatal records an unrecoverable session error (authentication expired,
// persistent API failure).
func (a *AutoStop) Fatal(err error) {
	a.trigger(model.StopError, err)
}

// UserStop records a user-requested shutdown (interrupt).
func (a *AutoStop) UserStop() {
	a.trigger(model.StopUserRequested, nil)
}
