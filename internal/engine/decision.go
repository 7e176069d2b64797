package engine

import (
	"time"

	"github.com/lelangbot/bid-engine/internal/model"
)

// Decision is the outcome of evaluating one snapshot.
type Decision int

const (
	// DecideNone means no action for this snapshot.
	DecideNone Decision = iota
	// DecideBid means submit the returned plan.
	DecideBid
	// DecideBudgetExhausted means the required counter-bid no longer fits
	// the budget. Reported upward for the auto-stop path; not itself
	// terminal.
	DecideBudgetExhausted
)

// DecisionEngine turns a fresh snapshot into at most one bid plan. It is
// driven solely from the session's collector goroutine, so it keeps plain
// fields; the sequence guard guarantees at most one plan per published
// snapshot even if the same snapshot were evaluated twice.
type DecisionEngine struct {
	selfID       string
	ledger       *BudgetLedger
	safetyMargin time.Duration
	lastSeq      uint64
}

// NewDecisionEngine creates a decision engine for the given participant
// identity.
func NewDecisionEngine(selfID string, ledger *BudgetLedger, safetyMargin time.Duration) *DecisionEngine {
	return &DecisionEngine{
		selfID:       selfID,
		ledger:       ledger,
		safetyMargin: safetyMargin,
	}
}

// Evaluate decides whether to counter the snapshot's leading bid.
// inFlight tells it whether a submission is currently outstanding, which
// suppresses doubling up on a last-second race.
func (e *DecisionEngine) Evaluate(st model.AuctionStatus, seq uint64, inFlight bool) (model.BidPlan, Decision) {
	if seq <= e.lastSeq {
		return model.BidPlan{}, DecideNone
	}
	e.lastSeq = seq

	if st.Phase == model.PhaseClosed {
		return model.BidPlan{}, DecideNone
	}
	// Never counter our own bid, and never bid on an empty board we
	// cannot identify a rival on.
	if st.LeaderIsSelf(e.selfID) {
		return model.BidPlan{}, DecideNone
	}
	if st.HighestBid.IsZero() && st.HighestBidderID == "" {
		return model.BidPlan{}, DecideNone
	}

	candidate := st.NextRequiredBid()
	if !e.ledger.CanAfford(candidate) {
		return model.BidPlan{}, DecideBudgetExhausted
	}
	if inFlight && st.Remaining < e.safetyMargin {
		// A bid is already racing the clock; a second one could land
		// after the first and overpay for nothing.
		return model.BidPlan{}, DecideNone
	}

	return model.BidPlan{Amount: candidate, BasedOnSeq: seq}, DecideBid
}
