package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lelangbot/bid-engine/internal/auction"
	"github.com/lelangbot/bid-engine/internal/auth"
	"github.com/lelangbot/bid-engine/internal/metrics"
	"github.com/lelangbot/bid-engine/internal/model"
)

// Sender is the bid-write half of the auction session.
type Sender interface {
	SubmitBid(ctx context.Context, amount decimal.Decimal) error
}

// submitState is the tagged in-flight variant: idle, or one plan
// outstanding. Modeled as explicit state rather than a boolean scattered
// across call sites.
type submitState int

const (
	stateIdle submitState = iota
	stateInFlight
)

// SubmitResult reports the outcome of one submission attempt back to the
// session loop.
type SubmitResult struct {
	Plan    model.BidPlan
	Outcome model.BidOutcome
	Err     error
}

// Submitter serializes outgoing bid attempts. The single most
// safety-critical invariant of the engine lives here: at most one bid
// submission is in flight at any time. Concurrent submissions could both
// succeed and double-commit budget, or could fire against a stale target.
type Submitter struct {
	sender  Sender
	store   *StateStore
	ledger  *BudgetLedger
	selfID  string
	timeout time.Duration
	results chan<- SubmitResult

	wg sync.WaitGroup

	mu       sync.Mutex
	state    submitState
	accepted int
	// ambiguous holds a plan whose submission timed out or failed in
	// transport; its true outcome is reconciled against the next
	// snapshot instead of retried blindly.
	ambiguous *model.BidPlan
}

// NewSubmitter creates a submitter delivering outcomes to results.
func NewSubmitter(sender Sender, store *StateStore, ledger *BudgetLedger, selfID string, timeout time.Duration, results chan<- SubmitResult) *Submitter {
	return &Submitter{
		sender:  sender,
		store:   store,
		ledger:  ledger,
		selfID:  selfID,
		timeout: timeout,
		results: results,
	}
}

// InFlight reports whether a submission is currently outstanding.
func (s *Submitter) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateInFlight
}

// TrySubmit accepts the plan unless a submission is already in flight or
// the plan's basis snapshot has been superseded. Discarded plans are not
// queued; the next polling cycle re-evaluates against current state.
// Returns whether the plan was accepted.
func (s *Submitter) TrySubmit(ctx context.Context, plan model.BidPlan) bool {
	s.mu.Lock()
	if s.state == stateInFlight {
		s.mu.Unlock()
		metrics.PlansDiscarded.WithLabelValues("in_flight").Inc()
		return false
	}
	if s.store.Seq() != plan.BasedOnSeq {
		s.mu.Unlock()
		metrics.PlansDiscarded.WithLabelValues("stale").Inc()
		return false
	}
	s.state = stateInFlight
	s.mu.Unlock()

	s.wg.Add(1)
	go s.submit(ctx, plan)
	return true
}

// Wait blocks until no submission goroutine is outstanding. Used at
// session shutdown so an acknowledgment racing the stop decision is not
// lost.
func (s *Submitter) Wait() {
	s.wg.Wait()
}

// Accepted returns the number of bids acknowledged or reconciled as
// accepted during this session.
func (s *Submitter) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func (s *Submitter) submit(ctx context.Context, plan model.BidPlan) {
	defer s.wg.Done()

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	err := s.sender.SubmitBid(sctx, plan.Amount)
	cancel()

	res := SubmitResult{Plan: plan}
	switch {
	case err == nil:
		res.Outcome = model.BidAccepted
		s.confirm(plan)
	case errors.Is(err, auction.ErrBidRejected):
		// Someone else already leads at or above this amount. Expected
		// competitive outcome; the next snapshot re-triggers the
		// decision engine.
		res.Outcome = model.BidRejected
		res.Err = err
	case errors.Is(err, auth.ErrUnauthorized):
		res.Outcome = model.BidFatal
		res.Err = err
	default:
		// Timeout or transport failure: the marketplace may or may not
		// have recorded the bid. Record it for reconciliation against
		// the next snapshot; retrying blindly risks a double bid.
		res.Outcome = model.BidAmbiguous
		res.Err = err
		s.mu.Lock()
		s.ambiguous = &plan
		s.mu.Unlock()
	}

	metrics.BidsTotal.WithLabelValues(res.Outcome.String()).Inc()

	s.mu.Lock()
	s.state = stateIdle
	s.mu.Unlock()

	select {
	case s.results <- res:
	case <-ctx.Done():
	}
}

// confirm commits the acknowledged amount and force-publishes a snapshot
// showing self as the leading bidder, so the decision engine cannot bid
// again before a poll catches up with our own acknowledgment.
func (s *Submitter) confirm(plan model.BidPlan) {
	if err := s.ledger.Commit(plan.Amount); err != nil {
		slog.Error("budget commit failed after acknowledged bid", "err", err)
	}
	s.mu.Lock()
	s.accepted++
	s.mu.Unlock()

	now := time.Now()
	st := model.AuctionStatus{
		HighestBid:      plan.Amount,
		HighestBidderID: s.selfID,
		MyLastBid:       plan.Amount,
		ObservedAt:      now,
	}
	if latest, _, ok := s.store.Latest(); ok {
		st.AuctionID = latest.AuctionID
		st.MinIncrement = latest.MinIncrement
		st.Phase = latest.Phase
		rem := latest.Remaining - now.Sub(latest.ObservedAt)
		if rem < 0 {
			rem = 0
		}
		st.Remaining = rem
	}
	s.store.ForcePublish(&st)
}

// Reconcile resolves a pending ambiguous submission against a fresh
// snapshot. If the snapshot shows self leading at the submitted amount,
// the bid went through: commit it (idempotent, so a snapshot raced by the
// acknowledgment cannot double-count). If anyone leads at or above the
// amount, the question is settled either way and the pending marker is
// dropped. Returns whether a commit happened.
func (s *Submitter) Reconcile(st *model.AuctionStatus) bool {
	s.mu.Lock()
	pending := s.ambiguous
	if pending == nil {
		s.mu.Unlock()
		return false
	}
	resolved := false
	committed := false
	if st.LeaderIsSelf(s.selfID) && st.HighestBid.Equal(pending.Amount) {
		resolved = true
		committed = true
	} else if st.HighestBid.GreaterThanOrEqual(pending.Amount) {
		// Outbid at or above our amount: whether ours landed no longer
		// matters, it is not leading.
		resolved = true
	}
	if resolved {
		s.ambiguous = nil
	}
	s.mu.Unlock()

	if committed {
		if err := s.ledger.Commit(pending.Amount); err != nil {
			slog.Error("budget commit failed during reconciliation", "err", err)
			return false
		}
		s.mu.Lock()
		s.accepted++
		s.mu.Unlock()
		slog.Info("ambiguous bid reconciled as accepted", "amount", pending.Amount.String())
	}
	return committed
}
