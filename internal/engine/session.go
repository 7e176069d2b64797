package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lelangbot/bid-engine/internal/model"
)

// API is the full auction session surface the engine consumes.
type API interface {
	Fetcher
	Sender
}

// SessionConfig are the user-facing knobs of one autobid run.
type SessionConfig struct {
	SelfID       string
	Budget       decimal.Decimal
	Interval     time.Duration
	Timeout      time.Duration
	Workers      int
	SafetyMargin time.Duration
}

// StatusView is a point-in-time rendering of session state for display.
type StatusView struct {
	Snapshot  model.AuctionStatus
	HasStatus bool
	Remaining time.Duration
	Ended     bool
	Committed decimal.Decimal
	Bids      int
	Requests  int
	InFlight  bool
}

// Session wires the poller, state store, decision engine, submitter, and
// auto-stop controller into one bidding run against one auction lot. All
// state is owned by the session instance; nothing is process-global.
type Session struct {
	cfg       SessionConfig
	api       API
	store     *StateStore
	ledger    *BudgetLedger
	countdown *Countdown

	// OnStatus, when set, receives periodic status views for display.
	// Called from the session goroutine; must not block.
	OnStatus func(StatusView)

	requests   int
	latencySum time.Duration
}

// NewSession creates a session. The store and ledger live for the session
// duration and are discarded with it.
func NewSession(api API, cfg SessionConfig) *Session {
	store := NewStateStore()
	return &Session{
		cfg:       cfg,
		api:       api,
		store:     store,
		ledger:    NewBudgetLedger(cfg.Budget),
		countdown: NewCountdown(store),
	}
}

// Store exposes the session's state store, mainly for status rendering.
func (s *Session) Store() *StateStore { return s.store }

// Ledger exposes the session's budget ledger.
func (s *Session) Ledger() *BudgetLedger { return s.ledger }

// Run executes the autobid loop until a stop condition fires or ctx is
// canceled, and returns the session summary. The returned summary always
// carries a terminal stop reason.
func (s *Session) Run(ctx context.Context) *model.Summary {
	start := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := NewAutoStop(cancel)
	decider := NewDecisionEngine(s.cfg.SelfID, s.ledger, s.cfg.SafetyMargin)

	snapshots := make(chan *model.AuctionStatus, s.cfg.Workers)
	results := make(chan SubmitResult, 1)
	submitter := NewSubmitter(s.api, s.store, s.ledger, s.cfg.SelfID, s.cfg.Timeout, results)

	s.seedInitialStatus(runCtx, stop)

	poller := NewPoller(s.api, s.cfg.Interval, s.cfg.Timeout, s.cfg.Workers, snapshots)
	pollerDone := make(chan struct{})
	go func() {
		poller.Run(runCtx)
		close(pollerDone)
	}()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-runCtx.Done():
			// External cancellation; a no-op if auto-stop already
			// recorded its own reason.
			stop.UserStop()
			break loop

		case st := <-snapshots:
			s.requests++
			s.latencySum += st.Latency

			seq, ok := s.store.Publish(st)
			if !ok {
				continue
			}
			submitter.Reconcile(st)
			stop.Evaluate(*st, s.ledger, s.cfg.SelfID)
			if !stop.Running() {
				break loop
			}

			plan, decision := decider.Evaluate(*st, seq, submitter.InFlight())
			switch decision {
			case DecideBid:
				if submitter.TrySubmit(runCtx, plan) {
					slog.Info("bid submitted",
						"amount", plan.Amount.String(),
						"seq", plan.BasedOnSeq)
				}
			case DecideBudgetExhausted:
				// Auto-stop evaluates the same condition; reaching
				// here means it fired between our two checks.
				slog.Warn("required bid exceeds remaining budget",
					"required", st.NextRequiredBid().String(),
					"headroom", s.ledger.Headroom().String())
			}

		case res := <-results:
			switch res.Outcome {
			case model.BidAccepted:
				slog.Info("bid acknowledged", "amount", res.Plan.Amount.String())
			case model.BidRejected:
				slog.Info("bid rejected, re-evaluating on next snapshot", "err", res.Err)
			case model.BidAmbiguous:
				slog.Warn("bid outcome ambiguous, awaiting reconciliation", "err", res.Err)
			case model.BidFatal:
				stop.Fatal(res.Err)
			}
			if latest, _, ok := s.store.Latest(); ok {
				stop.Evaluate(latest, s.ledger, s.cfg.SelfID)
			}
			if !stop.Running() {
				break loop
			}

		case <-ticker.C:
			s.emitStatus(submitter)
		}
	}

	cancel()
	<-pollerDone
	// A submission still on the wire finishes against the canceled
	// context; wait for it so its outcome is reflected in the summary.
	submitter.Wait()

	reason, err := stop.Reason()
	summary := &model.Summary{
		Reason:        reason,
		Committed:     s.ledger.Committed(),
		BidsSubmitted: submitter.Accepted(),
		Requests:      s.requests,
		Duration:      time.Since(start),
		Err:           err,
	}
	if latest, _, ok := s.store.Latest(); ok {
		summary.AuctionID = latest.AuctionID
		summary.MyLastBid = latest.MyLastBid
	}
	if summary.MyLastBid.LessThan(s.ledger.Committed()) {
		summary.MyLastBid = s.ledger.Committed()
	}
	if s.requests > 0 {
		summary.AvgLatency = s.latencySum / time.Duration(s.requests)
	}
	return summary
}

// seedInitialStatus performs the slow-path initial fetch so the session
// starts from known state: standing highest bid, own last bid committed to
// the ledger, and the countdown anchored.
func (s *Session) seedInitialStatus(ctx context.Context, stop *AutoStop) {
	ictx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	st, err := s.api.FetchStatus(ictx)
	if err != nil {
		slog.Warn("initial status fetch failed, starting cold", "err", err)
		return
	}
	s.requests++
	s.latencySum += st.Latency
	s.store.Publish(st)
	if st.MyLastBid.IsPositive() {
		if err := s.ledger.Commit(st.MyLastBid); err != nil {
			slog.Warn("standing bid exceeds budget ceiling",
				"standing", st.MyLastBid.String(),
				"budget", s.cfg.Budget.String())
		}
	}
	stop.Evaluate(*st, s.ledger, s.cfg.SelfID)
}

func (s *Session) emitStatus(submitter *Submitter) {
	if s.OnStatus == nil {
		return
	}
	view := StatusView{
		Committed: s.ledger.Committed(),
		Bids:      submitter.Accepted(),
		Requests:  s.requests,
		InFlight:  submitter.InFlight(),
	}
	if latest, _, ok := s.store.Latest(); ok {
		view.Snapshot = latest
		view.HasStatus = true
	}
	view.Remaining, view.Ended = s.countdown.Remaining(time.Now())
	s.OnStatus(view)
}
