// Package model defines the core domain types shared across the autobid
// engine. All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Phase is the lifecycle stage of an auction lot.
type Phase string

const (
	PhaseOpen       Phase = "open"
	PhaseEndingSoon Phase = "ending_soon"
	PhaseClosed     Phase = "closed"
)

// AuctionStatus is an immutable snapshot of auction state produced by one
// successful network round trip. Snapshots are never mutated after
// construction; newer snapshots supersede older ones in the state store.
type AuctionStatus struct {
	AuctionID       string
	HighestBid      decimal.Decimal
	HighestBidderID string
	// MyLastBid is this session's most recent bid found in the history
	// scan, zero if none.
	MyLastBid    decimal.Decimal
	MinIncrement decimal.Decimal
	// Remaining is the time left on the auction clock as of ObservedAt.
	// Readers must extrapolate by the snapshot's age before display.
	Remaining time.Duration
	Phase     Phase
	// ObservedAt carries the monotonic clock reading taken when the
	// response arrived. The state store orders snapshots by this field.
	ObservedAt time.Time
	// Latency is the round-trip time of the fetch that produced this
	// snapshot. Informational only.
	Latency time.Duration
}

// LeaderIsSelf reports whether the given participant currently holds the
// highest bid.
func (s *AuctionStatus) LeaderIsSelf(selfID string) bool {
	return selfID != "" && s.HighestBidderID == selfID
}

// NextRequiredBid is the minimum amount a new bid must reach to lead.
func (s *AuctionStatus) NextRequiredBid() decimal.Decimal {
	return s.HighestBid.Add(s.MinIncrement)
}

// BidPlan is a decision to submit one bid, derived from exactly one
// snapshot. BasedOnSeq pins the state-store sequence the decision was made
// against; if the store has advanced past it, the plan is stale.
type BidPlan struct {
	Amount     decimal.Decimal
	BasedOnSeq uint64
}

// BidOutcome classifies the result of one submission attempt.
type BidOutcome int

const (
	// BidAccepted means the marketplace acknowledged the bid.
	BidAccepted BidOutcome = iota
	// BidRejected means another participant already leads at or above the
	// submitted amount. Expected competitive outcome, not an error.
	BidRejected
	// BidAmbiguous means the attempt timed out or failed in transport; the
	// true outcome must be reconciled against the next status snapshot.
	BidAmbiguous
	// BidFatal means the session itself is broken (authentication expired).
	BidFatal
)

func (o BidOutcome) String() string {
	switch o {
	case BidAccepted:
		return "accepted"
	case BidRejected:
		return "rejected"
	case BidAmbiguous:
		return "ambiguous"
	case BidFatal:
		return "fatal"
	}
	return "unknown"
}

// StopReason is the terminal state of a bidding session. StopNone means the
// session is still running; every other value is terminal and one-way.
type StopReason int

const (
	StopNone StopReason = iota
	StopBudgetExceeded
	StopAuctionEnded
	StopError
	StopUserRequested
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "running"
	case StopBudgetExceeded:
		return "budget_exceeded"
	case StopAuctionEnded:
		return "auction_ended"
	case StopError:
		return "error"
	case StopUserRequested:
		return "user_requested"
	}
	return "unknown"
}

// Summary is the end-of-session report shown to the user.
type Summary struct {
	AuctionID     string
	Reason        StopReason
	Committed     decimal.Decimal
	MyLastBid     decimal.Decimal
	BidsSubmitted int
	Requests      int
	AvgLatency    time.Duration
	Duration      time.Duration
	Err           error
}
