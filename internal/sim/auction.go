// Package sim is a local stand-in for the marketplace bidding API. It
// serves the same wire format the autobid client consumes, hosts a
// scripted rival bidder, and broadcasts bid events over WebSocket, enough
// to exercise the whole engine without touching production.
package sim

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrBidTooLow means the amount does not clear the current highest
	// bid plus the increment (or the opening limit for the first bid).
	ErrBidTooLow = errors.New("sim: bid below required amount")

	// ErrAuctionClosed means the lot's end time has passed.
	ErrAuctionClosed = errors.New("sim: auction closed")

	// ErrNoSession means the participant has not started a bidding
	// session for the lot.
	ErrNoSession = errors.New("sim: bidding session not started")
)

// BidRecord is one accepted bid.
type BidRecord struct {
	ID            string
	ParticipantID string
	Amount        decimal.Decimal
	At            time.Time
}

// Auction is the mutation-guarded state of one simulated lot. Bids are
// kept in acceptance order; history is served newest-first like the real
// API.
type Auction struct {
	mu        sync.Mutex
	id        string
	name      string
	limit     decimal.Decimal
	increment decimal.Decimal
	endTime   time.Time
	bids      []BidRecord
	sessions  map[string]bool
}

// NewAuction creates a lot with an opening limit value and bid increment.
func NewAuction(id, name string, limit, increment decimal.Decimal, endTime time.Time) *Auction {
	return &Auction{
		id:        id,
		name:      name,
		limit:     limit,
		increment: increment,
		endTime:   endTime,
		sessions:  make(map[string]bool),
	}
}

// ID returns the lot identifier.
func (a *Auction) ID() string { return a.id }

// Name returns the lot display name.
func (a *Auction) Name() string { return a.name }

// Increment returns the minimum bid increment.
func (a *Auction) Increment() decimal.Decimal { return a.increment }

// Limit returns the opening limit value.
func (a *Auction) Limit() decimal.Decimal { return a.limit }

// EndTime returns the lot deadline.
func (a *Auction) EndTime() time.Time { return a.endTime }

// StartSession registers a bidding session for the participant.
func (a *Auction) StartSession(participantID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[participantID] = true
}

// RequiredBid returns the minimum amount the next bid must reach.
func (a *Auction) RequiredBid() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requiredLocked()
}

func (a *Auction) requiredLocked() decimal.Decimal {
	if len(a.bids) == 0 {
		return a.limit
	}
	return a.bids[len(a.bids)-1].Amount.Add(a.increment)
}

// PlaceBid validates and records a bid at the given time. The participant
// must have started a session; the amount must clear the required minimum.
func (a *Auction) PlaceBid(participantID string, amount decimal.Decimal, at time.Time) (BidRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !at.Before(a.endTime) {
		return BidRecord{}, ErrAuctionClosed
	}
	if !a.sessions[participantID] {
		return BidRecord{}, ErrNoSession
	}
	if amount.LessThan(a.requiredLocked()) {
		return BidRecord{}, ErrBidTooLow
	}

	rec := BidRecord{
		ID:            uuid.New().String(),
		ParticipantID: participantID,
		Amount:        amount,
		At:            at,
	}
	a.bids = append(a.bids, rec)
	return rec, nil
}

// History returns a newest-first copy of all accepted bids.
func (a *Auction) History() []BidRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]BidRecord, len(a.bids))
	for i, b := range a.bids {
		out[len(a.bids)-1-i] = b
	}
	return out
}

// Highest returns the current leading bid, if any.
func (a *Auction) Highest() (BidRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.bids) == 0 {
		return BidRecord{}, false
	}
	return a.bids[len(a.bids)-1], true
}
