package sim

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Rival is a scripted competing bidder. It watches the lot and counters
// any bid that outbids it after a randomized reaction delay, up to its own
// budget. It is the opposition an autobid session races against.
type Rival struct {
	auction *Auction
	server  *Server
	id      string
	budget  decimal.Decimal

	// MinReaction and MaxReaction bound the randomized delay before the
	// rival counters. Human-scale defaults.
	MinReaction time.Duration
	MaxReaction time.Duration

	rng *rand.Rand
}

// NewRival creates a rival bidder with the given budget.
func NewRival(a *Auction, srv *Server, budget decimal.Decimal) *Rival {
	return &Rival{
		auction:     a,
		server:      srv,
		id:          "rival-" + uuid.New().String()[:8],
		budget:      budget,
		MinReaction: 400 * time.Millisecond,
		MaxReaction: 1500 * time.Millisecond,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ID returns the rival's participant identity.
func (r *Rival) ID() string { return r.id }

// Run bids until the auction closes, the budget runs out, or ctx is
// canceled. It opens the bidding if nobody has bid yet.
func (r *Rival) Run(ctx context.Context) {
	r.auction.StartSession(r.id)

	for {
		delay := r.MinReaction
		if spread := r.MaxReaction - r.MinReaction; spread > 0 {
			delay += time.Duration(r.rng.Int63n(int64(spread)))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		now := r.server.Now()
		if !now.Before(r.auction.EndTime()) {
			slog.Info("rival: auction ended", "id", r.id)
			return
		}

		if leader, ok := r.auction.Highest(); ok && leader.ParticipantID == r.id {
			continue
		}
		amount := r.auction.RequiredBid()
		if amount.GreaterThan(r.budget) {
			slog.Info("rival: budget exhausted", "id", r.id, "required", amount.String())
			return
		}

		rec, err := r.auction.PlaceBid(r.id, amount, now)
		if err != nil {
			slog.Warn("rival: bid failed", "id", r.id, "err", err)
			continue
		}
		slog.Info("rival: bid placed", "id", r.id, "amount", rec.Amount.String())
		r.server.broadcastBid(rec)
	}
}
