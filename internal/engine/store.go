// Package engine implements the autobid core: the concurrent polling
// loop, the bid decision logic, serialized bid submission, and the guard
// rails (budget ledger, auto-stop) that bound its behavior.
package engine

import (
	"sync"

	"github.com/lelangbot/bid-engine/internal/metrics"
	"github.com/lelangbot/bid-engine/internal/model"
)

// StateStore holds the single latest auction snapshot plus a monotonically
// increasing sequence number. It is the only mutable state shared between
// polling workers, the decision path, and the submitter; the mutex makes
// the compare-then-replace publish atomic so near-simultaneous publishes
// can never interleave into a corrupted mix of fields.
//
// Invariant: the stored snapshot's ObservedAt never regresses. A slower
// response arriving after a newer one is discarded, not stored.
type StateStore struct {
	mu     sync.Mutex
	latest *model.AuctionStatus
	seq    uint64
}

// NewStateStore returns an empty store at sequence zero.
func NewStateStore() *StateStore {
	return &StateStore{}
}

// Publish installs the snapshot if it is at least as fresh as the stored
// one, returning the new sequence number and whether it was accepted.
func (s *StateStore) Publish(st *model.AuctionStatus) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latest != nil && st.ObservedAt.Before(s.latest.ObservedAt) {
		metrics.SnapshotsDiscarded.Inc()
		return s.seq, false
	}
	s.latest = st
	s.seq++
	return s.seq, true
}

// ForcePublish installs the snapshot unconditionally. The submitter uses
// this after a confirmed acknowledgment so the store reflects self as the
// leading bidder before the next poll lands; the snapshot's ObservedAt is
// taken at acknowledgment time, so the monotonic invariant still holds.
func (s *StateStore) ForcePublish(st *model.AuctionStatus) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = st
	s.seq++
	return s.seq
}

// Latest returns a copy of the stored snapshot, its sequence number, and
// whether any snapshot has been published yet.
func (s *StateStore) Latest() (model.AuctionStatus, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latest == nil {
		return model.AuctionStatus{}, 0, false
	}
	return *s.latest, s.seq, true
}

// Seq returns the current sequence number.
func (s *StateStore) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}
