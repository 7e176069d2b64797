package engine

import (
	"fmt"
	"time"

	"github.com/lelangbot/bid-engine/internal/model"
)

// Countdown is a read-only projection of remaining auction time from the
// latest snapshot. Snapshots age between polls, so the remaining time is
// extrapolated by the snapshot's age. Display only; it never feeds back
// into bidding decisions beyond marking "ended".
type Countdown struct {
	store *StateStore
}

// NewCountdown creates a countdown view over the store.
func NewCountdown(store *StateStore) *Countdown {
	return &Countdown{store: store}
}

// Remaining returns the extrapolated time left and whether the auction has
// ended. Before the first snapshot it reports zero and not ended.
func (c *Countdown) Remaining(now time.Time) (time.Duration, bool) {
	st, _, ok := c.store.Latest()
	if !ok {
		return 0, false
	}
	if st.Phase == model.PhaseClosed {
		return 0, true
	}
	rem := st.Remaining - now.Sub(st.ObservedAt)
	if rem <= 0 {
		return 0, true
	}
	return rem, false
}

// FormatCountdown renders a duration the way the status display shows it.
func FormatCountdown(d time.Duration) string {
	if d <= 0 {
		return "ended"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", s)
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
}
