package engine_test

import (
	"errors"
	"testing"

	"github.com/peterldowns/testy/check"

	"github.com/lelangbot/bid-engine/internal/engine"
	"github.com/lelangbot/bid-engine/internal/model"
)

func TestAutoStop_AuctionEndedCancels(t *testing.T) {
	canceled := false
	stop := engine.NewAutoStop(func() { canceled = true })
	ledger := engine.NewBudgetLedger(rp(10_000_000))

	check.True(t, stop.Running())

	st := status(950_000, "rival")
	st.Phase = model.PhaseClosed
	stop.Evaluate(st, ledger, selfID)

	check.False(t, stop.Running())
	check.True(t, canceled)
	reason, err := stop.Reason()
	check.Equal(t, model.StopAuctionEnded, reason)
	check.Nil(t, err)
}

func TestAutoStop_BudgetExceededWhenOutbidPastCeiling(t *testing.T) {
	stop := engine.NewAutoStop(func() {})
	ledger := engine.NewBudgetLedger(rp(1_000_000))
	check.Nil(t, ledger.Commit(rp(1_000_000)))

	// Rival leads at the ceiling; the required counter is 1,050,000 and
	// headroom is zero.
	stop.Evaluate(status(1_000_000, "rival"), ledger, selfID)

	reason, _ := stop.Reason()
	check.Equal(t, model.StopBudgetExceeded, reason)
}

func TestAutoStop_SelfLeadingNeverStopsOnBudget(t *testing.T) {
	stop := engine.NewAutoStop(func() {})
	ledger := engine.NewBudgetLedger(rp(1_000_000))
	check.Nil(t, ledger.Commit(rp(1_000_000)))

	// Holding the high bid at the full ceiling is the desired outcome.
	stop.Evaluate(status(1_000_000, selfID), ledger, selfID)
	check.True(t, stop.Running())
}

func TestAutoStop_EmptyBoardKeepsRunning(t *testing.T) {
	stop := engine.NewAutoStop(func() {})
	ledger := engine.NewBudgetLedger(rp(10_000))

	stop.Evaluate(status(0, ""), ledger, selfID)
	check.True(t, stop.Running())
}

func TestAutoStop_FirstReasonWins(t *testing.T) {
	cancels := 0
	stop := engine.NewAutoStop(func() { cancels++ })

	stop.Fatal(errors.New("token expired"))
	stop.UserStop()
	stop.Fatal(errors.New("later failure"))

	reason, err := stop.Reason()
	check.Equal(t, model.StopError, reason)
	check.Equal(t, "token expired", err.Error())
	check.Equal(t, 1, cancels)
}

func TestAutoStop_UserStop(t *testing.T) {
	stop := engine.NewAutoStop(func() {})
	stop.UserStop()

	reason, err := stop.Reason()
	check.Equal(t, model.StopUserRequested, reason)
	check.Nil(t, err)
}

func TestAutoStop_AffordableCounterKeepsRunning(t *testing.T) {
	stop := engine.NewAutoStop(func() {})
	ledger := engine.NewBudgetLedger(rp(2_000_000))

	stop.Evaluate(status(950_000, "rival"), ledger, selfID)
	check.True(t, stop.Running())
}
