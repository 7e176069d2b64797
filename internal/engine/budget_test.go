package engine_test

import (
	"testing"

	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/lelangbot/bid-engine/internal/engine"
)

func rp(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func TestBudgetLedger_CanAffordBoundary(t *testing.T) {
	ledger := engine.NewBudgetLedger(rp(1_000_000))

	// Exactly equal to the ceiling is affordable.
	check.True(t, ledger.CanAfford(rp(1_000_000)))
	check.False(t, ledger.CanAfford(rp(1_000_001)))
}

func TestBudgetLedger_CommitReplacesStanding(t *testing.T) {
	ledger := engine.NewBudgetLedger(rp(1_000_000))

	check.Nil(t, ledger.Commit(rp(400_000)))
	check.True(t, ledger.Committed().Equal(rp(400_000)))

	// A later, higher bid supersedes the earlier one.
	check.Nil(t, ledger.Commit(rp(500_000)))
	check.True(t, ledger.Committed().Equal(rp(500_000)))

	// Re-committing the same amount is a no-op (reconciliation path).
	check.Nil(t, ledger.Commit(rp(500_000)))
	check.True(t, ledger.Committed().Equal(rp(500_000)))

	// A lower commit never regresses the ledger.
	check.Nil(t, ledger.Commit(rp(300_000)))
	check.True(t, ledger.Committed().Equal(rp(500_000)))
}

func TestBudgetLedger_CommitNeverExceedsCeiling(t *testing.T) {
	ledger := engine.NewBudgetLedger(rp(1_000_000))

	err := ledger.Commit(rp(1_000_001))
	check.Error(t, err)
	check.True(t, ledger.Committed().IsZero())

	// The ceiling itself is allowed.
	check.Nil(t, ledger.Commit(rp(1_000_000)))
	check.True(t, ledger.Committed().Equal(ledger.Max()))
}

func TestBudgetLedger_HeadroomShrinksAfterCommit(t *testing.T) {
	ledger := engine.NewBudgetLedger(rp(1_000_000))
	check.True(t, ledger.Headroom().Equal(rp(1_000_000)))

	check.Nil(t, ledger.Commit(rp(1_000_000)))
	check.True(t, ledger.Headroom().IsZero())
	check.False(t, ledger.CanAfford(rp(50_000)))
}
