package supplementary_test

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/abstraction-billing/billing"
	"github.com/warp/abstraction-billing/supplementary"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func tx(id, category string, credit bool) billing.Transaction {
	return billing.Transaction{
		ID:                  id,
		BillLicenceID:       "bl-old",
		BillingAccountID:    "BA-1",
		LicenceID:           "lic-1",
		FinancialYearEnding: 2024,
		Credit:              credit,
		Status:              billing.TransactionCharged,
		ChargeType:          billing.ChargeTypeStandard,
		ChargeCategoryCode:  category,
		BillableDays:        214,
		Section126Factor:    decimal.NewFromInt(1),
		AggregateFactor:     decimal.NewFromInt(1),
		AdjustmentFactor:    decimal.NewFromInt(1),
	}
}

func candidate(id, category string) billing.Transaction {
	t := tx(id, category, false)
	t.BillLicenceID = "bl-new"
	t.Status = billing.TransactionCandidate
	return t
}

func sequentialReconciler() *supplementary.Reconciler {
	n := 0
	r := supplementary.NewReconciler()
	r.NewID = func() string {
		n++
		return fmt.Sprintf("rev-%d", n)
	}
	return r
}

func ids(txs []billing.Transaction) []string {
	out := make([]string, len(txs))
	for i, t := range txs {
		out[i] = t.ID
	}
	return out
}

// =============================================================================
// RECONCILE
// =============================================================================

func TestReconcile_NoPrevious_ReturnsCandidatesUnchanged(t *testing.T) {
	candidates := []billing.Transaction{candidate("c1", "4.6.12"), candidate("c2", "4.6.13")}

	result := sequentialReconciler().Run(nil, candidates, "bl-new")

	assert.Equal(t, candidates, result.Transactions)
	assert.Equal(t, 2, result.Kept)
	assert.Zero(t, result.Cancelled)
	assert.Zero(t, result.Reversed)
}

func TestReconcile_IdenticalRecalculation_SendsNothing(t *testing.T) {
	// GIVEN: Three billed debits and three identical recalculated candidates
	previous := []billing.Transaction{tx("p1", "4.6.12", false), tx("p2", "4.6.13", false), tx("p3", "4.6.14", false)}
	candidates := []billing.Transaction{candidate("c1", "4.6.12"), candidate("c2", "4.6.13"), candidate("c3", "4.6.14")}

	// WHEN: Reconciling
	result := sequentialReconciler().Run(previous, candidates, "bl-new")

	// THEN: Every pair cancels
	assert.Empty(t, result.Transactions)
	assert.Equal(t, 3, result.Cancelled)
	assert.Zero(t, result.Kept)
	assert.Zero(t, result.Reversed)
}

func TestReconcile_PartialMatch(t *testing.T) {
	// GIVEN: Category 4.6.13 changed to 4.6.14 since the last bill
	previous := []billing.Transaction{tx("p1", "4.6.12", false), tx("p2", "4.6.13", false)}
	candidates := []billing.Transaction{candidate("c1", "4.6.12"), candidate("c2", "4.6.14")}

	result := sequentialReconciler().Run(previous, candidates, "bl-new")

	// THEN: The new debit is kept and the old one is credited back
	require.Len(t, result.Transactions, 2)
	assert.Equal(t, "c2", result.Transactions[0].ID)
	assert.False(t, result.Transactions[0].Credit)

	credit := result.Transactions[1]
	assert.Equal(t, "rev-2", credit.ID)
	assert.True(t, credit.Credit)
	assert.Equal(t, "4.6.13", credit.ChargeCategoryCode)
	assert.Equal(t, "bl-new", credit.BillLicenceID)
	assert.Equal(t, billing.TransactionCandidate, credit.Status)

	assert.Equal(t, 1, result.Kept)
	assert.Equal(t, 1, result.Cancelled)
	assert.Equal(t, 1, result.Reversed)
}

func TestReconcile_FirstMatchWins(t *testing.T) {
	// GIVEN: Two identical billed debits and one identical candidate
	previous := []billing.Transaction{tx("p1", "4.6.12", false), tx("p2", "4.6.12", false)}
	candidates := []billing.Transaction{candidate("c1", "4.6.12")}

	result := sequentialReconciler().Run(previous, candidates, "bl-new")

	// THEN: The first reversal is consumed and the second is sent
	assert.Equal(t, []string{"rev-2"}, ids(result.Transactions))
}

func TestReconcile_EachReversalCancelsOnce(t *testing.T) {
	previous := []billing.Transaction{tx("p1", "4.6.12", false)}
	candidates := []billing.Transaction{candidate("c1", "4.6.12"), candidate("c2", "4.6.12")}

	result := sequentialReconciler().Run(previous, candidates, "bl-new")

	assert.Equal(t, []string{"c2"}, ids(result.Transactions))
}

func TestReconcile_DoesNotMutatePrevious(t *testing.T) {
	previous := []billing.Transaction{tx("p1", "4.6.12", false)}

	sequentialReconciler().Reconcile(previous, nil, "bl-new")

	assert.Equal(t, "p1", previous[0].ID)
	assert.False(t, previous[0].Credit)
	assert.Equal(t, "bl-old", previous[0].BillLicenceID)
}

func TestNewReconciler_GeneratesUUIDs(t *testing.T) {
	result := supplementary.NewReconciler().Reconcile([]billing.Transaction{tx("p1", "4.6.12", false)}, nil, "bl-new")

	require.Len(t, result, 1)
	assert.Len(t, result[0].ID, 36)
	assert.NotEqual(t, "p1", result[0].ID)
}

// =============================================================================
// CANCEL HISTORY
// =============================================================================

func TestCancelHistory_RemovesReversedDebits(t *testing.T) {
	// GIVEN: Run 1 billed 4.6.12; run 2 billed 4.6.13 and credited 4.6.12
	history := []billing.Transaction{
		tx("run1-debit", "4.6.12", false),
		tx("run2-debit", "4.6.13", false),
		tx("run2-credit", "4.6.12", true),
	}

	// THEN: Only the 4.6.13 debit is still billed
	assert.Equal(t, []string{"run2-debit"}, ids(supplementary.CancelHistory(history)))
}

func TestCancelHistory_ThirdRunWithNoChange(t *testing.T) {
	// GIVEN: The history above and a third run recalculating 4.6.13
	history := []billing.Transaction{
		tx("run1-debit", "4.6.12", false),
		tx("run2-debit", "4.6.13", false),
		tx("run2-credit", "4.6.12", true),
	}
	candidates := []billing.Transaction{candidate("run3", "4.6.13")}

	// WHEN: Reconciling against the cancelled history
	result := sequentialReconciler().Reconcile(supplementary.CancelHistory(history), candidates, "bl-3")

	// THEN: Nothing needs sending
	assert.Empty(t, result)
}

func TestCancelHistory_UnmatchedCreditIgnored(t *testing.T) {
	history := []billing.Transaction{
		tx("debit", "4.6.12", false),
		tx("stray-credit", "4.6.99", true),
	}

	assert.Equal(t, []string{"debit"}, ids(supplementary.CancelHistory(history)))
}

func TestCancelHistory_Empty(t *testing.T) {
	assert.Empty(t, supplementary.CancelHistory(nil))
}
