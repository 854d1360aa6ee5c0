package supplementary_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/abstraction-billing/billing"
	"github.com/warp/abstraction-billing/billing/store"
	"github.com/warp/abstraction-billing/supplementary"
)

type failingStore struct {
	billing.TransactionStore
}

func (failingStore) PreviousTransactions(context.Context, billing.TransactionKey) ([]billing.Transaction, error) {
	return nil, errors.New("connection refused")
}

func TestProcessor_ReconcilesAgainstStoredHistory(t *testing.T) {
	// GIVEN: A store holding two bill runs of history for one licence
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.AppendTransactions(ctx, []billing.Transaction{
		tx("run1-debit", "4.6.12", false),
		tx("run2-debit", "4.6.13", false),
		tx("run2-credit", "4.6.12", true),
	}))

	other := tx("other-year", "4.6.13", false)
	other.FinancialYearEnding = 2023
	require.NoError(t, s.AppendTransactions(ctx, []billing.Transaction{other}))

	p := supplementary.NewProcessor(s)
	p.Reconciler = sequentialReconciler()

	// WHEN: The licence is recalculated as 4.6.14
	key := billing.TransactionKey{BillingAccountID: "BA-1", LicenceID: "lic-1", FinancialYearEnding: 2024}
	result, err := p.Process(ctx, key, []billing.Transaction{candidate("run3", "4.6.14")}, "bl-3")
	require.NoError(t, err)

	// THEN: The new debit is sent with one credit for what is still billed
	require.Len(t, result.Transactions, 2)
	assert.Equal(t, "run3", result.Transactions[0].ID)
	assert.True(t, result.Transactions[1].Credit)
	assert.Equal(t, "4.6.13", result.Transactions[1].ChargeCategoryCode)
	assert.Equal(t, "bl-3", result.Transactions[1].BillLicenceID)
	assert.Equal(t, 1, result.Reversed)
}

func TestProcessor_NoHistory(t *testing.T) {
	p := supplementary.NewProcessor(store.NewMemory())
	key := billing.TransactionKey{BillingAccountID: "BA-1", LicenceID: "lic-1", FinancialYearEnding: 2024}

	result, err := p.Process(context.Background(), key, []billing.Transaction{candidate("c1", "4.6.12")}, "bl-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids(result.Transactions))
}

func TestProcessor_StoreError(t *testing.T) {
	p := supplementary.NewProcessor(failingStore{})

	_, err := p.Process(context.Background(), billing.TransactionKey{}, nil, "bl-1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch previous transactions")
}
