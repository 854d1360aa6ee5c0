package supplementary

import (
	"context"
	"fmt"

	"github.com/warp/abstraction-billing/billing"
)

// Processor reconciles generated transactions against a store's billed history.
type Processor struct {
	Store      billing.TransactionStore
	Reconciler *Reconciler
}

func NewProcessor(store billing.TransactionStore) *Processor {
	return &Processor{Store: store, Reconciler: NewReconciler()}
}

// Process fetches the billed history for key, cancels it against itself, then
// reconciles what remains against generated for the bill licence.
func (p *Processor) Process(
	ctx context.Context,
	key billing.TransactionKey,
	generated []billing.Transaction,
	billLicenceID string,
) (Reconciliation, error) {
	previous, err := p.Store.PreviousTransactions(ctx, key)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("failed to fetch previous transactions: %w", err)
	}

	return p.Reconciler.Run(CancelHistory(previous), generated, billLicenceID), nil
}
