/*
Package supplementary reconciles newly generated transactions against what a
licence has already been billed, so a supplementary bill run only sends the
net difference to the Charging Module.

PURPOSE:
  A supplementary run recalculates a licence's charges for a financial year.
  Most of what it generates was billed before. Sending it again as a debit
  alongside a credit for the old line would produce pairs that net to zero.
  Reconciliation removes those pairs.

ALGORITHM:
  1. CancelHistory: within the billed history, each credit (an earlier
     reversal) cancels the first debit with the same charging attributes.
     The surviving debits are what is currently billed.
  2. Reverse: every surviving debit becomes a candidate credit on the new
     bill licence, with a new id.
  3. Reconcile: each generated transaction looks for the first reversed
     transaction with the same charging attributes. If found, both are
     dropped. Unmatched reversals are appended as net credits.

  Step 1 is what makes licences billed across three or more supplementary
  runs come out right: without it, a debit already reversed in an earlier
  run would be reversed again.

FIRST MATCH WINS:
  When several reversed transactions could cancel the same candidate, the
  first in order is used and removed from the pool. There is no other
  tie-break.

SEE ALSO:
  - billing/transaction.go: identity (Matches) and Reverse
  - process.go: store-backed processing for one licence
*/
package supplementary

import (
	"github.com/google/uuid"
	"github.com/warp/abstraction-billing/billing"
)

// Reconciliation is the outcome of reconciling one licence's transactions.
type Reconciliation struct {
	Transactions []billing.Transaction
	Kept         int // candidates with no counterpart
	Cancelled    int // candidate/reversal pairs removed
	Reversed     int // unmatched reversals appended as credits
}

// Reconciler cancels candidate transactions against reversed previous ones.
type Reconciler struct {
	// NewID generates ids for reversed transactions.
	NewID func() string
}

func NewReconciler() *Reconciler {
	return &Reconciler{NewID: uuid.NewString}
}

// Reconcile returns the transactions to send for a bill licence. With no
// previous transactions the candidates are returned unchanged.
func (r *Reconciler) Reconcile(previous, candidates []billing.Transaction, billLicenceID string) []billing.Transaction {
	return r.Run(previous, candidates, billLicenceID).Transactions
}

// Run is Reconcile with counts of what happened.
func (r *Reconciler) Run(previous, candidates []billing.Transaction, billLicenceID string) Reconciliation {
	if len(previous) == 0 {
		return Reconciliation{Transactions: candidates, Kept: len(candidates)}
	}

	pool := r.Reverse(previous, billLicenceID)

	result := Reconciliation{Transactions: make([]billing.Transaction, 0, len(candidates)+len(pool))}
	for _, candidate := range candidates {
		index := firstMatch(pool, candidate)
		if index < 0 {
			result.Transactions = append(result.Transactions, candidate)
			result.Kept++
			continue
		}
		pool = append(pool[:index], pool[index+1:]...)
		result.Cancelled++
	}

	result.Transactions = append(result.Transactions, pool...)
	result.Reversed = len(pool)
	return result
}

// Reverse turns each transaction into a candidate credit on billLicenceID.
func (r *Reconciler) Reverse(transactions []billing.Transaction, billLicenceID string) []billing.Transaction {
	reversed := make([]billing.Transaction, len(transactions))
	for i, tx := range transactions {
		reversed[i] = tx.Reverse(r.NewID(), billLicenceID)
	}
	return reversed
}

// CancelHistory removes debit/credit pairs from previously billed transactions
// and returns the debits that remain, in their original order.
func CancelHistory(previous []billing.Transaction) []billing.Transaction {
	var debits, credits []billing.Transaction
	for _, tx := range previous {
		if tx.Credit {
			credits = append(credits, tx)
		} else {
			debits = append(debits, tx)
		}
	}

	for _, credit := range credits {
		if index := firstMatch(debits, credit); index >= 0 {
			debits = append(debits[:index], debits[index+1:]...)
		}
	}
	return debits
}

func firstMatch(pool []billing.Transaction, tx billing.Transaction) int {
	for i, candidate := range pool {
		if candidate.Matches(tx) {
			return i
		}
	}
	return -1
}
