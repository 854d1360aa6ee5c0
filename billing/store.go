/*
store.go - Persistence interfaces for the billing domain

PURPOSE:
  Defines the boundary between billing logic and the database. The core
  algorithms never fetch; orchestration reads fully hydrated licence graphs
  and previously billed transactions through these interfaces and hands
  them to the core as plain data.

APPEND-ONLY TRANSACTIONS:
  Billed transactions are never updated or deleted. A correction is a
  reversal (a credit) in a later bill run; the supplementary reconciler
  relies on that full history being available.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - billing/store/memory.go: In-memory for tests and development

SEE ALSO:
  - supplementary/process.go: reads previous transactions
  - billrun/processor.go: reads licences by region
*/
package billing

import (
	"context"

	"github.com/warp/abstraction-billing/generic"
)

// TransactionKey selects the billed history a supplementary run reconciles against.
type TransactionKey struct {
	BillingAccountID    string
	LicenceID           string
	FinancialYearEnding int
}

// TransactionStore persists billed transactions. Append-only.
type TransactionStore interface {
	// AppendTransactions persists txs atomically. Fails on a duplicate id.
	AppendTransactions(ctx context.Context, txs []Transaction) error

	// PreviousTransactions returns billed transactions for key, oldest first.
	PreviousTransactions(ctx context.Context, key TransactionKey) ([]Transaction, error)

	// TransactionsByBillRun returns the transactions persisted for a bill run.
	TransactionsByBillRun(ctx context.Context, billRunID string) ([]Transaction, error)
}

// LicenceStore persists licence graphs.
type LicenceStore interface {
	SaveLicence(ctx context.Context, licence *Licence) error

	// GetLicence returns generic.ErrLicenceNotFound for an unknown id.
	GetLicence(ctx context.Context, licenceID string) (*Licence, error)

	// LicencesByRegion returns licences in the region with at least one current
	// charge version overlapping period. Each call returns a fresh graph.
	LicencesByRegion(ctx context.Context, regionID string, period generic.Period) ([]*Licence, error)
}

// BillRunStore persists bill runs.
type BillRunStore interface {
	SaveBillRun(ctx context.Context, billRun *BillRun) error

	// GetBillRun returns generic.ErrBillRunNotFound for an unknown id.
	GetBillRun(ctx context.Context, id string) (*BillRun, error)

	// BillRunsByStatus returns bill runs in status, oldest first.
	BillRunsByStatus(ctx context.Context, status BillRunStatus) ([]*BillRun, error)
}

// Store is everything bill run processing needs.
type Store interface {
	TransactionStore
	LicenceStore
	BillRunStore
}

// HasCurrentChargeVersionIn reports whether l has a current charge version
// overlapping period. Stores use it to filter LicencesByRegion.
func (l *Licence) HasCurrentChargeVersionIn(period generic.Period) bool {
	for _, cv := range l.ChargeVersions {
		if cv.Status != ChargeVersionCurrent {
			continue
		}
		end := cv.EndDate
		if end.IsZero() {
			end = period.End
		}
		if period.Overlaps(generic.Period{Start: cv.StartDate, End: end}) {
			return true
		}
	}
	return false
}
