package factory

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/warp/abstraction-billing/billing"
)

// ParseTransactions parses a JSON array of transactions. Transactions without
// an id are given one; a missing charge type defaults to standard.
func ParseTransactions(data []byte) ([]billing.Transaction, error) {
	var txs []billing.Transaction
	if err := json.Unmarshal(data, &txs); err != nil {
		return nil, fmt.Errorf("failed to parse transactions JSON: %w", err)
	}
	if err := NormaliseTransactions(txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// NormaliseTransactions fills defaults in place and rejects unusable input.
func NormaliseTransactions(txs []billing.Transaction) error {
	for i := range txs {
		tx := &txs[i]
		if tx.ID == "" {
			tx.ID = uuid.NewString()
		}
		switch tx.ChargeType {
		case "":
			tx.ChargeType = billing.ChargeTypeStandard
		case billing.ChargeTypeStandard, billing.ChargeTypeCompensation:
		default:
			return fmt.Errorf("transaction %s: unknown charge_type %q", tx.ID, tx.ChargeType)
		}
		if tx.Status == "" {
			tx.Status = billing.TransactionCandidate
		}
		if tx.BillableDays < 0 {
			return fmt.Errorf("transaction %s: billable_days must not be negative", tx.ID)
		}
	}
	return nil
}
