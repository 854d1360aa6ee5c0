// Package store provides in-memory billing.Store implementations.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/abstraction-billing/billing"
	"github.com/warp/abstraction-billing/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps licence graphs as JSON so every read hands out an independent
// graph, the same as a database round trip.
type Memory struct {
	mu           sync.RWMutex
	licences     map[string][]byte
	licenceOrder []string
	transactions []billing.Transaction
	txIDs        map[string]bool
	billRuns     map[string]billing.BillRun
}

func NewMemory() *Memory {
	return &Memory{
		licences: make(map[string][]byte),
		txIDs:    make(map[string]bool),
		billRuns: make(map[string]billing.BillRun),
	}
}

var _ billing.Store = (*Memory)(nil)

// Reset clears all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.licences = make(map[string][]byte)
	m.licenceOrder = nil
	m.transactions = nil
	m.txIDs = make(map[string]bool)
	m.billRuns = make(map[string]billing.BillRun)
	return nil
}

// =============================================================================
// LICENCES
// =============================================================================

func (m *Memory) SaveLicence(_ context.Context, licence *billing.Licence) error {
	data, err := json.Marshal(licence)
	if err != nil {
		return fmt.Errorf("failed to encode licence: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.licences[licence.LicenceID]; !exists {
		m.licenceOrder = append(m.licenceOrder, licence.LicenceID)
	}
	m.licences[licence.LicenceID] = data
	return nil
}

func (m *Memory) GetLicence(_ context.Context, licenceID string) (*billing.Licence, error) {
	m.mu.RLock()
	data, ok := m.licences[licenceID]
	m.mu.RUnlock()

	if !ok {
		return nil, generic.ErrLicenceNotFound
	}
	return decodeLicence(data)
}

func (m *Memory) LicencesByRegion(_ context.Context, regionID string, period generic.Period) ([]*billing.Licence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*billing.Licence
	for _, id := range m.licenceOrder {
		licence, err := decodeLicence(m.licences[id])
		if err != nil {
			return nil, err
		}
		if licence.RegionID != regionID || !licence.HasCurrentChargeVersionIn(period) {
			continue
		}
		result = append(result, licence)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].LicenceRef < result[j].LicenceRef
	})
	return result, nil
}

func decodeLicence(data []byte) (*billing.Licence, error) {
	var licence billing.Licence
	if err := json.Unmarshal(data, &licence); err != nil {
		return nil, fmt.Errorf("failed to decode licence: %w", err)
	}
	return &licence, nil
}

// =============================================================================
// TRANSACTIONS (append-only)
// =============================================================================

// AppendTransactions adds transactions atomically.
func (m *Memory) AppendTransactions(_ context.Context, txs []billing.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all ids first (atomic check)
	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if m.txIDs[tx.ID] || seen[tx.ID] {
			return generic.ErrDuplicateTransaction
		}
		seen[tx.ID] = true
	}

	for _, tx := range txs {
		m.transactions = append(m.transactions, tx)
		m.txIDs[tx.ID] = true
	}
	return nil
}

func (m *Memory) PreviousTransactions(_ context.Context, key billing.TransactionKey) ([]billing.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []billing.Transaction
	for _, tx := range m.transactions {
		if tx.BillingAccountID == key.BillingAccountID &&
			tx.LicenceID == key.LicenceID &&
			tx.FinancialYearEnding == key.FinancialYearEnding {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (m *Memory) TransactionsByBillRun(_ context.Context, billRunID string) ([]billing.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []billing.Transaction
	for _, tx := range m.transactions {
		if tx.BillRunID == billRunID {
			result = append(result, tx)
		}
	}
	return result, nil
}

// =============================================================================
// BILL RUNS
// =============================================================================

func (m *Memory) SaveBillRun(_ context.Context, billRun *billing.BillRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.billRuns[billRun.ID] = *billRun
	return nil
}

func (m *Memory) GetBillRun(_ context.Context, id string) (*billing.BillRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	billRun, ok := m.billRuns[id]
	if !ok {
		return nil, generic.ErrBillRunNotFound
	}
	return &billRun, nil
}

func (m *Memory) BillRunsByStatus(_ context.Context, status billing.BillRunStatus) ([]*billing.BillRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*billing.BillRun
	for _, billRun := range m.billRuns {
		if billRun.Status == status {
			b := billRun
			result = append(result, &b)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
