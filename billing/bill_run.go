package billing

import (
	"fmt"
	"time"

	"github.com/warp/abstraction-billing/generic"
)

// =============================================================================
// BILL RUN
// =============================================================================

type BatchType string

const (
	BatchAnnual        BatchType = "annual"
	BatchSupplementary BatchType = "supplementary"
	BatchTwoPartTariff BatchType = "two_part_tariff"
)

type BillRunStatus string

const (
	BillRunQueued     BillRunStatus = "queued"
	BillRunProcessing BillRunStatus = "processing"
	BillRunReview     BillRunStatus = "review"
	BillRunReady      BillRunStatus = "ready"
	BillRunEmpty      BillRunStatus = "empty"
	BillRunError      BillRunStatus = "error"
)

// billRunTransitions lists the statuses each status may move to.
var billRunTransitions = map[BillRunStatus][]BillRunStatus{
	BillRunQueued:     {BillRunProcessing, BillRunError},
	BillRunProcessing: {BillRunReview, BillRunReady, BillRunEmpty, BillRunError},
	BillRunReview:     {BillRunProcessing, BillRunReady, BillRunError},
}

// BillRun is a batch billing process for a region and financial year.
type BillRun struct {
	ID                  string        `json:"id"`
	RegionID            string        `json:"region_id"`
	Scheme              string        `json:"scheme"`
	BatchType           BatchType     `json:"batch_type"`
	FinancialYearEnding int           `json:"financial_year_ending"`
	Status              BillRunStatus `json:"status"`
	ErrorCode           int           `json:"error_code,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// CanTransition reports whether the bill run may move from its status to next.
func (b *BillRun) CanTransition(next BillRunStatus) bool {
	for _, allowed := range billRunTransitions[b.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the bill run to next, rejecting moves the status machine forbids.
func (b *BillRun) Transition(next BillRunStatus) error {
	if !b.CanTransition(next) {
		return fmt.Errorf("%w: bill run %s cannot move from %s to %s", generic.ErrInvalidTransition, b.ID, b.Status, next)
	}
	b.Status = next
	b.UpdatedAt = time.Now().UTC()
	return nil
}
