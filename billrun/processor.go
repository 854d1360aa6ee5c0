/*
Package billrun orchestrates bill runs around the pure billing core.

PURPOSE:
  The core packages (billing, twopart, supplementary) take fully hydrated
  data and return results. This package does the I/O around them: it
  creates and moves bill runs through their statuses, fetches licences and
  billed history from the store, persists net transactions, records metrics
  and logs failures with a numeric error code for operator triage.

TWO-PART TARIFF RUN:
  1. Bill run queued -> processing
  2. Fetch licences in the region with a current charge version in the
     financial year (code 40 on failure)
  3. Match and allocate returns to charge elements (code 20 on failure)
  4. Bill run -> review when anything carries an issue, ready otherwise,
     empty when the region has no chargeable licences

SUPPLEMENTARY RUN:
  1. Bill run queued -> processing
  2. Billing accounts processed in batches of BatchSize; accounts in a
     batch are reconciled concurrently, each on its own data
  3. Net transactions persisted in account order (code 50 on failure)
  4. Bill run -> ready, or empty when nothing needs sending

  A failing account stops the run (code 30). Nothing is persisted unless
  every account succeeded.

SEE ALSO:
  - scheduler.go: background pickup of queued bill runs
  - twopart/allocate.go: allocation
  - supplementary/process.go: reconciliation against billed history
*/
package billrun

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/abstraction-billing/billing"
	"github.com/warp/abstraction-billing/config"
	"github.com/warp/abstraction-billing/generic"
	"github.com/warp/abstraction-billing/metrics"
	"github.com/warp/abstraction-billing/supplementary"
	"github.com/warp/abstraction-billing/twopart"
)

const (
	moduleName = "billrun"

	SchemeSroc    = "sroc"
	SchemePresroc = "presroc"

	DefaultBatchSize = 10
)

// Processor runs bill runs against a store.
type Processor struct {
	Store     billing.Store
	Allocator *twopart.Allocator
	History   *supplementary.Processor
	Log       *logrus.Logger
	BatchSize int

	NewID func() string
	Now   func() time.Time

	mu      sync.Mutex
	running map[string]bool
}

// NewProcessor creates a processor. batchSize <= 0 uses DefaultBatchSize.
func NewProcessor(store billing.Store, log *logrus.Logger, batchSize int) *Processor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Processor{
		Store:     store,
		Allocator: twopart.NewAllocator(),
		History:   supplementary.NewProcessor(store),
		Log:       log,
		BatchSize: batchSize,
		NewID:     uuid.NewString,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// BILL RUNS
// =============================================================================

// CreateBillRun saves a queued bill run for a region and financial year.
func (p *Processor) CreateBillRun(
	ctx context.Context,
	regionID string,
	batchType billing.BatchType,
	financialYearEnding int,
) (*billing.BillRun, error) {
	if regionID == "" {
		return nil, fmt.Errorf("%w: region_id is required", generic.ErrInvalidBillRun)
	}
	switch batchType {
	case billing.BatchAnnual, billing.BatchSupplementary, billing.BatchTwoPartTariff:
	default:
		return nil, fmt.Errorf("%w: unknown batch type %q", generic.ErrInvalidBillRun, batchType)
	}
	if financialYearEnding <= 0 {
		return nil, fmt.Errorf("%w: financial_year_ending is required", generic.ErrInvalidBillRun)
	}

	scheme := SchemePresroc
	if generic.IsSrocYear(financialYearEnding) {
		scheme = SchemeSroc
	}

	now := p.Now()
	billRun := &billing.BillRun{
		ID:                  p.NewID(),
		RegionID:            regionID,
		Scheme:              scheme,
		BatchType:           batchType,
		FinancialYearEnding: financialYearEnding,
		Status:              billing.BillRunQueued,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := p.Store.SaveBillRun(ctx, billRun); err != nil {
		return nil, err
	}

	p.Log.WithFields(logrus.Fields{
		"bill_run_id": billRun.ID,
		"region_id":   regionID,
		"batch_type":  batchType,
		"year":        financialYearEnding,
	}).Info("bill run created")
	return billRun, nil
}

// start claims the bill run and moves it to processing. The stored status wins
// over whatever the caller holds.
func (p *Processor) start(ctx context.Context, billRun *billing.BillRun) error {
	if !p.claim(billRun.ID) {
		return fmt.Errorf("%w: bill run %s is already being processed", generic.ErrInvalidTransition, billRun.ID)
	}

	current, err := p.Store.GetBillRun(ctx, billRun.ID)
	if err != nil {
		p.release(billRun.ID)
		return err
	}
	*billRun = *current

	if err := billRun.Transition(billing.BillRunProcessing); err != nil {
		p.release(billRun.ID)
		return err
	}
	if err := p.Store.SaveBillRun(ctx, billRun); err != nil {
		p.release(billRun.ID)
		return err
	}
	return nil
}

func (p *Processor) finish(ctx context.Context, billRun *billing.BillRun, status billing.BillRunStatus) error {
	defer p.release(billRun.ID)

	if err := billRun.Transition(status); err != nil {
		return err
	}
	return p.Store.SaveBillRun(ctx, billRun)
}

func (p *Processor) claim(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running == nil {
		p.running = make(map[string]bool)
	}
	if p.running[id] {
		return false
	}
	p.running[id] = true
	return true
}

func (p *Processor) release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, id)
}

// fail marks the bill run as errored with the code of err and returns err.
func (p *Processor) fail(ctx context.Context, billRun *billing.BillRun, funcName string, err error) error {
	defer p.release(billRun.ID)

	billRun.ErrorCode = generic.BillingErrorCode(err)
	if billRun.CanTransition(billing.BillRunError) {
		_ = billRun.Transition(billing.BillRunError)
	}
	if saveErr := p.Store.SaveBillRun(ctx, billRun); saveErr != nil {
		config.LogError(p.Log, moduleName, funcName, "saving errored bill run", billRun.ID, saveErr)
	}
	config.LogError(p.Log, moduleName, funcName, "processing bill run", map[string]any{
		"bill_run_id": billRun.ID,
		"region_id":   billRun.RegionID,
		"error_code":  billRun.ErrorCode,
	}, err)
	return err
}

// =============================================================================
// CHARGE PERIOD
// =============================================================================

// ChargePeriodResult is a charge version's chargeable window for a billing period.
type ChargePeriodResult struct {
	ChargePeriod            generic.Period `json:"charge_period"`
	Chargeable              bool           `json:"chargeable"`
	FirstChargeOnNewLicence bool           `json:"first_charge_on_new_licence"`
	FinancialYearEnding     int            `json:"financial_year_ending"`
}

// DetermineChargePeriod resolves the charge period and minimum charge flag for a
// charge version. An invalid billing period is a billing error with code 10.
func DetermineChargePeriod(
	chargeVersion *billing.ChargeVersion,
	licence *billing.Licence,
	billingPeriod generic.Period,
) (ChargePeriodResult, error) {
	if err := billingPeriod.Validate(); err != nil {
		return ChargePeriodResult{}, generic.NewBillingError(generic.CodeChargePeriod, "invalid billing period", err)
	}

	chargePeriod := billing.DetermineChargePeriod(chargeVersion, licence, billingPeriod)
	return ChargePeriodResult{
		ChargePeriod:            chargePeriod,
		Chargeable:              !chargePeriod.IsNull(),
		FirstChargeOnNewLicence: billing.IsFirstChargeOnNewLicence(chargeVersion, chargePeriod),
		FinancialYearEnding:     generic.FinancialYearEnding(billingPeriod.End),
	}, nil
}

// =============================================================================
// TWO-PART TARIFF
// =============================================================================

// TwoPartTariffResult is the outcome of a two-part tariff bill run.
type TwoPartTariffResult struct {
	BillRun  *billing.BillRun   `json:"bill_run"`
	Summary  twopart.Summary    `json:"summary"`
	Licences []*billing.Licence `json:"licences"`
}

// TwoPartTariff allocates returns for every chargeable licence in the bill run's region.
func (p *Processor) TwoPartTariff(ctx context.Context, billRun *billing.BillRun) (*TwoPartTariffResult, error) {
	const funcName = "TwoPartTariff"
	started := time.Now()

	if billRun.BatchType != billing.BatchTwoPartTariff {
		return nil, fmt.Errorf("%w: bill run %s is %s", generic.ErrInvalidBillRun, billRun.ID, billRun.BatchType)
	}
	if err := p.start(ctx, billRun); err != nil {
		return nil, err
	}

	billingPeriod := generic.FinancialYear(billRun.FinancialYearEnding)

	licences, err := p.Store.LicencesByRegion(ctx, billRun.RegionID, billingPeriod)
	if err != nil {
		metrics.ObserveAllocation(metrics.ResultError, time.Since(started))
		return nil, p.fail(ctx, billRun, funcName,
			generic.NewBillingError(generic.CodeLicenceFetch, "failed to fetch licences", err))
	}

	allocated, err := p.Allocator.Allocate(licences, billingPeriod)
	if err != nil {
		metrics.ObserveAllocation(metrics.ResultError, time.Since(started))
		return nil, p.fail(ctx, billRun, funcName,
			generic.NewBillingError(generic.CodeTwoPartTariff, "failed to allocate returns", err))
	}

	summary := twopart.Summarise(allocated)

	status := billing.BillRunReady
	result := metrics.ResultSuccess
	switch {
	case len(allocated) == 0:
		status = billing.BillRunEmpty
	case summary.ReviewRequired():
		status = billing.BillRunReview
		result = metrics.ResultReview
	}

	if err := p.finish(ctx, billRun, status); err != nil {
		return nil, err
	}

	metrics.ObserveAllocation(result, time.Since(started))
	metrics.AddIssues(summary.Issues)
	quantity, _ := summary.AllocatedQuantity.Float64()
	metrics.AddAllocatedQuantity(quantity)

	p.Log.WithFields(logrus.Fields{
		"bill_run_id": billRun.ID,
		"region_id":   billRun.RegionID,
		"licences":    summary.Licences,
		"returns":     summary.Returns,
		"allocated":   summary.AllocatedQuantity.String(),
		"status":      billRun.Status,
	}).Info("two-part tariff bill run processed")

	return &TwoPartTariffResult{BillRun: billRun, Summary: summary, Licences: allocated}, nil
}

// =============================================================================
// SUPPLEMENTARY
// =============================================================================

// AccountCandidates are the transactions generated for one billing account and
// licence in a supplementary run.
type AccountCandidates struct {
	BillingAccountID string                `json:"billing_account_id"`
	LicenceID        string                `json:"licence_id"`
	BillLicenceID    string                `json:"bill_licence_id,omitempty"`
	Transactions     []billing.Transaction `json:"transactions"`
}

// AccountResult is one account's reconciliation.
type AccountResult struct {
	BillingAccountID string                `json:"billing_account_id"`
	LicenceID        string                `json:"licence_id"`
	BillLicenceID    string                `json:"bill_licence_id"`
	Kept             int                   `json:"kept"`
	Cancelled        int                   `json:"cancelled"`
	Reversed         int                   `json:"reversed"`
	Transactions     []billing.Transaction `json:"transactions"`
}

// SupplementaryResult is the outcome of a supplementary bill run.
type SupplementaryResult struct {
	BillRun  *billing.BillRun `json:"bill_run"`
	Accounts []AccountResult  `json:"accounts"`
}

// Supplementary reconciles each account's candidates against what it was billed
// and persists the net transactions on the bill run.
func (p *Processor) Supplementary(
	ctx context.Context,
	billRun *billing.BillRun,
	accounts []AccountCandidates,
) (*SupplementaryResult, error) {
	const funcName = "Supplementary"

	if billRun.BatchType != billing.BatchSupplementary {
		return nil, fmt.Errorf("%w: bill run %s is %s", generic.ErrInvalidBillRun, billRun.ID, billRun.BatchType)
	}
	if err := p.start(ctx, billRun); err != nil {
		return nil, err
	}

	results := make([]AccountResult, len(accounts))
	for start := 0; start < len(accounts); start += p.BatchSize {
		end := start + p.BatchSize
		if end > len(accounts) {
			end = len(accounts)
		}
		if err := p.processBatch(ctx, billRun, accounts[start:end], results[start:end]); err != nil {
			metrics.IncSupplementaryError()
			return nil, p.fail(ctx, billRun, funcName,
				generic.NewBillingError(generic.CodeSupplementary, "failed to process billing accounts", err))
		}
	}

	var net []billing.Transaction
	for i := range results {
		for j := range results[i].Transactions {
			tx := &results[i].Transactions[j]
			if tx.ID == "" {
				tx.ID = p.NewID()
			}
			if tx.BillLicenceID == "" {
				tx.BillLicenceID = results[i].BillLicenceID
			}
			// Stored under the account's history key so the next run finds it.
			tx.BillingAccountID = results[i].BillingAccountID
			tx.LicenceID = results[i].LicenceID
			tx.FinancialYearEnding = billRun.FinancialYearEnding
			tx.BillRunID = billRun.ID
		}
		net = append(net, results[i].Transactions...)
		metrics.ObserveReconciliation(results[i].Kept, results[i].Cancelled, results[i].Reversed)
	}

	if len(net) > 0 {
		if err := p.Store.AppendTransactions(ctx, net); err != nil {
			return nil, p.fail(ctx, billRun, funcName,
				generic.NewBillingError(generic.CodePersistTransactions, "failed to persist transactions", err))
		}
	}

	status := billing.BillRunReady
	if len(net) == 0 {
		status = billing.BillRunEmpty
	}
	if err := p.finish(ctx, billRun, status); err != nil {
		return nil, err
	}

	p.Log.WithFields(logrus.Fields{
		"bill_run_id":  billRun.ID,
		"accounts":     len(accounts),
		"transactions": len(net),
		"status":       billRun.Status,
	}).Info("supplementary bill run processed")

	return &SupplementaryResult{BillRun: billRun, Accounts: results}, nil
}

// processBatch reconciles a batch of accounts concurrently, writing into results.
func (p *Processor) processBatch(
	ctx context.Context,
	billRun *billing.BillRun,
	batch []AccountCandidates,
	results []AccountResult,
) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for i := range batch {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			account := batch[i]
			billLicenceID := account.BillLicenceID
			if billLicenceID == "" {
				billLicenceID = p.NewID()
			}
			key := billing.TransactionKey{
				BillingAccountID:    account.BillingAccountID,
				LicenceID:           account.LicenceID,
				FinancialYearEnding: billRun.FinancialYearEnding,
			}

			reconciliation, err := p.History.Process(ctx, key, account.Transactions, billLicenceID)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("billing account %s: %w", account.BillingAccountID, err)
				}
				mu.Unlock()
				return
			}

			results[i] = AccountResult{
				BillingAccountID: account.BillingAccountID,
				LicenceID:        account.LicenceID,
				BillLicenceID:    billLicenceID,
				Kept:             reconciliation.Kept,
				Cancelled:        reconciliation.Cancelled,
				Reversed:         reconciliation.Reversed,
				Transactions:     append([]billing.Transaction(nil), reconciliation.Transactions...),
			}
		}(i)
	}

	wg.Wait()
	return firstErr
}
