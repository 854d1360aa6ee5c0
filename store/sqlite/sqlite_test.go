package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/abstraction-billing/billing"
	"github.com/warp/abstraction-billing/generic"
	"github.com/warp/abstraction-billing/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testLicence(id, ref, region string) *billing.Licence {
	return &billing.Licence{
		LicenceID:  id,
		LicenceRef: ref,
		RegionID:   region,
		StartDate:  generic.MustParseDate("2010-04-01"),
		ChargeVersions: []*billing.ChargeVersion{{
			ChargeVersionID: id + "-cv",
			StartDate:       generic.MustParseDate("2022-04-01"),
			Status:          billing.ChargeVersionCurrent,
			ChargeReferences: []*billing.ChargeReference{{
				ChargeReferenceID: id + "-cr",
				ChargeCategory:    billing.ChargeCategory{Reference: "4.6.12", SubsistenceCharge: decimal.NewFromInt(68400)},
				ChargeElements: []*billing.ChargeElement{{
					ChargeElementID:          id + "-ce",
					Purpose:                  billing.Purpose{LegacyID: "400"},
					AbstractionPeriod:        generic.AbstractionPeriod{StartDay: 1, StartMonth: 4, EndDay: 31, EndMonth: 10},
					AuthorisedAnnualQuantity: decimal.NewFromInt(100),
				}},
			}},
		}},
	}
}

func testTx(id string) billing.Transaction {
	return billing.Transaction{
		ID:                  id,
		BillRunID:           "br-1",
		BillLicenceID:       "bl-1",
		BillingAccountID:    "BA-1",
		LicenceID:           "lic-1",
		FinancialYearEnding: 2024,
		Status:              billing.TransactionCharged,
		Volume:              generic.MustParseDecimal("12.5"),
		ChargeType:          billing.ChargeTypeStandard,
		ChargeCategoryCode:  "4.6.12",
		BillableDays:        214,
		Section126Factor:    decimal.NewFromInt(1),
		AggregateFactor:     generic.MustParseDecimal("0.5"),
		AdjustmentFactor:    decimal.NewFromInt(1),
		SupportedSource:     true,
		SupportedSourceName: "Candover",
	}
}

var key = billing.TransactionKey{BillingAccountID: "BA-1", LicenceID: "lic-1", FinancialYearEnding: 2024}

// =============================================================================
// LICENCES
// =============================================================================

func TestSQLite_SaveAndGetLicence(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SaveLicence(ctx, testLicence("lic-1", "01/001", "r1")))

	got, err := s.GetLicence(ctx, "lic-1")
	require.NoError(t, err)
	assert.Equal(t, "01/001", got.LicenceRef)
	assert.True(t, got.StartDate.Equal(generic.MustParseDate("2010-04-01")))
	assert.True(t, got.ExpiredDate.IsZero())

	ce := got.ChargeVersions[0].ChargeReferences[0].ChargeElements[0]
	assert.Equal(t, 31, ce.AbstractionPeriod.EndDay)
	assert.True(t, ce.AuthorisedAnnualQuantity.Equal(decimal.NewFromInt(100)))
}

func TestSQLite_SaveLicence_Upserts(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	licence := testLicence("lic-1", "01/001", "r1")
	require.NoError(t, s.SaveLicence(ctx, licence))

	licence.RevokedDate = generic.MustParseDate("2023-09-30")
	require.NoError(t, s.SaveLicence(ctx, licence))

	got, err := s.GetLicence(ctx, "lic-1")
	require.NoError(t, err)
	assert.True(t, got.RevokedDate.Equal(generic.MustParseDate("2023-09-30")))
}

func TestSQLite_GetLicence_NotFound(t *testing.T) {
	_, err := newStore(t).GetLicence(context.Background(), "missing")

	assert.ErrorIs(t, err, generic.ErrLicenceNotFound)
}

func TestSQLite_LicencesByRegion(t *testing.T) {
	// GIVEN: Licences in two regions, one with only a draft charge version
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SaveLicence(ctx, testLicence("lic-b", "01/002", "r1")))
	require.NoError(t, s.SaveLicence(ctx, testLicence("lic-a", "01/001", "r1")))
	require.NoError(t, s.SaveLicence(ctx, testLicence("lic-c", "01/003", "r2")))

	draft := testLicence("lic-d", "01/004", "r1")
	draft.ChargeVersions[0].Status = billing.ChargeVersionDraft
	require.NoError(t, s.SaveLicence(ctx, draft))

	// WHEN: Fetching region r1 for financial year 2024
	licences, err := s.LicencesByRegion(ctx, "r1", generic.FinancialYear(2024))
	require.NoError(t, err)

	// THEN: Only current licences are returned, ordered by reference
	require.Len(t, licences, 2)
	assert.Equal(t, "01/001", licences[0].LicenceRef)
	assert.Equal(t, "01/002", licences[1].LicenceRef)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestSQLite_AppendTransactions_RoundTripsFields(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	original := testTx("tx-1")
	require.NoError(t, s.AppendTransactions(ctx, []billing.Transaction{original}))

	got, err := s.PreviousTransactions(ctx, key)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "tx-1", got[0].ID)
	assert.Equal(t, "br-1", got[0].BillRunID)
	assert.Equal(t, "Candover", got[0].SupportedSourceName)
	assert.True(t, got[0].SupportedSource)
	assert.True(t, got[0].Volume.Equal(original.Volume))
	assert.True(t, got[0].Matches(original))
}

func TestSQLite_AppendTransactions_DuplicateIsAtomic(t *testing.T) {
	// GIVEN: tx-1 already billed
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.AppendTransactions(ctx, []billing.Transaction{testTx("tx-1")}))

	// WHEN: A batch containing a new id and tx-1 again is appended
	err := s.AppendTransactions(ctx, []billing.Transaction{testTx("tx-2"), testTx("tx-1")})

	// THEN: It fails and nothing from the batch is persisted
	assert.ErrorIs(t, err, generic.ErrDuplicateTransaction)
	got, err := s.PreviousTransactions(ctx, key)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLite_PreviousTransactions_OrderAndKey(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	otherYear := testTx("tx-other-year")
	otherYear.FinancialYearEnding = 2023
	otherAccount := testTx("tx-other-account")
	otherAccount.BillingAccountID = "BA-2"

	require.NoError(t, s.AppendTransactions(ctx, []billing.Transaction{testTx("tx-c"), otherYear}))
	require.NoError(t, s.AppendTransactions(ctx, []billing.Transaction{testTx("tx-a"), otherAccount, testTx("tx-b")}))

	got, err := s.PreviousTransactions(ctx, key)
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, tx := range got {
		ids[i] = tx.ID
	}
	assert.Equal(t, []string{"tx-c", "tx-a", "tx-b"}, ids)
}

func TestSQLite_TransactionsByBillRun(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	other := testTx("tx-2")
	other.BillRunID = "br-2"
	unassigned := testTx("tx-3")
	unassigned.BillRunID = ""
	require.NoError(t, s.AppendTransactions(ctx, []billing.Transaction{testTx("tx-1"), other, unassigned}))

	got, err := s.TransactionsByBillRun(ctx, "br-2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "tx-2", got[0].ID)
}

// =============================================================================
// BILL RUNS
// =============================================================================

func TestSQLite_BillRuns(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	billRun := &billing.BillRun{
		ID:                  "br-1",
		RegionID:            "r1",
		Scheme:              "sroc",
		BatchType:           billing.BatchTwoPartTariff,
		FinancialYearEnding: 2024,
		Status:              billing.BillRunQueued,
		CreatedAt:           created,
		UpdatedAt:           created,
	}
	require.NoError(t, s.SaveBillRun(ctx, billRun))

	// WHEN: The run fails and is saved again
	require.NoError(t, billRun.Transition(billing.BillRunProcessing))
	require.NoError(t, billRun.Transition(billing.BillRunError))
	billRun.ErrorCode = generic.CodeTwoPartTariff
	billRun.UpdatedAt = created.Add(time.Minute)
	require.NoError(t, s.SaveBillRun(ctx, billRun))

	// THEN: Status and code are updated, creation time is kept
	got, err := s.GetBillRun(ctx, "br-1")
	require.NoError(t, err)
	assert.Equal(t, billing.BillRunError, got.Status)
	assert.Equal(t, generic.CodeTwoPartTariff, got.ErrorCode)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.UpdatedAt.Equal(created.Add(time.Minute)))
}

func TestSQLite_GetBillRun_NotFound(t *testing.T) {
	_, err := newStore(t).GetBillRun(context.Background(), "missing")

	assert.ErrorIs(t, err, generic.ErrBillRunNotFound)
}

func TestSQLite_BillRunsByStatus_OldestFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	runs := []struct {
		id     string
		offset time.Duration
		status billing.BillRunStatus
	}{
		{"br-late", 2 * time.Second, billing.BillRunQueued},
		{"br-early", 0, billing.BillRunQueued},
		{"br-fraction", 500 * time.Millisecond, billing.BillRunQueued},
		{"br-ready", time.Second, billing.BillRunReady},
	}
	for _, r := range runs {
		require.NoError(t, s.SaveBillRun(ctx, &billing.BillRun{
			ID:        r.id,
			RegionID:  "r1",
			BatchType: billing.BatchTwoPartTariff,
			Status:    r.status,
			CreatedAt: base.Add(r.offset),
			UpdatedAt: base.Add(r.offset),
		}))
	}

	queued, err := s.BillRunsByStatus(ctx, billing.BillRunQueued)
	require.NoError(t, err)

	require.Len(t, queued, 3)
	assert.Equal(t, "br-early", queued[0].ID)
	assert.Equal(t, "br-fraction", queued[1].ID)
	assert.Equal(t, "br-late", queued[2].ID)
}

// =============================================================================
// MAINTENANCE
// =============================================================================

func TestSQLite_PingAndReset(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Ping(ctx))

	require.NoError(t, s.SaveLicence(ctx, testLicence("lic-1", "01/001", "r1")))
	require.NoError(t, s.AppendTransactions(ctx, []billing.Transaction{testTx("tx-1")}))

	require.NoError(t, s.Reset(ctx))

	_, err := s.GetLicence(ctx, "lic-1")
	assert.ErrorIs(t, err, generic.ErrLicenceNotFound)
	got, err := s.PreviousTransactions(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, got)

	// Ids are free again after a reset.
	assert.NoError(t, s.AppendTransactions(ctx, []billing.Transaction{testTx("tx-1")}))
}
