package billrun_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/abstraction-billing/billing"
	"github.com/warp/abstraction-billing/billing/store"
	"github.com/warp/abstraction-billing/billrun"
)

func TestScheduler_RunNow_ProcessesQueuedTwoPartTariffRuns(t *testing.T) {
	// GIVEN: Two queued two-part tariff runs and a queued supplementary run
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.SaveLicence(ctx, sprayLicence("lic-1", "01/001", false)))
	require.NoError(t, s.SaveLicence(ctx, sprayLicence("lic-2", "01/002", true)))
	p := newProcessor(s)

	first := newBillRun(t, p, billing.BatchTwoPartTariff)
	second := newBillRun(t, p, billing.BatchTwoPartTariff)
	supplementary := newBillRun(t, p, billing.BatchSupplementary)

	// WHEN: The scheduler checks
	processed, failed := billrun.NewScheduler(p).RunNow(ctx)

	// THEN: Both two-part tariff runs are processed; the supplementary run waits
	assert.Equal(t, 2, processed)
	assert.Zero(t, failed)
	assert.Equal(t, billing.BillRunReview, storedStatus(t, s, first.ID).Status)
	assert.Equal(t, billing.BillRunReview, storedStatus(t, s, second.ID).Status)
	assert.Equal(t, billing.BillRunQueued, storedStatus(t, s, supplementary.ID).Status)
}

func TestScheduler_RunNow_CountsFailures(t *testing.T) {
	s := &failingStore{Memory: store.NewMemory(), licencesErr: assert.AnError}
	p := newProcessor(s)
	billRun := newBillRun(t, p, billing.BatchTwoPartTariff)

	processed, failed := billrun.NewScheduler(p).RunNow(context.Background())

	assert.Zero(t, processed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, billing.BillRunError, storedStatus(t, s, billRun.ID).Status)

	// Errored runs are not picked up again.
	processed, failed = billrun.NewScheduler(p).RunNow(context.Background())
	assert.Zero(t, processed)
	assert.Zero(t, failed)
}

func TestScheduler_StartStop(t *testing.T) {
	// GIVEN: A queued run and a running scheduler
	s := store.NewMemory()
	p := newProcessor(s)
	billRun := newBillRun(t, p, billing.BatchTwoPartTariff)

	scheduler := billrun.NewScheduler(p)
	scheduler.CheckInterval = 10 * time.Millisecond
	scheduler.Start()
	defer scheduler.Stop()

	// THEN: The run is picked up without being asked
	assert.Eventually(t, func() bool {
		got, err := s.GetBillRun(context.Background(), billRun.ID)
		return err == nil && got.Status == billing.BillRunEmpty
	}, time.Second, 10*time.Millisecond)
}

func TestScheduler_Disabled(t *testing.T) {
	s := store.NewMemory()
	p := newProcessor(s)
	billRun := newBillRun(t, p, billing.BatchTwoPartTariff)

	scheduler := billrun.NewScheduler(p)
	scheduler.Enabled = false
	scheduler.Start()
	scheduler.Stop()

	assert.Equal(t, billing.BillRunQueued, storedStatus(t, s, billRun.ID).Status)
}
