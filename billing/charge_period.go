package billing

import "github.com/warp/abstraction-billing/generic"

// DetermineChargePeriod returns the period a charge version is billable for
// within billingPeriod.
//
// The charge period is the overlap of three windows: the billing period, the
// charge version, and the licence up to its earliest termination event
// (expired, lapsed or revoked, whichever comes first). When the windows do not
// overlap the null period is returned.
func DetermineChargePeriod(chargeVersion *ChargeVersion, licence *Licence, billingPeriod generic.Period) generic.Period {
	latestStart := generic.Latest(billingPeriod.Start, chargeVersion.StartDate, licence.StartDate)

	// Unset end dates are skipped by Earliest.
	earliestEnd := generic.Earliest(
		billingPeriod.End,
		chargeVersion.EndDate,
		licence.ExpiredDate,
		licence.LapsedDate,
		licence.RevokedDate,
	)

	chargePeriod := generic.Period{Start: latestStart, End: earliestEnd}
	if periodIsIncompatible(chargePeriod, billingPeriod) {
		return generic.NullPeriod()
	}
	return chargePeriod
}

func periodIsIncompatible(chargePeriod, billingPeriod generic.Period) bool {
	return chargePeriod.Start.After(billingPeriod.End) ||
		chargePeriod.End.Before(billingPeriod.Start) ||
		chargePeriod.Start.After(chargePeriod.End)
}
