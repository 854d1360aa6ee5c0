package billing

import "github.com/warp/abstraction-billing/generic"

// IsFirstChargeOnNewLicence reports whether a minimum charge applies: the charge
// period starts exactly when the charge version does, and the version's change
// reason is one that triggers a minimum charge.
func IsFirstChargeOnNewLicence(chargeVersion *ChargeVersion, chargePeriod generic.Period) bool {
	if chargePeriod.IsNull() || chargeVersion.ChangeReason == nil {
		return false
	}
	return chargePeriod.Start.Equal(chargeVersion.StartDate) &&
		chargeVersion.ChangeReason.TriggersMinimumCharge
}
