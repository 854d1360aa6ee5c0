package twopart

import (
	"github.com/shopspring/decimal"
	"github.com/warp/abstraction-billing/billing"
)

// Summary describes the outcome of an allocation run for review.
type Summary struct {
	Licences          int             `json:"licences"`
	Returns           int             `json:"returns"`
	ChargeElements    int             `json:"charge_elements"`
	AllocatedQuantity decimal.Decimal `json:"allocated_quantity"`
	Issues            map[string]int  `json:"issues"`
}

// ReviewRequired reports whether any return or element carries an issue.
func (s Summary) ReviewRequired() bool {
	return len(s.Issues) > 0
}

// Summarise counts what an allocation run produced. Call it after Allocate.
func Summarise(licences []*billing.Licence) Summary {
	summary := Summary{
		Licences:          len(licences),
		AllocatedQuantity: decimal.Zero,
		Issues:            make(map[string]int),
	}

	for _, licence := range licences {
		for _, returnRecord := range licence.Returns {
			summary.Returns++
			for _, issue := range returnRecord.Issues {
				summary.Issues[issue]++
			}
		}

		for _, chargeVersion := range licence.ChargeVersions {
			for _, chargeReference := range chargeVersion.ChargeReferences {
				for _, chargeElement := range chargeReference.ChargeElements {
					summary.ChargeElements++
					summary.AllocatedQuantity = summary.AllocatedQuantity.Add(chargeElement.AllocatedQuantity)
					for _, issue := range chargeElement.Issues {
						summary.Issues[issue]++
					}
				}
			}
		}
	}
	return summary
}
