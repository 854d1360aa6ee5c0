/*
Package twopart matches returns to charge elements and allocates measured
return volumes against authorised charge element volumes for two-part tariff
billing.

PURPOSE:
  Under the two-part tariff a licence is charged for what was actually
  abstracted. The abstracted volume comes from returns; the chargeable
  categories come from charge elements. This package links the two and
  decides how much of each return line each element may claim.

ALGORITHM (per licence):
  1. Prep returns: resolve abstraction periods against the billing period,
     convert line quantities to cubic metres (quantity / 1000), total them.
  2. For each charge version: determine the charge period (skip if null),
     sort charge references by subsistence charge, highest first.
  3. For each charge element: resolve its abstraction periods against the
     charge period, match returns by purpose code and period overlap.
  4. Allocate greedily, return by return and line by line in input order,
     taking min(line unallocated, element remaining) until the element's
     authorised annual quantity is reached.
  5. Flag returns with no matching elements or unallocated lines.

ORDER MATTERS:
  Allocation is greedy with no backtracking. References with the highest
  subsistence charge get first claim on matching returns; within an element,
  returns and lines are consumed in the order they appear.

IDS:
  Each run assigns short traceable ids in traversal order so reviewers can
  follow an allocation: L1, V1-L1, R1-V1-L1, E1-R1-V1-L1, RTN1-L1.

CONCURRENCY:
  Allocate mutates the licence graphs it is given. Independent graphs may be
  allocated concurrently; the same graph must not be.

SEE ALSO:
  - match.go: return and line matching, return issue checks
  - billing/charge_period.go: charge period determiner
  - generic/abstraction.go: abstraction period resolver
*/
package twopart

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/abstraction-billing/billing"
	"github.com/warp/abstraction-billing/generic"
)

// =============================================================================
// ALLOCATOR
// =============================================================================

// Allocator runs the match-and-allocate pass. It holds no state between calls.
type Allocator struct{}

func NewAllocator() *Allocator {
	return &Allocator{}
}

// Allocate matches and allocates every licence against billingPeriod,
// mutating and returning the same licences.
func (a *Allocator) Allocate(licences []*billing.Licence, billingPeriod generic.Period) ([]*billing.Licence, error) {
	if err := billingPeriod.Validate(); err != nil {
		return nil, err
	}

	for i, licence := range licences {
		licence.ID = fmt.Sprintf("L%d", i+1)

		if err := a.allocateLicence(licence, billingPeriod); err != nil {
			return nil, fmt.Errorf("licence %s: %w", licence.LicenceRef, err)
		}
	}
	return licences, nil
}

func (a *Allocator) allocateLicence(licence *billing.Licence, billingPeriod generic.Period) error {
	if err := prepReturns(licence, billingPeriod); err != nil {
		return err
	}

	for v, chargeVersion := range licence.ChargeVersions {
		chargeVersion.ID = fmt.Sprintf("V%d-%s", v+1, licence.ID)
		chargeVersion.ChargePeriod = billing.DetermineChargePeriod(chargeVersion, licence, billingPeriod)

		sortBySubsistenceCharge(chargeVersion.ChargeReferences)
		resetChargeVersion(chargeVersion)

		if chargeVersion.ChargePeriod.IsNull() {
			continue
		}

		for _, chargeReference := range chargeVersion.ChargeReferences {
			for _, chargeElement := range chargeReference.ChargeElements {
				if err := prepChargeElement(chargeElement, chargeVersion.ChargePeriod); err != nil {
					return fmt.Errorf("charge element %s: %w", chargeElement.ID, err)
				}

				matchedReturns := matchReturns(chargeElement, licence.Returns)
				if len(matchedReturns) == 0 {
					chargeElement.Issues = append(chargeElement.Issues, billing.IssueNoReturnsMatched)
					continue
				}

				allocateReturns(chargeElement, chargeReference, matchedReturns, chargeVersion.ChargePeriod)
			}
		}
	}

	determineReturnIssues(licence.Returns)
	return nil
}

// sortBySubsistenceCharge orders references highest subsistence charge first.
// Ties keep their input order.
func sortBySubsistenceCharge(references []*billing.ChargeReference) {
	sort.SliceStable(references, func(i, j int) bool {
		return references[i].ChargeCategory.SubsistenceCharge.GreaterThan(references[j].ChargeCategory.SubsistenceCharge)
	})
}

// =============================================================================
// PREPARATION
// =============================================================================

func prepReturns(licence *billing.Licence, billingPeriod generic.Period) error {
	for i, returnRecord := range licence.Returns {
		if err := returnRecord.AbstractionPeriod.Validate(); err != nil {
			return fmt.Errorf("return %s: %w", returnRecord.ReturnReference, err)
		}

		returnRecord.ID = fmt.Sprintf("RTN%d-%s", i+1, licence.ID)
		returnRecord.AbstractionPeriods = generic.ResolveAbstractionPeriods(billingPeriod, returnRecord.AbstractionPeriod)
		returnRecord.AbstractionOutsidePeriod = false
		returnRecord.AllocatedQuantity = decimal.Zero
		returnRecord.HasIssues = false
		returnRecord.Issues = []string{}
		returnRecord.ChargeElements = []billing.ReturnElement{}

		quantity := decimal.Zero
		version := returnRecord.FirstVersion()
		returnRecord.NilReturn = version != nil && version.NilReturn

		if version != nil {
			for _, line := range version.Lines {
				line.Unallocated = line.Quantity.Div(billing.ReturnQuantityDivisor)
				quantity = quantity.Add(line.Unallocated)

				if !generic.PeriodsOverlap(returnRecord.AbstractionPeriods, []generic.Period{line.Period()}) {
					returnRecord.AbstractionOutsidePeriod = true
				}
			}
		}
		returnRecord.Quantity = quantity
	}
	return nil
}

// resetChargeVersion assigns ids and clears what a previous run left on the
// version's references and elements, including versions with no charge period.
func resetChargeVersion(chargeVersion *billing.ChargeVersion) {
	for r, chargeReference := range chargeVersion.ChargeReferences {
		chargeReference.ID = fmt.Sprintf("R%d-%s", r+1, chargeVersion.ID)
		chargeReference.AllocatedQuantity = decimal.Zero
		if chargeReference.Aggregate == nil {
			one := decimal.NewFromInt(1)
			chargeReference.Aggregate = &one
		}

		for e, chargeElement := range chargeReference.ChargeElements {
			chargeElement.ID = fmt.Sprintf("E%d-%s", e+1, chargeReference.ID)
			chargeElement.AbstractionPeriods = []generic.Period{}
			chargeElement.AllocatedQuantity = decimal.Zero
			chargeElement.ChargeDatesOverlap = false
			chargeElement.Lines = []billing.ElementLine{}
			chargeElement.Returns = []billing.ElementReturn{}
			chargeElement.Issues = []string{}
		}
	}
}

func prepChargeElement(chargeElement *billing.ChargeElement, chargePeriod generic.Period) error {
	if err := chargeElement.AbstractionPeriod.Validate(); err != nil {
		return err
	}

	chargeElement.AbstractionPeriods = generic.ResolveAbstractionPeriods(chargePeriod, chargeElement.AbstractionPeriod)
	return nil
}

// =============================================================================
// ALLOCATION
// =============================================================================

// allocateReturns links every matched return to the element, then allocates
// from those without issues until the element is full.
func allocateReturns(
	chargeElement *billing.ChargeElement,
	chargeReference *billing.ChargeReference,
	matchedReturns []*billing.Return,
	chargePeriod generic.Period,
) {
	for _, returnRecord := range matchedReturns {
		hasIssues := checkReturnForIssues(returnRecord)

		chargeElement.Returns = append(chargeElement.Returns, billing.ElementReturn{
			ReturnID:          returnRecord.ID,
			ReturnReference:   returnRecord.ReturnReference,
			Status:            returnRecord.Status,
			UnderQuery:        returnRecord.UnderQuery,
			AllocatedQuantity: decimal.Zero,
		})
		returnRecord.ChargeElements = append(returnRecord.ChargeElements, billing.ReturnElement{
			ChargeElementID:   chargeElement.ID,
			AllocatedQuantity: decimal.Zero,
		})

		if hasIssues || !chargeElement.RemainingQuantity().IsPositive() {
			continue
		}

		elementReturn := &chargeElement.Returns[len(chargeElement.Returns)-1]
		returnElement := &returnRecord.ChargeElements[len(returnRecord.ChargeElements)-1]

		for _, line := range matchLines(chargeElement, returnRecord.FirstVersion().Lines) {
			remaining := chargeElement.RemainingQuantity()
			if !remaining.IsPositive() {
				break
			}

			quantity := generic.MinDecimal(line.Unallocated, remaining)

			if chargeDatesOverlap(line, chargePeriod) {
				chargeElement.ChargeDatesOverlap = true
			}

			chargeElement.AllocatedQuantity = chargeElement.AllocatedQuantity.Add(quantity)
			chargeElement.Lines = append(chargeElement.Lines, billing.ElementLine{
				ID:        returnRecord.ID,
				LineID:    line.ID,
				Allocated: quantity,
			})
			elementReturn.AllocatedQuantity = elementReturn.AllocatedQuantity.Add(quantity)

			line.Unallocated = line.Unallocated.Sub(quantity)
			returnRecord.AllocatedQuantity = returnRecord.AllocatedQuantity.Add(quantity)
			returnElement.AllocatedQuantity = returnElement.AllocatedQuantity.Add(quantity)

			chargeReference.AllocatedQuantity = chargeReference.AllocatedQuantity.Add(quantity)
		}
	}
}

// chargeDatesOverlap reports whether the line straddles the start or end of
// the charge period, i.e. part of it sits outside.
func chargeDatesOverlap(line *billing.ReturnLine, chargePeriod generic.Period) bool {
	if line.StartDate.Before(chargePeriod.End) && line.EndDate.After(chargePeriod.End) {
		return true
	}
	return line.StartDate.Before(chargePeriod.Start) && line.EndDate.After(chargePeriod.Start)
}
