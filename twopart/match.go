package twopart

import (
	"github.com/warp/abstraction-billing/billing"
	"github.com/warp/abstraction-billing/generic"
)

// matchReturns returns, in input order, the returns with a purpose matching the
// element's legacy purpose code and an abstraction period overlapping the element's.
func matchReturns(chargeElement *billing.ChargeElement, returns []*billing.Return) []*billing.Return {
	var matched []*billing.Return
	for _, returnRecord := range returns {
		if !hasPurpose(returnRecord, chargeElement.Purpose.LegacyID) {
			continue
		}
		if !generic.PeriodsOverlap(chargeElement.AbstractionPeriods, returnRecord.AbstractionPeriods) {
			continue
		}
		matched = append(matched, returnRecord)
	}
	return matched
}

func hasPurpose(returnRecord *billing.Return, legacyID string) bool {
	for _, purpose := range returnRecord.Purposes {
		if purpose.Tertiary.Code == legacyID {
			return true
		}
	}
	return false
}

// matchLines returns the lines with volume left that fall in the element's
// abstraction periods.
func matchLines(chargeElement *billing.ChargeElement, lines []*billing.ReturnLine) []*billing.ReturnLine {
	var matched []*billing.ReturnLine
	for _, line := range lines {
		if !line.Unallocated.IsPositive() {
			continue
		}
		if !generic.PeriodsOverlap(chargeElement.AbstractionPeriods, []generic.Period{line.Period()}) {
			continue
		}
		matched = append(matched, line)
	}
	return matched
}

// checkReturnForIssues records why a return cannot be allocated from. Once set,
// HasIssues stays set for the rest of the run.
func checkReturnForIssues(returnRecord *billing.Return) bool {
	if returnRecord.NilReturn {
		returnRecord.AddIssue(billing.IssueNilReturn)
		returnRecord.HasIssues = true
	}
	if returnRecord.UnderQuery {
		returnRecord.AddIssue(billing.IssueUnderQuery)
		returnRecord.HasIssues = true
	}
	if returnRecord.Status != billing.ReturnCompleted {
		returnRecord.AddIssue(billing.IssueNotCompleted)
		returnRecord.HasIssues = true
	}
	if version := returnRecord.FirstVersion(); version == nil || len(version.Lines) == 0 {
		returnRecord.AddIssue(billing.IssueNoReturnLines)
		returnRecord.HasIssues = true
	}
	return returnRecord.HasIssues
}

// determineReturnIssues runs once all of a licence's elements have been processed.
func determineReturnIssues(returns []*billing.Return) {
	for _, returnRecord := range returns {
		if len(returnRecord.ChargeElements) == 0 {
			returnRecord.AddIssue(billing.IssueNoMatchingElements)
		}

		version := returnRecord.FirstVersion()
		if version == nil {
			continue
		}
		for _, line := range version.Lines {
			if line.Quantity.IsPositive() && line.Unallocated.IsPositive() {
				returnRecord.AddIssue(billing.IssueUnallocatedLines)
				break
			}
		}
	}
}
