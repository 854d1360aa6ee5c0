// Package billing holds the water abstraction billing domain model: licences,
// charge versions and their references and elements, returns, and the
// transactions produced for a bill run. It also determines charge periods and
// minimum charges. Matching and allocation live in twopart; reconciliation of
// supplementary transactions lives in supplementary.
package billing

import (
	"github.com/shopspring/decimal"
	"github.com/warp/abstraction-billing/generic"
)

// ReturnQuantityDivisor converts stored return line quantities to cubic metres.
var ReturnQuantityDivisor = decimal.NewFromInt(1000)

// Issues recorded against returns and charge elements for reviewers.
const (
	IssueNoMatchingElements = "no matching elements"
	IssueUnallocatedLines   = "unallocated lines"
	IssueNilReturn          = "nil return"
	IssueUnderQuery         = "under query"
	IssueNotCompleted       = "return not completed"
	IssueNoReturnLines      = "no return lines"
	IssueNoReturnsMatched   = "no returns matched"
)

// =============================================================================
// LICENCE
// =============================================================================

// Licence is a water abstraction licence with everything needed to bill it.
//
// ID is the short traceable id (L1, L2, ...) assigned by an allocation run;
// LicenceID is the persistent identifier.
type Licence struct {
	ID          string            `json:"id,omitempty"`
	LicenceID   string            `json:"licence_id"`
	LicenceRef  string            `json:"licence_ref"`
	RegionID    string            `json:"region_id"`
	StartDate   generic.TimePoint `json:"start_date"`
	ExpiredDate generic.TimePoint `json:"expired_date"`
	LapsedDate  generic.TimePoint `json:"lapsed_date"`
	RevokedDate generic.TimePoint `json:"revoked_date"`

	ChargeVersions []*ChargeVersion `json:"charge_versions"`
	Returns        []*Return        `json:"returns"`
}

// ChargeableEnd is the earliest of the expired, lapsed and revoked dates, or
// zero when the licence has none.
func (l *Licence) ChargeableEnd() generic.TimePoint {
	return generic.Earliest(l.ExpiredDate, l.LapsedDate, l.RevokedDate)
}

// =============================================================================
// CHARGE VERSION / REFERENCE / ELEMENT
// =============================================================================

type ChargeVersionStatus string

const (
	ChargeVersionCurrent    ChargeVersionStatus = "current"
	ChargeVersionSuperseded ChargeVersionStatus = "superseded"
	ChargeVersionDraft      ChargeVersionStatus = "draft"
)

// ChangeReason explains why a charge version was created.
type ChangeReason struct {
	Description           string `json:"description"`
	TriggersMinimumCharge bool   `json:"triggers_minimum_charge"`
}

// ChargeVersion is a time-bounded configuration of how a licence is charged.
type ChargeVersion struct {
	ID               string              `json:"id,omitempty"`
	ChargeVersionID  string              `json:"charge_version_id"`
	StartDate        generic.TimePoint   `json:"start_date"`
	EndDate          generic.TimePoint   `json:"end_date"`
	Status           ChargeVersionStatus `json:"status"`
	Scheme           string              `json:"scheme"`
	BillingAccountID string              `json:"billing_account_id"`
	ChangeReason     *ChangeReason       `json:"change_reason,omitempty"`

	ChargeReferences []*ChargeReference `json:"charge_references"`

	// Set by an allocation run.
	ChargePeriod generic.Period `json:"charge_period"`
}

// ChargeCategory carries the category code and its annual subsistence charge.
type ChargeCategory struct {
	Reference         string          `json:"reference"`
	SubsistenceCharge decimal.Decimal `json:"subsistence_charge"`
}

// ChargeReference groups charge elements under one charge category.
type ChargeReference struct {
	ID                string           `json:"id,omitempty"`
	ChargeReferenceID string           `json:"charge_reference_id"`
	Description       string           `json:"description"`
	ChargeCategory    ChargeCategory   `json:"charge_category"`
	Volume            decimal.Decimal  `json:"volume"`
	Aggregate         *decimal.Decimal `json:"aggregate"`

	ChargeElements []*ChargeElement `json:"charge_elements"`

	// Set by an allocation run.
	AllocatedQuantity decimal.Decimal `json:"allocated_quantity"`
}

// Purpose identifies what the water is abstracted for.
type Purpose struct {
	LegacyID    string `json:"legacy_id"`
	Description string `json:"description"`
}

// ChargeElement is the unit returns are matched and allocated against.
type ChargeElement struct {
	ID                       string                    `json:"id,omitempty"`
	ChargeElementID          string                    `json:"charge_element_id"`
	Description              string                    `json:"description"`
	Purpose                  Purpose                   `json:"purpose"`
	AbstractionPeriod        generic.AbstractionPeriod `json:"abstraction_period"`
	AuthorisedAnnualQuantity decimal.Decimal           `json:"authorised_annual_quantity"`

	// Transient fields, reset at the start of each allocation run.
	AbstractionPeriods []generic.Period `json:"abstraction_periods"`
	AllocatedQuantity  decimal.Decimal  `json:"allocated_quantity"`
	ChargeDatesOverlap bool             `json:"charge_dates_overlap"`
	Lines              []ElementLine    `json:"lines"`
	Returns            []ElementReturn  `json:"returns"`
	Issues             []string         `json:"issues"`
}

// RemainingQuantity is how much more may be allocated before the authorised ceiling.
func (e *ChargeElement) RemainingQuantity() decimal.Decimal {
	return e.AuthorisedAnnualQuantity.Sub(e.AllocatedQuantity)
}

// ElementLine is one entry in a charge element's allocation audit trail.
type ElementLine struct {
	ID        string          `json:"id"`
	LineID    string          `json:"line_id"`
	Allocated decimal.Decimal `json:"allocated"`
}

// ElementReturn links a matched return to a charge element.
type ElementReturn struct {
	ReturnID          string          `json:"return_id"`
	ReturnReference   string          `json:"return_reference"`
	Status            ReturnStatus    `json:"status"`
	UnderQuery        bool            `json:"under_query"`
	AllocatedQuantity decimal.Decimal `json:"allocated_quantity"`
}

// =============================================================================
// RETURNS
// =============================================================================

type ReturnStatus string

const (
	ReturnCompleted ReturnStatus = "completed"
	ReturnDue       ReturnStatus = "due"
	ReturnReceived  ReturnStatus = "received"
	ReturnVoid      ReturnStatus = "void"
)

// PurposeCode is one level of a return purpose.
type PurposeCode struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// ReturnPurpose is matched to a charge element by its tertiary code.
type ReturnPurpose struct {
	Primary   PurposeCode `json:"primary"`
	Secondary PurposeCode `json:"secondary"`
	Tertiary  PurposeCode `json:"tertiary"`
}

// ReturnLine is a time-sliced reported quantity.
//
// Quantity is in the stored unit; Unallocated is in cubic metres and is what
// remains to be matched during allocation.
type ReturnLine struct {
	ID          string            `json:"id"`
	StartDate   generic.TimePoint `json:"start_date"`
	EndDate     generic.TimePoint `json:"end_date"`
	Quantity    decimal.Decimal   `json:"quantity"`
	Unallocated decimal.Decimal   `json:"unallocated"`
}

// Period returns the line's date range.
func (l *ReturnLine) Period() generic.Period {
	return generic.Period{Start: l.StartDate, End: l.EndDate}
}

// ReturnVersion is one submission of a return. The first version is the latest.
type ReturnVersion struct {
	ID        string        `json:"id"`
	NilReturn bool          `json:"nil_return"`
	Lines     []*ReturnLine `json:"lines"`
}

// Return is a reported abstraction record for a licence.
type Return struct {
	ID                string                    `json:"id,omitempty"`
	ReturnID          string                    `json:"return_id"`
	ReturnReference   string                    `json:"return_reference"`
	Description       string                    `json:"description"`
	Status            ReturnStatus              `json:"status"`
	UnderQuery        bool                      `json:"under_query"`
	StartDate         generic.TimePoint         `json:"start_date"`
	EndDate           generic.TimePoint         `json:"end_date"`
	AbstractionPeriod generic.AbstractionPeriod `json:"abstraction_period"`
	Purposes          []ReturnPurpose           `json:"purposes"`
	Versions          []*ReturnVersion          `json:"versions"`

	// Transient fields, reset at the start of each allocation run.
	NilReturn                bool             `json:"nil_return"`
	Quantity                 decimal.Decimal  `json:"quantity"`
	AllocatedQuantity        decimal.Decimal  `json:"allocated_quantity"`
	AbstractionPeriods       []generic.Period `json:"abstraction_periods"`
	AbstractionOutsidePeriod bool             `json:"abstraction_outside_period"`
	HasIssues                bool             `json:"has_issues"`
	Issues                   []string         `json:"issues"`
	ChargeElements           []ReturnElement  `json:"charge_elements"`
}

// FirstVersion returns the latest submission, or nil when there are none.
func (r *Return) FirstVersion() *ReturnVersion {
	if len(r.Versions) == 0 {
		return nil
	}
	return r.Versions[0]
}

// AddIssue records issue once.
func (r *Return) AddIssue(issue string) {
	for _, existing := range r.Issues {
		if existing == issue {
			return
		}
	}
	r.Issues = append(r.Issues, issue)
}

// ReturnElement links a charge element back to a return it drew from.
type ReturnElement struct {
	ChargeElementID   string          `json:"charge_element_id"`
	AllocatedQuantity decimal.Decimal `json:"allocated_quantity"`
}
