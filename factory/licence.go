/*
Package factory converts licence and transaction documents into validated
billing domain graphs.

PURPOSE:
  Licence graphs arrive from the persistence layer and over the API as JSON
  documents shaped like the source tables: flat day/month abstraction
  fields, string dates, nested charge versions and returns. The factory
  turns them into billing.Licence graphs and rejects input the core cannot
  work with, so the algorithms only ever see well-formed data.

JSON SCHEMA (abridged):
  {
    "licence_id": "b2c1...",
    "licence_ref": "01/123",
    "region_id": "r1",
    "start_date": "2019-04-01",
    "expired_date": null,
    "charge_versions": [{
      "charge_version_id": "cv1",
      "start_date": "2022-04-01",
      "status": "current",
      "change_reason": {"description": "New licence", "triggers_minimum_charge": true},
      "charge_references": [{
        "charge_reference_id": "cr1",
        "charge_category": {"reference": "4.6.12", "subsistence_charge": 68400},
        "charge_elements": [{
          "charge_element_id": "ce1",
          "purpose": {"legacy_id": "400"},
          "abstraction_period_start_day": 1,
          "abstraction_period_start_month": 4,
          "abstraction_period_end_day": 31,
          "abstraction_period_end_month": 10,
          "authorised_annual_quantity": 100
        }]
      }]
    }],
    "returns": [{
      "return_id": "ret1",
      "status": "completed",
      "period_start_day": 1, "period_start_month": 4,
      "period_end_day": 31, "period_end_month": 10,
      "purposes": [{"tertiary": {"code": "400"}}],
      "versions": [{"nil_return": false, "lines": [
        {"id": "l1", "start_date": "2023-04-01", "end_date": "2023-04-30", "quantity": 50000}
      ]}]
    }]
  }

VALIDATION:
  - licence_id and start_date are required
  - every charge element and return needs a complete abstraction period
  - a charge version's end_date may not precede its start_date
  - return lines need both dates

SEE ALSO:
  - billing/types.go: the domain graph
  - api/handlers.go: request bodies use these schemas
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/abstraction-billing/billing"
	"github.com/warp/abstraction-billing/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// LicenceJSON is the document form of a licence.
type LicenceJSON struct {
	LicenceID      string              `json:"licence_id"`
	LicenceRef     string              `json:"licence_ref"`
	RegionID       string              `json:"region_id"`
	StartDate      string              `json:"start_date"`
	ExpiredDate    string              `json:"expired_date,omitempty"`
	LapsedDate     string              `json:"lapsed_date,omitempty"`
	RevokedDate    string              `json:"revoked_date,omitempty"`
	ChargeVersions []ChargeVersionJSON `json:"charge_versions"`
	Returns        []ReturnJSON        `json:"returns"`
}

// ChargeVersionJSON is the document form of a charge version.
type ChargeVersionJSON struct {
	ChargeVersionID  string                `json:"charge_version_id"`
	StartDate        string                `json:"start_date"`
	EndDate          string                `json:"end_date,omitempty"`
	Status           string                `json:"status"`
	Scheme           string                `json:"scheme,omitempty"`
	BillingAccountID string                `json:"billing_account_id,omitempty"`
	ChangeReason     *billing.ChangeReason `json:"change_reason,omitempty"`
	ChargeReferences []ChargeReferenceJSON `json:"charge_references"`
}

// ChargeReferenceJSON is the document form of a charge reference.
type ChargeReferenceJSON struct {
	ChargeReferenceID string                 `json:"charge_reference_id"`
	Description       string                 `json:"description,omitempty"`
	ChargeCategory    billing.ChargeCategory `json:"charge_category"`
	Volume            decimal.Decimal        `json:"volume"`
	Aggregate         *decimal.Decimal       `json:"aggregate,omitempty"`
	ChargeElements    []ChargeElementJSON    `json:"charge_elements"`
}

// ChargeElementJSON is the document form of a charge element.
type ChargeElementJSON struct {
	ChargeElementID             string          `json:"charge_element_id"`
	Description                 string          `json:"description,omitempty"`
	Purpose                     billing.Purpose `json:"purpose"`
	AbstractionPeriodStartDay   int             `json:"abstraction_period_start_day"`
	AbstractionPeriodStartMonth int             `json:"abstraction_period_start_month"`
	AbstractionPeriodEndDay     int             `json:"abstraction_period_end_day"`
	AbstractionPeriodEndMonth   int             `json:"abstraction_period_end_month"`
	AuthorisedAnnualQuantity    decimal.Decimal `json:"authorised_annual_quantity"`
}

// ReturnJSON is the document form of a return.
type ReturnJSON struct {
	ReturnID         string                  `json:"return_id"`
	ReturnReference  string                  `json:"return_reference"`
	Description      string                  `json:"description,omitempty"`
	Status           string                  `json:"status"`
	UnderQuery       bool                    `json:"under_query"`
	StartDate        string                  `json:"start_date,omitempty"`
	EndDate          string                  `json:"end_date,omitempty"`
	PeriodStartDay   int                     `json:"period_start_day"`
	PeriodStartMonth int                     `json:"period_start_month"`
	PeriodEndDay     int                     `json:"period_end_day"`
	PeriodEndMonth   int                     `json:"period_end_month"`
	Purposes         []billing.ReturnPurpose `json:"purposes"`
	Versions         []ReturnVersionJSON     `json:"versions"`
}

// ReturnVersionJSON is the document form of a return version.
type ReturnVersionJSON struct {
	ID        string           `json:"id"`
	NilReturn bool             `json:"nil_return"`
	Lines     []ReturnLineJSON `json:"lines"`
}

// ReturnLineJSON is the document form of a return line. Quantity is in the stored unit.
type ReturnLineJSON struct {
	ID        string          `json:"id"`
	StartDate string          `json:"start_date"`
	EndDate   string          `json:"end_date"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// =============================================================================
// LICENCE FACTORY
// =============================================================================

// LicenceFactory converts licence documents to domain graphs.
type LicenceFactory struct{}

// NewLicenceFactory creates a new licence factory.
func NewLicenceFactory() *LicenceFactory {
	return &LicenceFactory{}
}

// ParseLicence parses a JSON document into a licence graph.
func (f *LicenceFactory) ParseLicence(data []byte) (*billing.Licence, error) {
	var lj LicenceJSON
	if err := json.Unmarshal(data, &lj); err != nil {
		return nil, fmt.Errorf("failed to parse licence JSON: %w", err)
	}
	return f.FromJSON(lj)
}

// ParseLicences parses a JSON array of licence documents.
func (f *LicenceFactory) ParseLicences(data []byte) ([]*billing.Licence, error) {
	var ljs []LicenceJSON
	if err := json.Unmarshal(data, &ljs); err != nil {
		return nil, fmt.Errorf("failed to parse licences JSON: %w", err)
	}
	return f.FromJSONList(ljs)
}

// FromJSONList converts each document, stopping at the first invalid one.
func (f *LicenceFactory) FromJSONList(ljs []LicenceJSON) ([]*billing.Licence, error) {
	licences := make([]*billing.Licence, 0, len(ljs))
	for _, lj := range ljs {
		licence, err := f.FromJSON(lj)
		if err != nil {
			return nil, err
		}
		licences = append(licences, licence)
	}
	return licences, nil
}

// FromJSON converts and validates a licence document.
func (f *LicenceFactory) FromJSON(lj LicenceJSON) (*billing.Licence, error) {
	if lj.LicenceID == "" {
		return nil, fmt.Errorf("licence_id is required")
	}

	licence := &billing.Licence{
		LicenceID:  lj.LicenceID,
		LicenceRef: lj.LicenceRef,
		RegionID:   lj.RegionID,
	}

	var err error
	if licence.StartDate, err = requiredDate("start_date", lj.StartDate); err != nil {
		return nil, licenceError(lj, err)
	}
	if licence.ExpiredDate, err = generic.ParseDate(lj.ExpiredDate); err != nil {
		return nil, licenceError(lj, err)
	}
	if licence.LapsedDate, err = generic.ParseDate(lj.LapsedDate); err != nil {
		return nil, licenceError(lj, err)
	}
	if licence.RevokedDate, err = generic.ParseDate(lj.RevokedDate); err != nil {
		return nil, licenceError(lj, err)
	}

	for _, cvj := range lj.ChargeVersions {
		chargeVersion, err := parseChargeVersion(cvj)
		if err != nil {
			return nil, licenceError(lj, err)
		}
		licence.ChargeVersions = append(licence.ChargeVersions, chargeVersion)
	}

	for _, rj := range lj.Returns {
		returnRecord, err := parseReturn(rj)
		if err != nil {
			return nil, licenceError(lj, err)
		}
		licence.Returns = append(licence.Returns, returnRecord)
	}

	return licence, nil
}

func licenceError(lj LicenceJSON, err error) error {
	return fmt.Errorf("licence %s: %w", lj.LicenceID, err)
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseChargeVersion(cvj ChargeVersionJSON) (*billing.ChargeVersion, error) {
	startDate, err := requiredDate("start_date", cvj.StartDate)
	if err != nil {
		return nil, fmt.Errorf("charge version %s: %w", cvj.ChargeVersionID, err)
	}
	endDate, err := generic.ParseDate(cvj.EndDate)
	if err != nil {
		return nil, fmt.Errorf("charge version %s: %w", cvj.ChargeVersionID, err)
	}
	if !endDate.IsZero() && endDate.Before(startDate) {
		return nil, fmt.Errorf("charge version %s: %w", cvj.ChargeVersionID, generic.ErrInvalidPeriod)
	}

	chargeVersion := &billing.ChargeVersion{
		ChargeVersionID:  cvj.ChargeVersionID,
		StartDate:        startDate,
		EndDate:          endDate,
		Status:           parseChargeVersionStatus(cvj.Status),
		Scheme:           cvj.Scheme,
		BillingAccountID: cvj.BillingAccountID,
		ChangeReason:     cvj.ChangeReason,
	}

	for _, crj := range cvj.ChargeReferences {
		chargeReference := &billing.ChargeReference{
			ChargeReferenceID: crj.ChargeReferenceID,
			Description:       crj.Description,
			ChargeCategory:    crj.ChargeCategory,
			Volume:            crj.Volume,
			Aggregate:         crj.Aggregate,
		}

		for _, cej := range crj.ChargeElements {
			chargeElement, err := parseChargeElement(cej)
			if err != nil {
				return nil, fmt.Errorf("charge version %s: %w", cvj.ChargeVersionID, err)
			}
			chargeReference.ChargeElements = append(chargeReference.ChargeElements, chargeElement)
		}
		chargeVersion.ChargeReferences = append(chargeVersion.ChargeReferences, chargeReference)
	}

	return chargeVersion, nil
}

func parseChargeElement(cej ChargeElementJSON) (*billing.ChargeElement, error) {
	abstractionPeriod := generic.AbstractionPeriod{
		StartDay:   cej.AbstractionPeriodStartDay,
		StartMonth: cej.AbstractionPeriodStartMonth,
		EndDay:     cej.AbstractionPeriodEndDay,
		EndMonth:   cej.AbstractionPeriodEndMonth,
	}
	if err := abstractionPeriod.Validate(); err != nil {
		return nil, fmt.Errorf("charge element %s: %w", cej.ChargeElementID, err)
	}

	return &billing.ChargeElement{
		ChargeElementID:          cej.ChargeElementID,
		Description:              cej.Description,
		Purpose:                  cej.Purpose,
		AbstractionPeriod:        abstractionPeriod,
		AuthorisedAnnualQuantity: cej.AuthorisedAnnualQuantity,
	}, nil
}

func parseReturn(rj ReturnJSON) (*billing.Return, error) {
	abstractionPeriod := generic.AbstractionPeriod{
		StartDay:   rj.PeriodStartDay,
		StartMonth: rj.PeriodStartMonth,
		EndDay:     rj.PeriodEndDay,
		EndMonth:   rj.PeriodEndMonth,
	}
	if err := abstractionPeriod.Validate(); err != nil {
		return nil, fmt.Errorf("return %s: %w", rj.ReturnID, err)
	}

	startDate, err := generic.ParseDate(rj.StartDate)
	if err != nil {
		return nil, fmt.Errorf("return %s: %w", rj.ReturnID, err)
	}
	endDate, err := generic.ParseDate(rj.EndDate)
	if err != nil {
		return nil, fmt.Errorf("return %s: %w", rj.ReturnID, err)
	}

	returnRecord := &billing.Return{
		ReturnID:          rj.ReturnID,
		ReturnReference:   rj.ReturnReference,
		Description:       rj.Description,
		Status:            billing.ReturnStatus(rj.Status),
		UnderQuery:        rj.UnderQuery,
		StartDate:         startDate,
		EndDate:           endDate,
		AbstractionPeriod: abstractionPeriod,
		Purposes:          rj.Purposes,
	}

	for _, vj := range rj.Versions {
		version := &billing.ReturnVersion{ID: vj.ID, NilReturn: vj.NilReturn}
		for _, lineJSON := range vj.Lines {
			line, err := parseReturnLine(lineJSON)
			if err != nil {
				return nil, fmt.Errorf("return %s: %w", rj.ReturnID, err)
			}
			version.Lines = append(version.Lines, line)
		}
		returnRecord.Versions = append(returnRecord.Versions, version)
	}

	return returnRecord, nil
}

func parseReturnLine(lj ReturnLineJSON) (*billing.ReturnLine, error) {
	startDate, err := requiredDate("line start_date", lj.StartDate)
	if err != nil {
		return nil, err
	}
	endDate, err := requiredDate("line end_date", lj.EndDate)
	if err != nil {
		return nil, err
	}
	return &billing.ReturnLine{
		ID:        lj.ID,
		StartDate: startDate,
		EndDate:   endDate,
		Quantity:  lj.Quantity,
	}, nil
}

func parseChargeVersionStatus(s string) billing.ChargeVersionStatus {
	switch s {
	case "superseded":
		return billing.ChargeVersionSuperseded
	case "draft":
		return billing.ChargeVersionDraft
	default:
		return billing.ChargeVersionCurrent
	}
}

func requiredDate(field, value string) (generic.TimePoint, error) {
	if value == "" {
		return generic.TimePoint{}, fmt.Errorf("%s is required", field)
	}
	return generic.ParseDate(value)
}
