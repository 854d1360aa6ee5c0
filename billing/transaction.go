package billing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// TRANSACTION - A bill line sent to the Charging Module
// =============================================================================

type TransactionStatus string

const (
	TransactionCandidate TransactionStatus = "candidate"
	TransactionCharged   TransactionStatus = "charge_created"
	TransactionError     TransactionStatus = "error"
)

type ChargeType string

const (
	ChargeTypeStandard     ChargeType = "standard"
	ChargeTypeCompensation ChargeType = "compensation"
)

// Transaction is a generated or previously billed line.
//
// ID, Credit, Status and BillLicenceID change when a transaction is reversed.
// The remaining charging fields define its identity: two transactions with the
// same identity cancel when one is the reversal of the other.
type Transaction struct {
	ID                  string            `json:"id"`
	BillRunID           string            `json:"bill_run_id,omitempty"`
	BillLicenceID       string            `json:"bill_licence_id"`
	BillingAccountID    string            `json:"billing_account_id"`
	LicenceID           string            `json:"licence_id"`
	FinancialYearEnding int               `json:"financial_year_ending"`
	Credit              bool              `json:"credit"`
	Status              TransactionStatus `json:"status"`
	Description         string            `json:"description"`
	Volume              decimal.Decimal   `json:"volume"`
	AuthorisedDays      int               `json:"authorised_days"`

	// Identity fields.
	ChargeType          ChargeType      `json:"charge_type"`
	ChargeCategoryCode  string          `json:"charge_category_code"`
	BillableDays        int             `json:"billable_days"`
	Section126Factor    decimal.Decimal `json:"section_126_factor"`
	Section127Agreement bool            `json:"section_127_agreement"`
	Section130Agreement bool            `json:"section_130_agreement"`
	AggregateFactor     decimal.Decimal `json:"aggregate_factor"`
	AdjustmentFactor    decimal.Decimal `json:"adjustment_factor"`
	WinterOnly          bool            `json:"winter_only"`
	SupportedSource     bool            `json:"supported_source"`
	SupportedSourceName string          `json:"supported_source_name"`
	WaterCompanyCharge  bool            `json:"water_company_charge"`
}

// Matches reports whether t and other have identical charging attributes.
// Id, credit flag, status and bill licence are ignored.
func (t Transaction) Matches(other Transaction) bool {
	return t.ChargeType == other.ChargeType &&
		t.ChargeCategoryCode == other.ChargeCategoryCode &&
		t.BillableDays == other.BillableDays &&
		t.Section126Factor.Equal(other.Section126Factor) &&
		t.Section127Agreement == other.Section127Agreement &&
		t.Section130Agreement == other.Section130Agreement &&
		t.AggregateFactor.Equal(other.AggregateFactor) &&
		t.AdjustmentFactor.Equal(other.AdjustmentFactor) &&
		t.WinterOnly == other.WinterOnly &&
		t.SupportedSource == other.SupportedSource &&
		t.SupportedSourceName == other.SupportedSourceName &&
		t.WaterCompanyCharge == other.WaterCompanyCharge
}

// Reverse returns t as a candidate credit on billLicenceID with a new id.
func (t Transaction) Reverse(id, billLicenceID string) Transaction {
	reversed := t
	reversed.ID = id
	reversed.Credit = true
	reversed.Status = TransactionCandidate
	reversed.BillLicenceID = billLicenceID
	reversed.BillRunID = ""
	return reversed
}
