/*
Package sqlite provides a SQLite-backed implementation of the billing storage interfaces.

PURPOSE:
  Implements billing.Store (licences, billed transactions, bill runs) using
  SQLite. The same schema works on PostgreSQL with minor dialect changes.

INTERFACES IMPLEMENTED:
  billing.LicenceStore:     Licence graphs, stored as JSON documents
  billing.TransactionStore: Billed transactions (append-only)
  billing.BillRunStore:     Bill runs and their status

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the transactions table
  - No DELETE statements on the transactions table (Reset aside)
  - Corrections arrive as reversal credits in a later bill run

KEY TABLES:
  licences:     one row per licence, the full graph in graph_json
  transactions: every transaction sent for billing
  bill_runs:    bill run header and status

INDEXES:
  - idx_licences_region: two-part tariff fetch by region (hot path)
  - idx_transactions_history: supplementary fetch by account/licence/year

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/abstraction-billing/billing"
	"github.com/warp/abstraction-billing/generic"
)

// timestampLayout is fixed width so bill runs sort by created_at as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ billing.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Each connection to ":memory:" is its own database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Reset clears all data (for demo scenarios and tests).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"transactions", "bill_runs", "licences"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Licences (graph stored as a JSON document)
	CREATE TABLE IF NOT EXISTS licences (
		licence_id TEXT PRIMARY KEY,
		licence_ref TEXT NOT NULL,
		region_id TEXT NOT NULL,
		graph_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_licences_region
		ON licences(region_id, licence_ref);

	-- Bill runs
	CREATE TABLE IF NOT EXISTS bill_runs (
		id TEXT PRIMARY KEY,
		region_id TEXT NOT NULL,
		scheme TEXT NOT NULL,
		batch_type TEXT NOT NULL,
		financial_year_ending INTEGER NOT NULL,
		status TEXT NOT NULL,
		error_code INTEGER DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Transactions (append-only)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		bill_run_id TEXT,
		bill_licence_id TEXT NOT NULL,
		billing_account_id TEXT NOT NULL,
		licence_id TEXT NOT NULL,
		financial_year_ending INTEGER NOT NULL,
		credit INTEGER NOT NULL,
		status TEXT NOT NULL,
		description TEXT,
		volume TEXT NOT NULL,
		authorised_days INTEGER NOT NULL,
		charge_type TEXT NOT NULL,
		charge_category_code TEXT,
		billable_days INTEGER NOT NULL,
		section_126_factor TEXT NOT NULL,
		section_127_agreement INTEGER NOT NULL,
		section_130_agreement INTEGER NOT NULL,
		aggregate_factor TEXT NOT NULL,
		adjustment_factor TEXT NOT NULL,
		winter_only INTEGER NOT NULL,
		supported_source INTEGER NOT NULL,
		supported_source_name TEXT,
		water_company_charge INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Composite index for supplementary history lookups (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_history
		ON transactions(billing_account_id, licence_id, financial_year_ending, seq);

	CREATE INDEX IF NOT EXISTS idx_transactions_bill_run
		ON transactions(bill_run_id) WHERE bill_run_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LICENCE STORE (billing.LicenceStore interface)
// =============================================================================

// SaveLicence inserts or replaces a licence graph.
func (s *Store) SaveLicence(ctx context.Context, licence *billing.Licence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	graphJSON, err := json.Marshal(licence)
	if err != nil {
		return fmt.Errorf("failed to encode licence: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO licences (licence_id, licence_ref, region_id, graph_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(licence_id) DO UPDATE SET
			licence_ref = excluded.licence_ref,
			region_id = excluded.region_id,
			graph_json = excluded.graph_json,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		licence.LicenceID, licence.LicenceRef, licence.RegionID, string(graphJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save licence: %w", err)
	}
	return nil
}

// GetLicence returns a licence graph by id.
func (s *Store) GetLicence(ctx context.Context, licenceID string) (*billing.Licence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var graphJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT graph_json FROM licences WHERE licence_id = ?", licenceID,
	).Scan(&graphJSON)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrLicenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get licence: %w", err)
	}
	return decodeLicence(graphJSON)
}

// LicencesByRegion returns the region's licences with a current charge version
// in period, ordered by licence reference.
func (s *Store) LicencesByRegion(ctx context.Context, regionID string, period generic.Period) ([]*billing.Licence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT graph_json FROM licences WHERE region_id = ? ORDER BY licence_ref ASC", regionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query licences: %w", err)
	}
	defer rows.Close()

	var licences []*billing.Licence
	for rows.Next() {
		var graphJSON string
		if err := rows.Scan(&graphJSON); err != nil {
			return nil, fmt.Errorf("failed to scan licence: %w", err)
		}
		licence, err := decodeLicence(graphJSON)
		if err != nil {
			return nil, err
		}
		if licence.HasCurrentChargeVersionIn(period) {
			licences = append(licences, licence)
		}
	}
	return licences, rows.Err()
}

func decodeLicence(graphJSON string) (*billing.Licence, error) {
	var licence billing.Licence
	if err := json.Unmarshal([]byte(graphJSON), &licence); err != nil {
		return nil, fmt.Errorf("failed to decode licence: %w", err)
	}
	return &licence, nil
}

// =============================================================================
// TRANSACTION STORE (billing.TransactionStore interface)
// =============================================================================

const transactionColumns = `
	id, bill_run_id, bill_licence_id, billing_account_id, licence_id, financial_year_ending,
	credit, status, description, volume, authorised_days, charge_type, charge_category_code,
	billable_days, section_126_factor, section_127_agreement, section_130_agreement,
	aggregate_factor, adjustment_factor, winter_only, supported_source, supported_source_name,
	water_company_charge`

// AppendTransactions adds transactions atomically.
func (s *Store) AppendTransactions(ctx context.Context, txs []billing.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	var seq int64
	if err := sqlTx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM transactions").Scan(&seq); err != nil {
		return fmt.Errorf("failed to read sequence: %w", err)
	}

	query := `INSERT INTO transactions (` + transactionColumns + `, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC().Format(time.RFC3339)

	for _, tx := range txs {
		seq++
		_, err := sqlTx.ExecContext(ctx, query,
			tx.ID,
			nullString(tx.BillRunID),
			tx.BillLicenceID,
			tx.BillingAccountID,
			tx.LicenceID,
			tx.FinancialYearEnding,
			tx.Credit,
			tx.Status,
			tx.Description,
			tx.Volume.String(),
			tx.AuthorisedDays,
			tx.ChargeType,
			tx.ChargeCategoryCode,
			tx.BillableDays,
			tx.Section126Factor.String(),
			tx.Section127Agreement,
			tx.Section130Agreement,
			tx.AggregateFactor.String(),
			tx.AdjustmentFactor.String(),
			tx.WinterOnly,
			tx.SupportedSource,
			tx.SupportedSourceName,
			tx.WaterCompanyCharge,
			seq,
			now,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return generic.ErrDuplicateTransaction
			}
			return fmt.Errorf("failed to append transaction: %w", err)
		}
	}

	return sqlTx.Commit()
}

// PreviousTransactions returns billed transactions in the order they were appended.
func (s *Store) PreviousTransactions(ctx context.Context, key billing.TransactionKey) ([]billing.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE billing_account_id = ? AND licence_id = ? AND financial_year_ending = ?
		ORDER BY seq ASC`

	return s.queryTransactions(ctx, query, key.BillingAccountID, key.LicenceID, key.FinancialYearEnding)
}

// TransactionsByBillRun returns the transactions persisted for a bill run.
func (s *Store) TransactionsByBillRun(ctx context.Context, billRunID string) ([]billing.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + transactionColumns + `
		FROM transactions WHERE bill_run_id = ? ORDER BY seq ASC`

	return s.queryTransactions(ctx, query, billRunID)
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]billing.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []billing.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (billing.Transaction, error) {
	var (
		tx                  billing.Transaction
		billRunID           sql.NullString
		description         sql.NullString
		chargeCategoryCode  sql.NullString
		supportedSourceName sql.NullString
		volume              string
		section126          string
		aggregate           string
		adjustment          string
	)

	err := rows.Scan(
		&tx.ID, &billRunID, &tx.BillLicenceID, &tx.BillingAccountID, &tx.LicenceID,
		&tx.FinancialYearEnding, &tx.Credit, &tx.Status, &description, &volume,
		&tx.AuthorisedDays, &tx.ChargeType, &chargeCategoryCode, &tx.BillableDays,
		&section126, &tx.Section127Agreement, &tx.Section130Agreement,
		&aggregate, &adjustment, &tx.WinterOnly, &tx.SupportedSource,
		&supportedSourceName, &tx.WaterCompanyCharge,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.BillRunID = billRunID.String
	tx.Description = description.String
	tx.ChargeCategoryCode = chargeCategoryCode.String
	tx.SupportedSourceName = supportedSourceName.String
	tx.Volume = parseDecimal(volume)
	tx.Section126Factor = parseDecimal(section126)
	tx.AggregateFactor = parseDecimal(aggregate)
	tx.AdjustmentFactor = parseDecimal(adjustment)

	return tx, nil
}

// =============================================================================
// BILL RUN STORE (billing.BillRunStore interface)
// =============================================================================

// SaveBillRun inserts or updates a bill run.
func (s *Store) SaveBillRun(ctx context.Context, b *billing.BillRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO bill_runs
		(id, region_id, scheme, batch_type, financial_year_ending, status, error_code, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error_code = excluded.error_code,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		b.ID, b.RegionID, b.Scheme, b.BatchType, b.FinancialYearEnding, b.Status, b.ErrorCode,
		b.CreatedAt.UTC().Format(timestampLayout), b.UpdatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save bill run: %w", err)
	}
	return nil
}

// GetBillRun returns a bill run by id.
func (s *Store) GetBillRun(ctx context.Context, id string) (*billing.BillRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		b         billing.BillRun
		createdAt string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, region_id, scheme, batch_type, financial_year_ending, status, error_code, created_at, updated_at
		FROM bill_runs WHERE id = ?`, id,
	).Scan(&b.ID, &b.RegionID, &b.Scheme, &b.BatchType, &b.FinancialYearEnding, &b.Status, &b.ErrorCode, &createdAt, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrBillRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bill run: %w", err)
	}

	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &b, nil
}

// BillRunsByStatus returns bill runs in status, oldest first.
func (s *Store) BillRunsByStatus(ctx context.Context, status billing.BillRunStatus) ([]*billing.BillRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, region_id, scheme, batch_type, financial_year_ending, status, error_code, created_at, updated_at
		FROM bill_runs WHERE status = ? ORDER BY created_at ASC, id ASC`, status,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query bill runs: %w", err)
	}
	defer rows.Close()

	var billRuns []*billing.BillRun
	for rows.Next() {
		var (
			b         billing.BillRun
			createdAt string
			updatedAt string
		)
		if err := rows.Scan(&b.ID, &b.RegionID, &b.Scheme, &b.BatchType, &b.FinancialYearEnding,
			&b.Status, &b.ErrorCode, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bill run: %w", err)
		}
		b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		b.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		billRuns = append(billRuns, &b)
	}
	return billRuns, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDecimal(value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
