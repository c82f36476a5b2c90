/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Persists endowment aggregates, their append-only ledger and the cause
  catalog. Endowments are stored as a versioned JSON document next to a few
  indexed columns; the ledger is one row per movement.

INTERFACES IMPLEMENTED:
  generic.Store / generic.TxStore: Ledger transaction persistence
  waqf.Repository:                 Versioned aggregate persistence
  waqf.CauseCatalog:               Cause lookup

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on transactions table
  - No DELETE statements on transactions table
  - Refunds and penalties are new negative rows

KEY TABLES:
  endowments:   Aggregate document, optimistic version
  transactions: Immutable ledger of all balance changes
  causes:       Cause catalog
  sweep_runs:   History of maturity sweeps

OPTIMISTIC CONCURRENCY:
  Save() updates WHERE id = ? AND version = ?. Zero affected rows means the
  caller read a stale aggregate. The ledger rows of the same command are
  inserted in the same SQL transaction, so a lost race writes nothing.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/waqf.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := waqf.NewService(store, store)

SEE ALSO:
  - generic/store.go: Ledger interface definitions
  - waqf/repository.go: Repository contract
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/waqf-engine/generic"
	"github.com/warp/waqf-engine/waqf"
)

// timeLayout keeps millisecond precision and sorts lexically in UTC.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database is private to its connection,
	// and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	store := NewWithDB(db)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// NewWithDB wraps an open connection without migrating it.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the database schema.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	-- Endowment aggregates (versioned document)
	CREATE TABLE IF NOT EXISTS endowments (
		id TEXT PRIMARY KEY,
		donor_id TEXT,
		waqf_type TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		document TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_endowments_status_type
		ON endowments(status, waqf_type);
	CREATE INDEX IF NOT EXISTS idx_endowments_donor
		ON endowments(donor_id);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		tranche_id TEXT,
		effective_at TEXT NOT NULL,
		delta_value TEXT NOT NULL,
		currency TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_entity_date
		ON transactions(entity_id, effective_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_tranche
		ON transactions(tranche_id) WHERE tranche_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON transactions(idempotency_key) WHERE idempotency_key IS NOT NULL;

	-- Cause catalog
	CREATE TABLE IF NOT EXISTS causes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT,
		supported_types_json TEXT,
		active INTEGER NOT NULL DEFAULT 1
	);

	-- Maturity sweep history
	CREATE TABLE IF NOT EXISTS sweep_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		endowments INTEGER NOT NULL,
		applied INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		report_json TEXT NOT NULL
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// ENDOWMENTS - waqf.Repository
// =============================================================================

func (s *Store) Create(ctx context.Context, e waqf.Endowment, entries []generic.Transaction) (waqf.Endowment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.Version = 1
	doc, err := json.Marshal(e)
	if err != nil {
		return waqf.Endowment{}, fmt.Errorf("failed to encode endowment: %w", err)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return waqf.Endowment{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO endowments (id, donor_id, waqf_type, status, version, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, string(e.ID), nullString(e.DonorID), string(e.Type), string(e.Status), e.Version, string(doc),
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return waqf.Endowment{}, fmt.Errorf("%w: endowment %s already exists", generic.ErrInvalidInput, e.ID)
		}
		return waqf.Endowment{}, fmt.Errorf("failed to insert endowment: %w", err)
	}

	if err := generic.NewLedger(&txStore{tx: sqlTx}).AppendBatch(ctx, entries); err != nil {
		return waqf.Endowment{}, err
	}
	if err := sqlTx.Commit(); err != nil {
		return waqf.Endowment{}, fmt.Errorf("failed to commit: %w", err)
	}
	return e, nil
}

func (s *Store) Get(ctx context.Context, id waqf.EndowmentID) (waqf.Endowment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc string
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT document, version FROM endowments WHERE id = ?`, string(id)).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return waqf.Endowment{}, fmt.Errorf("%w: %s", generic.ErrEndowmentNotFound, id)
	}
	if err != nil {
		return waqf.Endowment{}, fmt.Errorf("failed to load endowment: %w", err)
	}
	return decodeEndowment(doc, version)
}

// Save writes e if the stored version is still expectedVersion, appending
// entries in the same SQL transaction.
func (s *Store) Save(ctx context.Context, e waqf.Endowment, expectedVersion int64, entries []generic.Transaction) (waqf.Endowment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.Version = expectedVersion + 1
	doc, err := json.Marshal(e)
	if err != nil {
		return waqf.Endowment{}, fmt.Errorf("failed to encode endowment: %w", err)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return waqf.Endowment{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx, `
		UPDATE endowments
		SET donor_id = ?, waqf_type = ?, status = ?, version = ?, document = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`, nullString(e.DonorID), string(e.Type), string(e.Status), e.Version, string(doc), formatTime(e.UpdatedAt),
		string(e.ID), expectedVersion)
	if err != nil {
		return waqf.Endowment{}, fmt.Errorf("failed to update endowment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return waqf.Endowment{}, fmt.Errorf("failed to update endowment: %w", err)
	}
	if n == 0 {
		var one int
		err := sqlTx.QueryRowContext(ctx, `SELECT 1 FROM endowments WHERE id = ?`, string(e.ID)).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return waqf.Endowment{}, fmt.Errorf("%w: %s", generic.ErrEndowmentNotFound, e.ID)
		}
		if err != nil {
			return waqf.Endowment{}, fmt.Errorf("failed to check endowment: %w", err)
		}
		return waqf.Endowment{}, &generic.ConcurrentModificationError{
			EntityID: e.Entity(), ExpectedVersion: expectedVersion,
		}
	}

	if err := generic.NewLedger(&txStore{tx: sqlTx}).AppendBatch(ctx, entries); err != nil {
		return waqf.Endowment{}, err
	}
	if err := sqlTx.Commit(); err != nil {
		return waqf.Endowment{}, fmt.Errorf("failed to commit: %w", err)
	}
	return e, nil
}

// List narrows by the indexed columns in SQL and applies the rest of the
// filter to the decoded documents.
func (s *Store) List(ctx context.Context, filter waqf.ListFilter) ([]waqf.Endowment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT document, version FROM endowments WHERE 1 = 1`
	var args []any
	if filter.Type != "" {
		query += ` AND waqf_type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.DonorID != "" {
		query += ` AND donor_id = ?`
		args = append(args, filter.DonorID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list endowments: %w", err)
	}
	defer rows.Close()

	var out []waqf.Endowment
	for rows.Next() {
		var doc string
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, err
		}
		e, err := decodeEndowment(doc, version)
		if err != nil {
			return nil, err
		}
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}

func (s *Store) Transactions(ctx context.Context, id waqf.EndowmentID) ([]generic.Transaction, error) {
	return s.Load(ctx, generic.EntityID(id))
}

func decodeEndowment(doc string, version int64) (waqf.Endowment, error) {
	var e waqf.Endowment
	if err := json.Unmarshal([]byte(doc), &e); err != nil {
		return waqf.Endowment{}, fmt.Errorf("failed to decode endowment: %w", err)
	}
	e.Version = version
	return e, nil
}

// =============================================================================
// TRANSACTION STORE - generic.Store
// =============================================================================

func (s *Store) Append(ctx context.Context, tx generic.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTx(ctx, s.db, tx)
}

func appendTx(ctx context.Context, db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, tx generic.Transaction) error {
	metadataJSON, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO transactions
		(id, entity_id, tranche_id, effective_at, delta_value, currency,
		 tx_type, reference_id, reason, idempotency_key, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		string(tx.ID),
		string(tx.EntityID),
		nullString(tx.TrancheID),
		formatTime(tx.EffectiveAt),
		tx.Delta.Value.String(),
		string(tx.Delta.Currency),
		string(tx.Type),
		tx.ReferenceID,
		tx.Reason,
		nullString(tx.IdempotencyKey),
		string(metadataJSON),
		time.Now().UTC().Format(timeLayout),
	)

	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	return nil
}

// AppendBatch inserts all transactions atomically.
func (s *Store) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	// Duplicate keys inside one batch never reach the database
	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if seen[tx.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true
	}

	return s.WithTx(ctx, func(store generic.Store) error {
		return store.AppendBatch(ctx, txs)
	})
}

// Load returns all transactions for an endowment ordered by EffectiveAt.
func (s *Store) Load(ctx context.Context, entityID generic.EntityID) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryTransactions(ctx, s.db, `
		SELECT id, entity_id, tranche_id, effective_at, delta_value, currency,
		       tx_type, reference_id, reason, idempotency_key, metadata_json
		FROM transactions
		WHERE entity_id = ?
		ORDER BY effective_at, rowid
	`, string(entityID))
}

// LoadRange returns transactions effective in [from, to].
func (s *Store) LoadRange(ctx context.Context, entityID generic.EntityID, from, to generic.TimePoint) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryTransactions(ctx, s.db, `
		SELECT id, entity_id, tranche_id, effective_at, delta_value, currency,
		       tx_type, reference_id, reason, idempotency_key, metadata_json
		FROM transactions
		WHERE entity_id = ? AND effective_at >= ? AND effective_at <= ?
		ORDER BY effective_at, rowid
	`, string(entityID), formatTime(from), formatTime(to))
}

func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return exists(ctx, s.db, idempotencyKey)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func exists(ctx context.Context, db querier, idempotencyKey string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?`, idempotencyKey).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return count > 0, nil
}

func queryTransactions(ctx context.Context, db querier, query string, args ...any) ([]generic.Transaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var result []generic.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func scanTransaction(rows *sql.Rows) (generic.Transaction, error) {
	var (
		tx                                    generic.Transaction
		trancheID, refID, reason, key, metaJS sql.NullString
		effectiveAt, value, currency, txType  string
	)

	err := rows.Scan(
		&tx.ID, &tx.EntityID, &trancheID, &effectiveAt, &value, &currency,
		&txType, &refID, &reason, &key, &metaJS,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if effectiveAt != "" {
		at, err := time.Parse(timeLayout, effectiveAt)
		if err != nil {
			return tx, fmt.Errorf("failed to parse effective_at %q: %w", effectiveAt, err)
		}
		tx.EffectiveAt = generic.FromTime(at)
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return tx, fmt.Errorf("failed to parse amount %q: %w", value, err)
	}

	tx.TrancheID = trancheID.String
	tx.Delta = generic.Amount{Value: amount, Currency: generic.Currency(currency)}
	tx.Type = generic.TransactionType(txType)
	tx.ReferenceID = refID.String
	tx.Reason = reason.String
	tx.IdempotencyKey = key.String
	if metaJS.Valid && metaJS.String != "" && metaJS.String != "null" {
		if err := json.Unmarshal([]byte(metaJS.String), &tx.Metadata); err != nil {
			return tx, fmt.Errorf("failed to parse metadata: %w", err)
		}
	}
	return tx, nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx runs fn against a store bound to one SQL transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore reads and writes through the open transaction so it never
// waits on the Store's own lock.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Append(ctx context.Context, tx generic.Transaction) error {
	return appendTx(ctx, ts.tx, tx)
}

func (ts *txStore) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	for _, tx := range txs {
		if err := appendTx(ctx, ts.tx, tx); err != nil {
			return err
		}
	}
	return nil
}

func (ts *txStore) Load(ctx context.Context, entityID generic.EntityID) ([]generic.Transaction, error) {
	return queryTransactions(ctx, ts.tx, `
		SELECT id, entity_id, tranche_id, effective_at, delta_value, currency,
		       tx_type, reference_id, reason, idempotency_key, metadata_json
		FROM transactions
		WHERE entity_id = ?
		ORDER BY effective_at, rowid
	`, string(entityID))
}

func (ts *txStore) LoadRange(ctx context.Context, entityID generic.EntityID, from, to generic.TimePoint) ([]generic.Transaction, error) {
	return queryTransactions(ctx, ts.tx, `
		SELECT id, entity_id, tranche_id, effective_at, delta_value, currency,
		       tx_type, reference_id, reason, idempotency_key, metadata_json
		FROM transactions
		WHERE entity_id = ? AND effective_at >= ? AND effective_at <= ?
		ORDER BY effective_at, rowid
	`, string(entityID), formatTime(from), formatTime(to))
}

func (ts *txStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return exists(ctx, ts.tx, idempotencyKey)
}

// =============================================================================
// CAUSE CATALOG - waqf.CauseCatalog
// =============================================================================

// SaveCause upserts a catalog entry.
func (s *Store) SaveCause(ctx context.Context, c waqf.Cause) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	types, _ := json.Marshal(c.SupportedTypes)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO causes (id, name, category, supported_types_json, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			supported_types_json = excluded.supported_types_json,
			active = excluded.active
	`, string(c.ID), c.Name, nullString(c.Category), string(types), c.Active)
	if err != nil {
		return fmt.Errorf("failed to save cause: %w", err)
	}
	return nil
}

func (s *Store) GetCause(ctx context.Context, id waqf.CauseID) (waqf.Cause, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, supported_types_json, active FROM causes WHERE id = ?
	`, string(id))
	if err != nil {
		return waqf.Cause{}, fmt.Errorf("failed to load cause: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return waqf.Cause{}, err
		}
		return waqf.Cause{}, fmt.Errorf("%w: %s", generic.ErrCauseNotFound, id)
	}
	return scanCause(rows)
}

func (s *Store) ListCauses(ctx context.Context) ([]waqf.Cause, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, supported_types_json, active FROM causes ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list causes: %w", err)
	}
	defer rows.Close()

	var out []waqf.Cause
	for rows.Next() {
		c, err := scanCause(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCause(rows *sql.Rows) (waqf.Cause, error) {
	var c waqf.Cause
	var category, types sql.NullString
	if err := rows.Scan(&c.ID, &c.Name, &category, &types, &c.Active); err != nil {
		return waqf.Cause{}, fmt.Errorf("failed to scan cause: %w", err)
	}
	c.Category = category.String
	if types.Valid && types.String != "" && types.String != "null" {
		if err := json.Unmarshal([]byte(types.String), &c.SupportedTypes); err != nil {
			return waqf.Cause{}, fmt.Errorf("failed to parse supported types: %w", err)
		}
	}
	return c, nil
}

// =============================================================================
// SWEEP RUNS
// =============================================================================

// SaveSweepRun records the report of one maturity sweep.
func (s *Store) SaveSweepRun(ctx context.Context, r waqf.SweepReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode sweep report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sweep_runs (started_at, finished_at, endowments, applied, failed, report_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, formatTime(r.StartedAt), nullString(formatTime(r.FinishedAt)), r.Endowments, r.Applied, r.Failed, string(report))
	if err != nil {
		return fmt.Errorf("failed to save sweep run: %w", err)
	}
	return nil
}

// ListSweepRuns returns the most recent sweeps first.
func (s *Store) ListSweepRuns(ctx context.Context, limit int) ([]waqf.SweepReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT report_json FROM sweep_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sweep runs: %w", err)
	}
	defer rows.Close()

	var out []waqf.SweepReport
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var r waqf.SweepReport
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			return nil, fmt.Errorf("failed to decode sweep report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
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

func formatTime(tp generic.TimePoint) string {
	if tp.IsZero() {
		return ""
	}
	return tp.Time.UTC().Format(timeLayout)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
