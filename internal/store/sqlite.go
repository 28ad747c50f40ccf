package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/efreitasn/batchbroker/internal/domain"
	_ "github.com/glebarez/go-sqlite"
	"github.com/shopspring/decimal"
)

const lastBatchDateKey = "last_batch_date"

// SQLiteJournal is a Journal backed by a SQLite file in WAL mode, so the
// last batch date survives restarts.
type SQLiteJournal struct {
	db *sql.DB
}

// OpenSQLiteJournal opens (or creates) the journal at path. Use ":memory:"
// for a throwaway database.
func OpenSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and
	// serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", pragma, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS batches (
			batch_id TEXT PRIMARY KEY,
			batch_date TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			report BLOB NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS fills (
			intention_id TEXT PRIMARY KEY,
			batch_id TEXT NOT NULL REFERENCES batches(batch_id),
			account_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			price TEXT NOT NULL,
			amount TEXT NOT NULL,
			executed_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS fills_account ON fills(account_id, executed_at);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &SQLiteJournal{db: db}, nil
}

// LastBatchDate returns the date of the last recorded batch, or "" if none.
func (j *SQLiteJournal) LastBatchDate(ctx context.Context) (string, error) {
	var value string
	err := j.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", lastBatchDateKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read last batch date: %w", err)
	}
	return value, nil
}

// RecordBatch stores the report and its fills and advances the last batch date
// in a single transaction.
func (j *SQLiteJournal) RecordBatch(ctx context.Context, report *domain.BatchReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal batch report: %w", err)
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO batches (batch_id, batch_date, started_at, report) VALUES (?, ?, ?, ?)",
		report.BatchID, report.BatchDate, report.StartedAt.UnixNano(), payload,
	); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	for _, f := range report.Fills {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fills (intention_id, batch_id, account_id, symbol, side, quantity, price, amount, executed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.IntentionID, f.BatchID, f.AccountID, f.Symbol, string(f.Side), f.Quantity,
			f.Price.String(), f.Amount.String(), f.ExecutedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert fill %s: %w", f.IntentionID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		lastBatchDateKey, report.BatchDate, report.FinishedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("update last batch date: %w", err)
	}

	return tx.Commit()
}

// LastReport returns the most recent batch report, or nil before the first run.
func (j *SQLiteJournal) LastReport(ctx context.Context) (*domain.BatchReport, error) {
	var payload []byte
	err := j.db.QueryRowContext(ctx,
		"SELECT report FROM batches ORDER BY started_at DESC LIMIT 1",
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read last report: %w", err)
	}

	var report domain.BatchReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("unmarshal batch report: %w", err)
	}
	return &report, nil
}

// FillsByAccount returns an account's recorded fills, oldest first.
func (j *SQLiteJournal) FillsByAccount(ctx context.Context, accountID string) ([]domain.Fill, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT batch_id, intention_id, symbol, side, quantity, price, amount, executed_at
		 FROM fills WHERE account_id = ? ORDER BY executed_at ASC, intention_id ASC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	fills := make([]domain.Fill, 0)
	for rows.Next() {
		var (
			f             domain.Fill
			side          string
			price, amount string
			executedAt    int64
		)
		if err := rows.Scan(&f.BatchID, &f.IntentionID, &f.Symbol, &side, &f.Quantity, &price, &amount, &executedAt); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		f.AccountID = accountID
		f.Side = domain.Side(side)
		if f.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse fill price: %w", err)
		}
		if f.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse fill amount: %w", err)
		}
		f.ExecutedAt = time.Unix(0, executedAt).UTC()
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fills: %w", err)
	}
	return fills, nil
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
