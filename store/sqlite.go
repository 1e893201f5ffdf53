// Package store persists the results of finished runs to SQLite. It records
// what a run found; runs never read it back to resume a scan.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hedeqiang/tally/aggregate"
	"github.com/hedeqiang/tally/event"
)

// Run is one finished reconstruction.
type Run struct {
	Contract   event.Address
	From       uint64
	To         uint64
	Head       uint64
	Source     string
	Purchases  []event.Purchase
	Summary    aggregate.Summary
	FinishedAt time.Time
}

// RunInfo is a stored run without its purchases.
type RunInfo struct {
	ID         int64
	Contract   string
	From       uint64
	To         uint64
	Source     string
	Purchases  int
	Total      *big.Int
	FinishedAt time.Time
}

// Sink receives finished runs.
type Sink interface {
	SaveRun(ctx context.Context, run Run) (int64, error)
}

// SQLite is a Sink backed by a SQLite database file.
type SQLite struct {
	db *sql.DB
}

var _ Sink = (*SQLite)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	contract     TEXT    NOT NULL,
	from_block   INTEGER NOT NULL,
	to_block     INTEGER NOT NULL,
	head         INTEGER NOT NULL,
	source       TEXT    NOT NULL,
	purchases    INTEGER NOT NULL,
	total_wei    TEXT    NOT NULL,
	token_total  TEXT    NOT NULL,
	finished_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS purchases (
	run_id        INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	tx_hash       TEXT    NOT NULL,
	log_index     INTEGER NOT NULL,
	block_number  INTEGER NOT NULL,
	buyer         TEXT    NOT NULL,
	native_amount TEXT    NOT NULL,
	token_amount  TEXT    NOT NULL,
	block_time    INTEGER,
	source        TEXT    NOT NULL,
	PRIMARY KEY (run_id, tx_hash, log_index)
);

CREATE TABLE IF NOT EXISTS buyer_totals (
	run_id     INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	buyer      TEXT    NOT NULL,
	amount_wei TEXT    NOT NULL,
	PRIMARY KEY (run_id, buyer)
);

CREATE INDEX IF NOT EXISTS idx_runs_contract ON runs(contract);
`

// Open opens (creating if needed) the database at path.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SaveRun stores a run and its purchases in one transaction and returns the run id.
func (s *SQLite) SaveRun(ctx context.Context, run Run) (int64, error) {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (contract, from_block, to_block, head, source, purchases, total_wei, token_total, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Contract.Hex(), run.From, run.To, run.Head, run.Source, len(run.Purchases),
		amount(run.Summary.Total), amount(run.Summary.TokenTotal), run.FinishedAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("store: insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: run id: %w", err)
	}

	insertPurchase, err := tx.PrepareContext(ctx, `
		INSERT INTO purchases (run_id, tx_hash, log_index, block_number, buyer, native_amount, token_amount, block_time, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("store: prepare purchases: %w", err)
	}
	defer insertPurchase.Close()

	for _, p := range run.Purchases {
		var blockTime interface{}
		if p.HasTimestamp() {
			blockTime = p.Timestamp.Unix()
		}
		if _, err := insertPurchase.ExecContext(ctx,
			id, p.TxHash.Hex(), p.LogIndex, p.BlockNumber, p.Buyer.Hex(),
			amount(p.NativeAmount), amount(p.TokenAmount), blockTime, p.Source,
		); err != nil {
			return 0, fmt.Errorf("store: insert purchase %s: %w", p.TxHash.Hex(), err)
		}
	}

	insertTotal, err := tx.PrepareContext(ctx, `INSERT INTO buyer_totals (run_id, buyer, amount_wei) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("store: prepare totals: %w", err)
	}
	defer insertTotal.Close()

	for _, row := range run.Summary.Buyers() {
		if _, err := insertTotal.ExecContext(ctx, id, row.Buyer.Hex(), amount(row.Amount)); err != nil {
			return 0, fmt.Errorf("store: insert total: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit: %w", err)
	}
	return id, nil
}

// Runs lists the stored runs for a contract, newest first.
func (s *SQLite) Runs(ctx context.Context, contract event.Address) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, contract, from_block, to_block, source, purchases, total_wei, finished_at
		FROM runs WHERE contract = ? ORDER BY id DESC`, contract.Hex())
	if err != nil {
		return nil, fmt.Errorf("store: query runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var (
			info     RunInfo
			total    string
			finished int64
		)
		if err := rows.Scan(&info.ID, &info.Contract, &info.From, &info.To, &info.Source, &info.Purchases, &total, &finished); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		if info.Total, err = parseAmount(total); err != nil {
			return nil, err
		}
		info.FinishedAt = time.Unix(finished, 0)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Purchases returns the purchases of a stored run in block order.
func (s *SQLite) Purchases(ctx context.Context, runID int64) ([]event.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tx_hash, log_index, block_number, buyer, native_amount, token_amount, block_time, source
		FROM purchases WHERE run_id = ? ORDER BY block_number, log_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: query purchases: %w", err)
	}
	defer rows.Close()

	var out []event.Purchase
	for rows.Next() {
		var (
			p              event.Purchase
			tx, buyer      string
			native, tokens string
			blockTime      sql.NullInt64
		)
		if err := rows.Scan(&tx, &p.LogIndex, &p.BlockNumber, &buyer, &native, &tokens, &blockTime, &p.Source); err != nil {
			return nil, fmt.Errorf("store: scan purchase: %w", err)
		}
		if p.TxHash, err = event.HexToHash(tx); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		if p.Buyer, err = event.HexToAddress(buyer); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		if p.NativeAmount, err = parseAmount(native); err != nil {
			return nil, err
		}
		if p.TokenAmount, err = parseAmount(tokens); err != nil {
			return nil, err
		}
		if blockTime.Valid {
			p.Timestamp = time.Unix(blockTime.Int64, 0).UTC()
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("store: invalid amount %q", s)
	}
	return v, nil
}
