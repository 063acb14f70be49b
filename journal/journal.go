// Package journal persists terminal bundle outcomes to sqlite.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/backrunner/bundle"
)

const schema = `
CREATE TABLE IF NOT EXISTS bundle_outcomes (
	bundle_hash     TEXT PRIMARY KEY,
	origin_tx       TEXT NOT NULL,
	opportunity_id  INTEGER NOT NULL,
	kind            TEXT NOT NULL,
	target_block    INTEGER NOT NULL,
	status          TEXT NOT NULL,
	expected_profit TEXT NOT NULL,
	submitted_at    INTEGER NOT NULL,
	resolved_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS bundle_outcomes_status ON bundle_outcomes (status);
`

// Journal is safe for concurrent use.
type Journal struct {
	db     *sql.DB
	insert *sql.Stmt
	logger *zap.Logger
}

// Open creates or opens the journal at path.
func Open(path string, logger *zap.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// sqlite serialises writers anyway
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	insert, err := db.Prepare(`
		INSERT OR REPLACE INTO bundle_outcomes
		(bundle_hash, origin_tx, opportunity_id, kind, target_block, status, expected_profit, submitted_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	return &Journal{db: db, insert: insert, logger: logger.Named("journal")}, nil
}

// Record stores o, replacing any earlier row for the same bundle hash.
func (j *Journal) Record(ctx context.Context, o bundle.Outcome) error {
	profit := "0"
	if o.ExpectedProfit != nil {
		profit = o.ExpectedProfit.String()
	}
	_, err := j.insert.ExecContext(ctx,
		o.BundleHash.Hex(),
		o.OriginTx.Hex(),
		int64(o.OpportunityID),
		o.Kind.String(),
		int64(o.TargetBlock),
		o.Status.String(),
		profit,
		o.SubmittedAt.UnixMilli(),
		o.ResolvedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	j.logger.Debug("Recorded outcome", zap.String("bundle_hash", o.BundleHash.Hex()), zap.String("status", o.Status.String()))
	return nil
}

// Entry is a stored outcome as read back from the journal.
type Entry struct {
	BundleHash     common.Hash
	OriginTx       common.Hash
	OpportunityID  uint64
	Kind           string
	TargetBlock    uint64
	Status         string
	ExpectedProfit *big.Int
	SubmittedAt    time.Time
	ResolvedAt     time.Time
}

// Recent returns up to limit outcomes, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT bundle_hash, origin_tx, opportunity_id, kind, target_block, status, expected_profit, submitted_at, resolved_at
		FROM bundle_outcomes ORDER BY resolved_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                    Entry
			bundleHash, originTx string
			oppID, target        int64
			profit               string
			submitted, resolved  int64
		)
		if err := rows.Scan(&bundleHash, &originTx, &oppID, &e.Kind, &target, &e.Status, &profit, &submitted, &resolved); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		e.BundleHash = common.HexToHash(bundleHash)
		e.OriginTx = common.HexToHash(originTx)
		e.OpportunityID = uint64(oppID)
		e.TargetBlock = uint64(target)
		e.ExpectedProfit, _ = new(big.Int).SetString(profit, 10)
		e.SubmittedAt = time.UnixMilli(submitted)
		e.ResolvedAt = time.UnixMilli(resolved)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByStatus returns the number of stored outcomes per status.
func (j *Journal) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM bundle_outcomes GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (j *Journal) Close() error {
	if err := j.insert.Close(); err != nil {
		j.logger.Warn("Failed to close statement", zap.Error(err))
	}
	return j.db.Close()
}
