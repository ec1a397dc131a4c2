package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/SaurabhJain708/formbricks/audit"
)

// PostgresHeadTracker keeps chain heads in a row per chain. The swap is a
// conditional write; zero affected rows means another writer got there first.
type PostgresHeadTracker struct {
	db *sql.DB
}

func NewPostgresHeadTracker(db *sql.DB) *PostgresHeadTracker {
	return &PostgresHeadTracker{db: db}
}

func (t *PostgresHeadTracker) CurrentHead(ctx context.Context, chainID string) (audit.Head, error) {
	var (
		seq  int64
		hash string
	)
	err := t.db.QueryRowContext(ctx,
		`SELECT sequence, head FROM audit_chain_heads WHERE chain_id = $1`,
		chainID,
	).Scan(&seq, &hash)
	if IsNoRows(err) {
		return audit.EmptyHead, nil
	}
	if err != nil {
		return audit.Head{}, fmt.Errorf("database: read chain head: %w", MapError(err))
	}
	return audit.Head{Sequence: uint64(seq), Hash: hash}, nil
}

func (t *PostgresHeadTracker) Advance(ctx context.Context, chainID string, expected, next audit.Head) error {
	var (
		res sql.Result
		err error
	)
	if expected.IsEmpty() {
		res, err = t.db.ExecContext(ctx,
			`INSERT INTO audit_chain_heads (chain_id, sequence, head)
			VALUES ($1, $2, $3)
			ON CONFLICT (chain_id) DO NOTHING`,
			chainID, int64(next.Sequence), next.Hash,
		)
	} else {
		res, err = t.db.ExecContext(ctx,
			`UPDATE audit_chain_heads
			SET sequence = $2, head = $3, updated_at = now()
			WHERE chain_id = $1 AND sequence = $4 AND head = $5`,
			chainID, int64(next.Sequence), next.Hash, int64(expected.Sequence), expected.Hash,
		)
	}
	if err != nil {
		return fmt.Errorf("database: advance chain head: %w", MapError(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("database: advance chain head: %w", err)
	}
	if n == 0 {
		return audit.ErrChainConflict
	}
	return nil
}
