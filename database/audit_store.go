package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/SaurabhJain708/formbricks/audit"
)

const entryColumns = `chain_id, sequence, occurred_at, actor_id, actor_type, action,
	target_id, target_type, organization_id, status, changes, ip_address,
	api_url, event_id, integrity_hash, previous_hash, chain_start`

// AuditStore is the append-only Postgres log. It only inserts and selects;
// a trigger on the table rejects UPDATE and DELETE.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Append(ctx context.Context, e audit.Entry) error {
	var changes []byte
	if len(e.Changes) > 0 {
		raw, err := e.Changes.MarshalJSON()
		if err != nil {
			return fmt.Errorf("database: encode changes: %w", err)
		}
		changes = raw
	}

	var targetID, targetType sql.NullString
	if e.Target != nil {
		targetID = sql.NullString{String: e.Target.ID, Valid: true}
		targetType = sql.NullString{String: e.Target.Type, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		e.ChainID, int64(e.Sequence), e.Timestamp.UTC(), e.Actor.ID, string(e.Actor.Type), string(e.Action),
		targetID, targetType, e.OrganizationID, string(e.Status), changes, e.IPAddress,
		e.APIURL, e.EventID, e.IntegrityHash, e.PreviousHash, e.ChainStart,
	)
	if err != nil {
		return fmt.Errorf("database: append entry %s/%d: %w", e.ChainID, e.Sequence, MapError(err))
	}
	return nil
}

// ReadChain returns entries with sequence > afterSequence in sequence order.
// A non-positive limit returns the rest of the chain.
func (s *AuditStore) ReadChain(ctx context.Context, chainID string, afterSequence uint64, limit int) ([]audit.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM audit_log_entries
		WHERE chain_id = $1 AND sequence > $2
		ORDER BY sequence`
	args := []any{chainID, int64(afterSequence)}
	if limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("database: read chain %s: %w", chainID, MapError(err))
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: read chain %s: %w", chainID, MapError(err))
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (audit.Entry, error) {
	var (
		e                      audit.Entry
		seq                    int64
		actorType, act, status string
		targetID, targetType   sql.NullString
		changes                []byte
	)
	err := row.Scan(
		&e.ChainID, &seq, &e.Timestamp, &e.Actor.ID, &actorType, &act,
		&targetID, &targetType, &e.OrganizationID, &status, &changes, &e.IPAddress,
		&e.APIURL, &e.EventID, &e.IntegrityHash, &e.PreviousHash, &e.ChainStart,
	)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("database: scan entry: %w", MapError(err))
	}

	e.Sequence = uint64(seq)
	e.Timestamp = e.Timestamp.UTC()
	e.Actor.Type = audit.ActorType(actorType)
	e.Action = audit.Action(act)
	e.Status = audit.Status(status)
	if targetID.Valid {
		e.Target = &audit.Target{ID: targetID.String, Type: targetType.String}
	}
	if len(changes) > 0 {
		if err := e.Changes.UnmarshalJSON(changes); err != nil {
			return audit.Entry{}, fmt.Errorf("database: decode changes of %s/%d: %w", e.ChainID, seq, err)
		}
	}
	return e, nil
}
