package noncestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLStore persists reservations in a relational database. The backing
// table needs a unique index over (signer, nonce); the conflict clause of
// the insert is what makes reservation linearizable across instances.
//
//	CREATE TABLE consumed_nonces (
//	    signer      TEXT        NOT NULL,
//	    nonce       TEXT        NOT NULL,
//	    reserved_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (signer, nonce)
//	);
type SQLStore struct {
	db    *sql.DB
	table string
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps an open database handle. The table name defaults to
// "consumed_nonces".
func NewSQLStore(db *sql.DB, table string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("nonce store requires a database handle")
	}
	if table == "" {
		table = "consumed_nonces"
	}
	return &SQLStore{db: db, table: table}, nil
}

func (s *SQLStore) TryReserve(ctx context.Context, signer, nonce string) (bool, error) {
	query := fmt.Sprintf(
		`INSERT INTO %s (signer, nonce) VALUES ($1, $2) ON CONFLICT (signer, nonce) DO NOTHING`,
		s.table,
	)

	res, err := s.db.ExecContext(ctx, query, strings.ToLower(signer), strings.ToLower(nonce))
	if err != nil {
		return false, fmt.Errorf("nonce reservation failed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("nonce reservation failed: %w", err)
	}

	return affected == 1, nil
}

func (s *SQLStore) Release(ctx context.Context, signer, nonce string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE signer = $1 AND nonce = $2`, s.table)

	if _, err := s.db.ExecContext(ctx, query, strings.ToLower(signer), strings.ToLower(nonce)); err != nil {
		return fmt.Errorf("nonce release failed: %w", err)
	}
	return nil
}

// PruneBefore deletes reservations older than the cutoff. Replay protection
// is permanent by default; pruning trades that away for storage and is only
// sound when every authorization window that could reuse a pruned nonce is
// already far past its validBefore. Call it deliberately, never on a timer
// shorter than the longest window you issue.
func (s *SQLStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE reserved_at < $1`, s.table)

	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("nonce prune failed: %w", err)
	}
	return res.RowsAffected()
}
