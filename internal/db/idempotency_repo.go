package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"letterdrop/internal/types"
)

// IdempotencyRepo provides data access for the idempotency_keys table.
//
// The key's primary key constraint is the mutual-exclusion primitive for
// publish: Claim's ON CONFLICT DO NOTHING insert succeeds for exactly one
// concurrent caller. Because the claim happens inside the publish
// transaction, a loser's read of the key blocks on the winner's row lock
// until the winner commits (snapshot populated) or rolls back (key gone).
type IdempotencyRepo struct {
	db DBTX
}

// NewIdempotencyRepo creates a new IdempotencyRepo backed by the given
// database connection (pool or transaction).
func NewIdempotencyRepo(db DBTX) *IdempotencyRepo {
	return &IdempotencyRepo{db: db}
}

var _ types.IdempotencyRepository = (*IdempotencyRepo)(nil)

// Claim inserts the key if absent. Returns true when this caller won the
// claim (row inserted), false when the key already exists.
func (r *IdempotencyRepo) Claim(ctx context.Context, key string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO idempotency_keys (key)
		 VALUES ($1)
		 ON CONFLICT (key) DO NOTHING`,
		key,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim idempotency key", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get returns the record for the key, or nil when no row exists.
func (r *IdempotencyRepo) Get(ctx context.Context, key string) (*types.IdempotencyRecord, error) {
	var rec types.IdempotencyRecord
	var issueID *string
	var responseStatus *int

	err := r.db.QueryRow(ctx,
		`SELECT key, issue_id, response_status, response_body, created_at
		 FROM idempotency_keys
		 WHERE key = $1`,
		key,
	).Scan(&rec.Key, &issueID, &responseStatus, &rec.ResponseBody, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get idempotency record", err)
	}
	if issueID != nil {
		rec.IssueID = *issueID
	}
	if responseStatus != nil {
		rec.ResponseStatus = *responseStatus
	}
	return &rec, nil
}

// SetResponse records the issue and response snapshot on the key row. Called
// in the same transaction as the fan-out, so a committed key always carries
// its snapshot.
func (r *IdempotencyRepo) SetResponse(ctx context.Context, key string, issueID string, status int, body []byte) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE idempotency_keys
		 SET issue_id = $1, response_status = $2, response_body = $3
		 WHERE key = $4`,
		issueID,
		status,
		body,
		key,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record idempotent response", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalDB, "idempotency key vanished before snapshot", nil)
	}
	return nil
}
