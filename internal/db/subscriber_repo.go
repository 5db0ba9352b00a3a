package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"letterdrop/internal/types"
)

// SubscriberRepo provides data access for the subscribers and
// confirmation_tokens tables.
//
// Key invariants:
//   - Email uniqueness is enforced by the database; Create maps the unique
//     violation to conflict_email_exists.
//   - MarkConfirmed and ConsumeToken are conditional updates. A zero rows
//     affected result means the transition already happened, which callers
//     treat as the already_confirmed outcome rather than an error.
type SubscriberRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriberRepo creates a new SubscriberRepo backed by the given
// database connection (pool or transaction).
func NewSubscriberRepo(db DBTX, logger *slog.Logger) *SubscriberRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriberRepo{db: db, logger: logger}
}

var _ types.SubscriberRepository = (*SubscriberRepo)(nil)

// subscriberColumns is the standard column set for subscriber queries.
// Used consistently across all query methods to avoid column drift.
const subscriberColumns = `s.id, s.email, s.name, s.status, s.created_at`

func scanSubscriber(row pgx.Row) (*types.Subscriber, error) {
	var sub types.Subscriber
	err := row.Scan(
		&sub.ID,
		&sub.Email,
		&sub.Name,
		&sub.Status,
		&sub.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Create inserts a new pending subscriber. The caller must set the ID
// (prefixed UUID, e.g. "sub_...") and a normalized email before calling.
// A duplicate email returns conflict_email_exists.
func (r *SubscriberRepo) Create(ctx context.Context, sub *types.Subscriber) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO subscribers (id, email, name, status, created_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`,
		sub.ID,
		sub.Email,
		sub.Name,
		sub.Status,
		nilIfZeroTime(sub.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictEmail, "email is already subscribed", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create subscriber", err)
	}
	return nil
}

// CreateToken inserts a fresh confirmation token for a subscriber.
func (r *SubscriberRepo) CreateToken(ctx context.Context, token *types.ConfirmationToken) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO confirmation_tokens (token, subscriber_id, consumed, issued_at)
		 VALUES ($1, $2, $3, COALESCE($4, NOW()))`,
		token.Token,
		token.SubscriberID,
		token.Consumed,
		nilIfZeroTime(token.IssuedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create confirmation token", err)
	}
	return nil
}

// GetByID retrieves a subscriber by ID. Returns not_found_subscriber if no
// row exists.
func (r *SubscriberRepo) GetByID(ctx context.Context, id string) (*types.Subscriber, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriberColumns+`
		 FROM subscribers s
		 WHERE s.id = $1`,
		id,
	)
	sub, err := scanSubscriber(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscriber, "subscriber not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get subscriber", err)
	}
	return sub, nil
}

// GetByEmail retrieves a subscriber by normalized email. Returns
// not_found_subscriber if no row exists.
func (r *SubscriberRepo) GetByEmail(ctx context.Context, email string) (*types.Subscriber, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriberColumns+`
		 FROM subscribers s
		 WHERE s.email = $1`,
		email,
	)
	sub, err := scanSubscriber(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscriber, "subscriber not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get subscriber by email", err)
	}
	return sub, nil
}

// GetToken retrieves a confirmation token row. Returns not_found_token if no
// row exists. Consumed tokens are returned so the caller can distinguish a
// replay from an unknown token.
func (r *SubscriberRepo) GetToken(ctx context.Context, token string) (*types.ConfirmationToken, error) {
	var t types.ConfirmationToken
	err := r.db.QueryRow(ctx,
		`SELECT token, subscriber_id, consumed, issued_at
		 FROM confirmation_tokens
		 WHERE token = $1`,
		token,
	).Scan(&t.Token, &t.SubscriberID, &t.Consumed, &t.IssuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundToken, "confirmation token not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get confirmation token", err)
	}
	return &t, nil
}

// UnconsumedTokenForSubscriber returns the most recently issued unconsumed
// token for the subscriber. Used by resend to avoid minting a new token when
// a live one exists.
func (r *SubscriberRepo) UnconsumedTokenForSubscriber(ctx context.Context, subscriberID string) (*types.ConfirmationToken, error) {
	var t types.ConfirmationToken
	err := r.db.QueryRow(ctx,
		`SELECT token, subscriber_id, consumed, issued_at
		 FROM confirmation_tokens
		 WHERE subscriber_id = $1 AND consumed = FALSE
		 ORDER BY issued_at DESC
		 LIMIT 1`,
		subscriberID,
	).Scan(&t.Token, &t.SubscriberID, &t.Consumed, &t.IssuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundToken, "no unconsumed token for subscriber", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get token for subscriber", err)
	}
	return &t, nil
}

// MarkConfirmed transitions the subscriber to confirmed. The WHERE clause on
// the current status makes the transition idempotent under concurrency: the
// first caller flips the row, later callers see zero rows affected and
// report already confirmed.
func (r *SubscriberRepo) MarkConfirmed(ctx context.Context, subscriberID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscribers
		 SET status = $1
		 WHERE id = $2 AND status = $3`,
		types.SubscriberConfirmed,
		subscriberID,
		types.SubscriberPending,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to confirm subscriber", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ConsumeToken flips the token's consumed flag. Returns false when the token
// was already consumed by an earlier request.
func (r *SubscriberRepo) ConsumeToken(ctx context.Context, token string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE confirmation_tokens
		 SET consumed = TRUE
		 WHERE token = $1 AND consumed = FALSE`,
		token,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to consume token", err)
	}
	return tag.RowsAffected() == 1, nil
}
