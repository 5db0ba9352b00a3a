package types

import (
	"context"
	"time"
)

// Logger defines the structured logging interface used throughout the service.
// *slog.Logger satisfies Info/Warn/Error directly; worker entrypoints wrap it
// in a small adapter because With must return a Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// Clock abstracts time for testability. Production code uses RealClock;
// tests inject a fixed or stepping clock.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by time.Now.
type RealClock struct{}

// Now returns the current UTC time.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// SubscriberRepository is the data access interface for subscribers and
// their confirmation tokens. The subscription store exclusively owns both
// tables; the two conditional updates (MarkConfirmed, ConsumeToken) are the
// only mutation paths and both are compare-and-set on the current state.
type SubscriberRepository interface {
	// Create inserts a pending subscriber. A duplicate email yields an
	// AppError with code conflict_email_exists.
	Create(ctx context.Context, sub *Subscriber) error

	// CreateToken inserts a fresh confirmation token for a subscriber.
	CreateToken(ctx context.Context, token *ConfirmationToken) error

	// GetByID returns the subscriber or not_found_subscriber.
	GetByID(ctx context.Context, id string) (*Subscriber, error)

	// GetByEmail returns the subscriber with the given (normalized) email
	// or not_found_subscriber.
	GetByEmail(ctx context.Context, email string) (*Subscriber, error)

	// GetToken returns the token row or not_found_token.
	GetToken(ctx context.Context, token string) (*ConfirmationToken, error)

	// UnconsumedTokenForSubscriber returns the most recently issued
	// unconsumed token for the subscriber, or not_found_token.
	UnconsumedTokenForSubscriber(ctx context.Context, subscriberID string) (*ConfirmationToken, error)

	// MarkConfirmed transitions the subscriber pending_confirmation ->
	// confirmed. Returns false when the subscriber was already confirmed
	// (zero rows matched the conditional update).
	MarkConfirmed(ctx context.Context, subscriberID string) (bool, error)

	// ConsumeToken flips consumed false -> true. Returns false when the
	// token was already consumed.
	ConsumeToken(ctx context.Context, token string) (bool, error)
}

// IssueRepository is the data access interface for newsletter issues.
// Issues are immutable once created.
type IssueRepository interface {
	Create(ctx context.Context, issue *NewsletterIssue) error
	GetByID(ctx context.Context, id string) (*NewsletterIssue, error)
}

// OutboxRepository is the data access interface for outbox delivery tasks.
// Fan-out is the only creation path; everything else is worker mutation via
// conditional updates.
type OutboxRepository interface {
	// FanOut inserts one pending task per confirmed subscriber for the
	// issue, skipping (issue_id, recipient) pairs that already exist.
	// Returns the number of rows actually inserted.
	FanOut(ctx context.Context, issueID string) (int64, error)

	// ClaimDue atomically claims up to limit due pending tasks
	// (pending -> in_flight), ordered by next_attempt_at then id.
	// Concurrent workers never claim the same task.
	ClaimDue(ctx context.Context, limit int) ([]*OutboxTask, error)

	// MarkSent transitions in_flight -> sent.
	MarkSent(ctx context.Context, taskID string) error

	// MarkFailed transitions in_flight -> failed with the permanent error
	// recorded. No further retries.
	MarkFailed(ctx context.Context, taskID string, reason string) error

	// Reschedule transitions in_flight -> pending with the incremented
	// attempt count, the computed next attempt time, and the transient
	// error recorded.
	Reschedule(ctx context.Context, taskID string, attemptCount int, nextAttemptAt time.Time, reason string) error

	// MarkDeadLettered transitions in_flight -> dead_lettered after the
	// retry budget is exhausted.
	MarkDeadLettered(ctx context.Context, taskID string, attemptCount int, reason string) error

	// ReapExpired reclaims in_flight tasks whose claim is older than the
	// lease back to pending. Returns the number reclaimed.
	ReapExpired(ctx context.Context, lease time.Duration) (int64, error)

	// CountDue returns the number of pending tasks eligible for dispatch
	// now. Used for backlog telemetry.
	CountDue(ctx context.Context) (int64, error)

	// ListTerminalBefore returns up to limit tasks in a terminal state
	// created before the cutoff. Used by the retention archiver.
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*OutboxTask, error)

	// DeleteByIDs hard-deletes the given tasks. Returns the number deleted.
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// IdempotencyRepository guards publish fan-out. The unique key insert is the
// mutual-exclusion primitive: exactly one concurrent caller wins the claim.
type IdempotencyRepository interface {
	// Claim inserts the key if absent. Returns true when this caller won
	// the claim, false when the key already exists.
	Claim(ctx context.Context, key string) (bool, error)

	// Get returns the record for the key, or nil when no row exists.
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)

	// SetResponse records the issue and response snapshot on the key row.
	SetResponse(ctx context.Context, key string, issueID string, status int, body []byte) error
}

// RepositoryRegistry provides access to all repository instances bound to a
// single database handle (pool or open transaction).
type RepositoryRegistry interface {
	Subscribers() SubscriberRepository
	Issues() IssueRepository
	Outbox() OutboxRepository
	Idempotency() IdempotencyRepository
}

// TransactionManager provides transactional execution across repositories.
// The registry passed to fn is bound to the transaction; returning an error
// rolls back, returning nil commits.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryRegistry) error) error
}
