// Package types defines the domain entities, enumerations, and shared
// interfaces for the letterdrop newsletter service. It is dependency-free
// (standard library only) so every other package can import it without
// cycles.
package types

import "time"

// Subscriber is a mailing-list member. Created in pending_confirmation by
// subscribe; transitions to confirmed exactly once, driven by a valid,
// unconsumed token. Email is unique across all subscribers regardless of
// status. Subscribers are never deleted by this service.
type Subscriber struct {
	ID        string           `json:"id"`
	Email     string           `json:"email"`
	Name      string           `json:"name"`
	Status    SubscriberStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

// ConfirmationToken is a single-use, high-entropy token mailed to a pending
// subscriber. Consuming it is atomic with the subscriber's state transition;
// consumed tokens are flagged, never deleted, so replays can be answered
// with AlreadyConfirmed.
type ConfirmationToken struct {
	Token        string    `json:"token"`
	SubscriberID string    `json:"subscriber_id"`
	IssuedAt     time.Time `json:"issued_at"`
	Consumed     bool      `json:"consumed"`
}

// NewsletterIssue is an immutable piece of content broadcast to all confirmed
// subscribers. Published exactly once via the dispatch pipeline.
type NewsletterIssue struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	BodyHTML  string    `json:"body_html"`
	BodyText  string    `json:"body_text"`
	CreatedAt time.Time `json:"created_at"`
}

// OutboxTask is one durable delivery work item: (issue × recipient).
// Exactly one row exists per (issue_id, recipient) pair, which is what makes
// fan-out safe to re-run. Tasks are mutated only by the dispatch worker,
// always via conditional updates keyed on the current status.
type OutboxTask struct {
	ID            string     `json:"id"`
	IssueID       string     `json:"issue_id"`
	Recipient     string     `json:"recipient"`
	Status        TaskStatus `json:"status"`
	AttemptCount  int        `json:"attempt_count"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	ClaimedAt     time.Time  `json:"claimed_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// IdempotencyRecord associates an operator-supplied idempotency key with at
// most one fan-out execution. The response snapshot is written in the same
// transaction as the fan-out, so any visible record with a snapshot is the
// authoritative answer for that key.
type IdempotencyRecord struct {
	Key            string    `json:"key"`
	IssueID        string    `json:"issue_id,omitempty"`
	ResponseStatus int       `json:"response_status,omitempty"`
	ResponseBody   []byte    `json:"response_body,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// IssueDraft is the operator-supplied content for a new issue.
type IssueDraft struct {
	Title    string `json:"title" validate:"required,max=200"`
	BodyHTML string `json:"body_html" validate:"required"`
	BodyText string `json:"body_text" validate:"required"`
}

// PublishResult is returned by publish and snapshotted on the idempotency
// key. Deduplicated is true when the result was served from the snapshot of
// an earlier attempt rather than a fresh fan-out.
type PublishResult struct {
	IssueID       string `json:"issue_id"`
	TasksEnqueued int64  `json:"tasks_enqueued"`
	Deduplicated  bool   `json:"deduplicated"`
}

// EmailAddress is a display name plus address, used for the From header.
type EmailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// SendInput carries pre-rendered email content to an EmailProvider.
// ReferenceID correlates the send with the originating outbox task (or
// confirmation token issue) in provider logs.
type SendInput struct {
	To          string
	From        EmailAddress
	Subject     string
	BodyHTML    string
	BodyText    string
	ReferenceID string
}
