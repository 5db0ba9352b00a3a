package types

// SubscriberStatus represents the lifecycle state of a subscriber.
type SubscriberStatus string

const (
	SubscriberPending   SubscriberStatus = "pending_confirmation"
	SubscriberConfirmed SubscriberStatus = "confirmed"
)

// ConfirmOutcome is the result of a confirmation attempt. AlreadyConfirmed
// and TokenNotFound are outcomes, not failures: a replayed token is a no-op
// success and an unknown token is a clean miss.
type ConfirmOutcome string

const (
	OutcomeConfirmed        ConfirmOutcome = "confirmed"
	OutcomeAlreadyConfirmed ConfirmOutcome = "already_confirmed"
	OutcomeTokenNotFound    ConfirmOutcome = "token_not_found"
)

// TaskStatus enumerates all valid states for an outbox delivery task.
// These values MUST match the CHECK constraint in the outbox_tasks table.
type TaskStatus string

const (
	// TaskPending means the task is eligible for dispatch once
	// next_attempt_at has passed.
	TaskPending TaskStatus = "pending"
	// TaskInFlight means a worker holds an exclusive claim on the task.
	// A claim older than the lease timeout is reclaimed to pending.
	TaskInFlight TaskStatus = "in_flight"
	// TaskSent is terminal: the provider accepted the message.
	TaskSent TaskStatus = "sent"
	// TaskFailed is terminal: the provider reported a permanent error
	// (blocked or invalid recipient). Never retried.
	TaskFailed TaskStatus = "failed"
	// TaskDeadLettered is terminal: the retry budget was exhausted.
	TaskDeadLettered TaskStatus = "dead_lettered"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskSent, TaskFailed, TaskDeadLettered:
		return true
	default:
		return false
	}
}
