package external

import (
	"context"

	"letterdrop/internal/types"
)

// EmailProvider abstracts the email delivery service. Implementations
// transmit pre-rendered content (Subject, BodyHTML, BodyText) and return
// the provider's message ID for correlation.
type EmailProvider interface {
	// Send transmits a single email. The returned message ID is the
	// provider's identifier for the accepted message.
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)

	// Name returns the provider identifier (e.g., "ses", "sendgrid").
	Name() string
}
