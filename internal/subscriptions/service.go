// Package subscriptions implements the subscriber lifecycle: subscribe with
// double opt-in, token confirmation, and confirmation resend.
package subscriptions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"letterdrop/internal/types"
)

// ConfirmationMailer is the narrow email interface the subscription flow
// needs. Satisfied by any external.EmailProvider; abstracted so tests can
// capture outgoing mail.
type ConfirmationMailer interface {
	Send(ctx context.Context, input types.SendInput) (string, error)
}

// Service implements the subscriber confirmation state machine.
//
// Writes go through the transaction manager so subscriber + token creation
// commit atomically. The confirmation email itself is sent after commit and
// is best effort: a mail failure never rolls back the subscription, because
// the resend endpoint can recover it.
type Service struct {
	txManager types.TransactionManager
	repos     types.RepositoryRegistry
	mailer    ConfirmationMailer
	tokens    TokenGenerator
	clock     types.Clock
	logger    *slog.Logger

	baseURL string
	from    types.EmailAddress
}

// ServiceConfig holds the dependencies for creating a subscriptions Service.
type ServiceConfig struct {
	TxManager types.TransactionManager
	Repos     types.RepositoryRegistry
	Mailer    ConfirmationMailer
	Tokens    TokenGenerator
	Clock     types.Clock
	Logger    *slog.Logger

	// BaseURL is the public URL confirmation links are built on
	// (no trailing slash).
	BaseURL string
	// From is the sender identity for confirmation mail.
	From types.EmailAddress
}

// NewService creates a subscriptions Service.
// If Tokens is nil, the production CryptoTokenGenerator is used.
// If Clock is nil, RealClock is used.
// If Logger is nil, slog.Default() is used.
func NewService(cfg ServiceConfig) *Service {
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = CryptoTokenGenerator{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		txManager: cfg.TxManager,
		repos:     cfg.Repos,
		mailer:    cfg.Mailer,
		tokens:    tokens,
		clock:     clock,
		logger:    logger,
		baseURL:   cfg.BaseURL,
		from:      cfg.From,
	}
}

// Subscribe registers a new pending subscriber and mails them a confirmation
// link. The subscriber row and its token commit together; the email is sent
// after commit. A duplicate email returns conflict_email_exists regardless
// of the existing subscriber's status.
func (s *Service) Subscribe(ctx context.Context, email, name string) (*types.Subscriber, error) {
	email = types.NormalizeEmail(email)
	if err := types.ValidateEmail(email); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidEmail, err.Error(), err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField,
			"name is required", nil)
	}
	if len(name) > types.MaxNameLength {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField,
			fmt.Sprintf("name exceeds %d characters", types.MaxNameLength), nil)
	}

	sub := &types.Subscriber{
		ID:        "sub_" + uuid.New().String(),
		Email:     email,
		Name:      name,
		Status:    types.SubscriberPending,
		CreatedAt: s.clock.Now(),
	}
	token, err := s.tokens.Generate()
	if err != nil {
		return nil, err
	}

	err = s.txManager.RunInTx(ctx, func(ctx context.Context, repos types.RepositoryRegistry) error {
		if err := repos.Subscribers().Create(ctx, sub); err != nil {
			return err
		}
		return repos.Subscribers().CreateToken(ctx, &types.ConfirmationToken{
			Token:        token,
			SubscriberID: sub.ID,
			IssuedAt:     s.clock.Now(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.sendConfirmationMail(ctx, sub, token)
	return sub, nil
}

// Confirm consumes a confirmation token and flips the subscriber to
// confirmed. The outcome distinguishes three cases:
//
//   - OutcomeConfirmed: this request performed the transition.
//   - OutcomeAlreadyConfirmed: valid token, but the subscriber was confirmed
//     earlier (replayed link). Success, not an error.
//   - OutcomeTokenNotFound: the token does not exist.
//
// Under concurrent requests with the same token, the conditional update
// guarantees exactly one caller observes OutcomeConfirmed.
func (s *Service) Confirm(ctx context.Context, token string) (types.ConfirmOutcome, error) {
	if token == "" {
		return types.OutcomeTokenNotFound, types.NewAppError(types.ErrCodeValidationMissingField, "token is required", nil)
	}

	outcome := types.OutcomeTokenNotFound
	err := s.txManager.RunInTx(ctx, func(ctx context.Context, repos types.RepositoryRegistry) error {
		tok, err := repos.Subscribers().GetToken(ctx, token)
		if err != nil {
			if types.ErrorCodeOf(err) == types.ErrCodeNotFoundToken {
				outcome = types.OutcomeTokenNotFound
				return nil
			}
			return err
		}

		won, err := repos.Subscribers().MarkConfirmed(ctx, tok.SubscriberID)
		if err != nil {
			return err
		}
		if !won {
			// Subscriber already confirmed, by this token earlier or by
			// a concurrent request that committed first.
			outcome = types.OutcomeAlreadyConfirmed
			return nil
		}

		if _, err := repos.Subscribers().ConsumeToken(ctx, token); err != nil {
			return err
		}
		outcome = types.OutcomeConfirmed
		return nil
	})
	if err != nil {
		return types.OutcomeTokenNotFound, err
	}

	if outcome == types.OutcomeConfirmed {
		s.logger.Info("subscriber confirmed", slog.String("token_prefix", tokenPrefix(token)))
	}
	return outcome, nil
}

// ResendConfirmation re-sends the live confirmation token for a pending
// subscriber. For confirmed or unknown emails it silently succeeds so the
// endpoint cannot be used to probe which addresses are subscribed.
func (s *Service) ResendConfirmation(ctx context.Context, email string) error {
	email = types.NormalizeEmail(email)
	if err := types.ValidateEmail(email); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidEmail, err.Error(), err)
	}

	sub, err := s.repos.Subscribers().GetByEmail(ctx, email)
	if err != nil {
		if types.ErrorCodeOf(err) == types.ErrCodeNotFoundSubscriber {
			return nil
		}
		return err
	}
	if sub.Status != types.SubscriberPending {
		return nil
	}

	tok, err := s.repos.Subscribers().UnconsumedTokenForSubscriber(ctx, sub.ID)
	if err != nil {
		if types.ErrorCodeOf(err) != types.ErrCodeNotFoundToken {
			return err
		}
		// No live token left: mint a fresh one.
		token, err := s.tokens.Generate()
		if err != nil {
			return err
		}
		if err := s.repos.Subscribers().CreateToken(ctx, &types.ConfirmationToken{
			Token:        token,
			SubscriberID: sub.ID,
			IssuedAt:     s.clock.Now(),
		}); err != nil {
			return err
		}
		s.sendConfirmationMail(ctx, sub, token)
		return nil
	}

	s.sendConfirmationMail(ctx, sub, tok.Token)
	return nil
}

// ConfirmationURL builds the public confirmation link for a token.
func (s *Service) ConfirmationURL(token string) string {
	return fmt.Sprintf("%s/subscriptions/confirm?token=%s", s.baseURL, token)
}

func (s *Service) sendConfirmationMail(ctx context.Context, sub *types.Subscriber, token string) {
	link := s.ConfirmationURL(token)
	_, err := s.mailer.Send(ctx, types.SendInput{
		To:      sub.Email,
		From:    s.from,
		Subject: "Confirm your subscription",
		BodyHTML: fmt.Sprintf(
			`<p>Welcome! Click <a href="%s">here</a> to confirm your subscription.</p>`, link),
		BodyText:    fmt.Sprintf("Welcome! Visit %s to confirm your subscription.", link),
		ReferenceID: sub.ID,
	})
	if err != nil {
		// Best effort: the subscription is committed, resend can recover.
		s.logger.Error("confirmation email failed",
			slog.String("subscriber_id", sub.ID),
			slog.Any("error", err),
		)
	}
}

// tokenPrefix returns a short loggable prefix of a token. Full tokens never
// appear in logs.
func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}
