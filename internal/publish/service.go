// Package publish implements idempotent newsletter publication: issue
// creation plus durable fan-out into the outbox, guarded by an
// operator-supplied idempotency key.
package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"letterdrop/internal/types"
)

// Service implements publish. Everything happens in one database
// transaction: the idempotency key claim, the issue insert, the fan-out, and
// the response snapshot. No email is sent here; the dispatch worker drains
// the outbox after commit.
type Service struct {
	txManager types.TransactionManager
	validate  *validator.Validate
	clock     types.Clock
	logger    *slog.Logger
}

// ServiceConfig holds the dependencies for creating a publish Service.
type ServiceConfig struct {
	TxManager types.TransactionManager
	Clock     types.Clock
	Logger    *slog.Logger
}

// NewService creates a publish Service.
// If Clock is nil, RealClock is used. If Logger is nil, slog.Default() is used.
func NewService(cfg ServiceConfig) *Service {
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
		validate:  validator.New(),
		clock:     clock,
		logger:    logger,
	}
}

// Publish creates an issue and fans it out to every confirmed subscriber,
// exactly once per idempotency key.
//
// The key claim (INSERT ... ON CONFLICT DO NOTHING) is the mutual-exclusion
// primitive. The winner inserts the issue, fans out, and snapshots the
// response on the key row, all in one transaction. A loser's read of the key
// row blocks on the winner's row lock until the winner commits, so by the
// time the loser sees the row its snapshot is populated and can be replayed
// verbatim. An unpopulated row should therefore not be observable; if it is
// (a claim from outside this code path), the caller gets
// conflict_idempotency_in_flight and should retry later.
func (s *Service) Publish(ctx context.Context, draft types.IssueDraft, idempotencyKey string) (*types.PublishResult, error) {
	if err := types.ValidateIdempotencyKey(idempotencyKey); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationIdempotencyKey, err.Error(), err)
	}
	if err := s.validate.Struct(draft); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "title, body_html and body_text are required", err)
	}

	var result *types.PublishResult
	err := s.txManager.RunInTx(ctx, func(ctx context.Context, repos types.RepositoryRegistry) error {
		won, err := repos.Idempotency().Claim(ctx, idempotencyKey)
		if err != nil {
			return err
		}

		if !won {
			rec, err := repos.Idempotency().Get(ctx, idempotencyKey)
			if err != nil {
				return err
			}
			if rec == nil || rec.ResponseStatus == 0 {
				// Key claimed but never populated: the owning transaction
				// rolled back after commit of the bare claim, or the claim
				// came from outside the publish path.
				return types.NewAppError(types.ErrCodeConflictIdempotency,
					"a publish with this idempotency key is in flight", nil)
			}
			cached := &types.PublishResult{}
			if err := json.Unmarshal(rec.ResponseBody, cached); err != nil {
				return types.NewAppError(types.ErrCodeInternalUnexpected, "corrupt idempotency snapshot", err)
			}
			cached.Deduplicated = true
			result = cached
			return nil
		}

		issue := &types.NewsletterIssue{
			ID:        "issue_" + uuid.New().String(),
			Title:     draft.Title,
			BodyHTML:  draft.BodyHTML,
			BodyText:  draft.BodyText,
			CreatedAt: s.clock.Now(),
		}
		if err := repos.Issues().Create(ctx, issue); err != nil {
			return err
		}

		enqueued, err := repos.Outbox().FanOut(ctx, issue.ID)
		if err != nil {
			return err
		}

		result = &types.PublishResult{
			IssueID:       issue.ID,
			TasksEnqueued: enqueued,
		}
		body, err := json.Marshal(result)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to snapshot publish result", err)
		}
		return repos.Idempotency().SetResponse(ctx, idempotencyKey, issue.ID, http.StatusAccepted, body)
	})
	if err != nil {
		return nil, err
	}

	if !result.Deduplicated {
		s.logger.Info("issue published",
			slog.String("issue_id", result.IssueID),
			slog.Int64("tasks_enqueued", result.TasksEnqueued),
		)
	}
	return result, nil
}
