// Package dispatch implements the outbox dispatch worker: it drains pending
// delivery tasks, sends them through an email provider, and applies the
// retry/dead-letter policy. Delivery is at-least-once; the (issue, recipient)
// uniqueness upstream makes re-delivery the only duplication mode.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"letterdrop/internal/types"
)

// EmailSender is the narrow provider interface the worker needs. Satisfied
// by any external.EmailProvider.
type EmailSender interface {
	Send(ctx context.Context, input types.SendInput) (string, error)
	Name() string
}

// Worker polls the outbox and dispatches due tasks.
//
// Concurrency model: one claim query per poll cycle, then bounded parallel
// sends via errgroup. Each task's attempts are strictly sequential because a
// task is only ever pending or claimed by one worker; order across
// recipients is unspecified. No database transaction is ever held across a
// provider call.
type Worker struct {
	outbox  types.OutboxRepository
	issues  types.IssueRepository
	sender  EmailSender
	policy  RetryPolicy
	metrics Metrics
	clock   types.Clock
	logger  *slog.Logger

	pollInterval time.Duration
	batchSize    int
	concurrency  int
	sendTimeout  time.Duration
	leaseTimeout time.Duration
	reapInterval time.Duration

	from types.EmailAddress
}

// WorkerConfig holds the dependencies and tuning for a dispatch Worker.
type WorkerConfig struct {
	Outbox  types.OutboxRepository
	Issues  types.IssueRepository
	Sender  EmailSender
	Policy  RetryPolicy
	Metrics Metrics
	Clock   types.Clock
	Logger  *slog.Logger

	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	SendTimeout  time.Duration
	LeaseTimeout time.Duration
	ReapInterval time.Duration

	// From is the sender identity applied to every outgoing issue email.
	From types.EmailAddress
}

// NewWorker creates a dispatch Worker.
// If Metrics is nil, NoopMetrics is used. If Clock is nil, RealClock is
// used. If Logger is nil, slog.Default() is used. Zero tuning values fall
// back to the dispatch config defaults.
func NewWorker(cfg WorkerConfig) *Worker {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		outbox:       cfg.Outbox,
		issues:       cfg.Issues,
		sender:       cfg.Sender,
		policy:       cfg.Policy,
		metrics:      metrics,
		clock:        clock,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		concurrency:  cfg.Concurrency,
		sendTimeout:  cfg.SendTimeout,
		leaseTimeout: cfg.LeaseTimeout,
		reapInterval: cfg.ReapInterval,
		from:         cfg.From,
	}
	if w.policy.MaxAttempts == 0 {
		w.policy = DefaultRetryPolicy()
	}
	if w.pollInterval <= 0 {
		w.pollInterval = time.Second
	}
	if w.batchSize <= 0 {
		w.batchSize = 50
	}
	if w.concurrency <= 0 {
		w.concurrency = 8
	}
	if w.sendTimeout <= 0 {
		w.sendTimeout = 10 * time.Second
	}
	if w.leaseTimeout <= 0 {
		w.leaseTimeout = 5 * time.Minute
	}
	if w.reapInterval <= 0 {
		w.reapInterval = time.Minute
	}
	return w
}

// Run polls until the context is cancelled. Poll errors are logged and the
// loop continues; a broken database connection heals on a later tick.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("dispatch worker started",
		slog.String("provider", w.sender.Name()),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Int("batch_size", w.batchSize),
		slog.Int("concurrency", w.concurrency),
	)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("dispatch worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.PollOnce(ctx); err != nil {
				w.logger.Error("poll cycle failed", slog.Any("error", err))
			}
		}
	}
}

// RunReaper periodically returns expired in_flight claims to pending and
// reports backlog depth. Meant to run alongside Run in its own goroutine.
func (w *Worker) RunReaper(ctx context.Context) error {
	ticker := time.NewTicker(w.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			reaped, err := w.outbox.ReapExpired(ctx, w.leaseTimeout)
			if err != nil {
				w.logger.Error("reap cycle failed", slog.Any("error", err))
				continue
			}
			if reaped > 0 {
				w.metrics.RecordReaped(ctx, reaped)
			}
			if due, err := w.outbox.CountDue(ctx); err == nil {
				w.metrics.RecordBacklog(ctx, due)
			}
		}
	}
}

// PollOnce claims one batch of due tasks and dispatches it. Exposed for the
// worker loop and for tests; a zero-size claim is a cheap no-op.
func (w *Worker) PollOnce(ctx context.Context) error {
	tasks, err := w.outbox.ClaimDue(ctx, w.batchSize)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}

	issues, err := w.loadIssues(ctx, tasks)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, task := range tasks {
		g.Go(func() error {
			w.processTask(gctx, task, issues[task.IssueID])
			// Task outcomes are recorded on the task row; never fail the
			// batch for one recipient.
			return nil
		})
	}
	return g.Wait()
}

// loadIssues fetches each distinct issue in the batch once. Batches are
// dominated by a single issue right after a publish, so this is usually one
// query for the whole batch.
func (w *Worker) loadIssues(ctx context.Context, tasks []*types.OutboxTask) (map[string]*types.NewsletterIssue, error) {
	issues := make(map[string]*types.NewsletterIssue)
	for _, task := range tasks {
		if _, ok := issues[task.IssueID]; ok {
			continue
		}
		issue, err := w.issues.GetByID(ctx, task.IssueID)
		if err != nil {
			return nil, fmt.Errorf("load issue %s: %w", task.IssueID, err)
		}
		issues[task.IssueID] = issue
	}
	return issues, nil
}

// processTask sends one task and applies the outcome transition. The claim
// (in_flight) is held for the duration; every exit path below releases it
// through exactly one conditional update.
func (w *Worker) processTask(ctx context.Context, task *types.OutboxTask, issue *types.NewsletterIssue) {
	logger := w.logger.With(
		slog.String("task_id", task.ID),
		slog.String("issue_id", task.IssueID),
		slog.Int("attempt", task.AttemptCount+1),
	)

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	defer cancel()

	start := w.clock.Now()
	msgID, err := w.sender.Send(sendCtx, types.SendInput{
		To:          task.Recipient,
		From:        w.from,
		Subject:     issue.Title,
		BodyHTML:    issue.BodyHTML,
		BodyText:    issue.BodyText,
		ReferenceID: task.ID,
	})
	w.metrics.RecordSendLatency(ctx, w.sender.Name(), w.clock.Now().Sub(start))

	if err == nil {
		if err := w.outbox.MarkSent(ctx, task.ID); err != nil {
			logger.Error("failed to record sent transition", slog.Any("error", err))
			return
		}
		w.metrics.RecordSend(ctx, w.sender.Name(), ResultSent)
		logger.Info("task sent", slog.String("provider_message_id", msgID))
		return
	}

	if IsPermanentDeliveryError(err) {
		if err := w.outbox.MarkFailed(ctx, task.ID, err.Error()); err != nil {
			logger.Error("failed to record failed transition", slog.Any("error", err))
			return
		}
		w.metrics.RecordSend(ctx, w.sender.Name(), ResultFailed)
		logger.Warn("task failed permanently", slog.Any("error", err))
		return
	}

	attempts := task.AttemptCount + 1
	if w.policy.Exhausted(attempts) {
		if err := w.outbox.MarkDeadLettered(ctx, task.ID, attempts, err.Error()); err != nil {
			logger.Error("failed to record dead-letter transition", slog.Any("error", err))
			return
		}
		w.metrics.RecordSend(ctx, w.sender.Name(), ResultDeadLettered)
		logger.Error("task dead-lettered", slog.Any("error", err))
		return
	}

	next := w.clock.Now().Add(w.policy.Backoff(attempts))
	if err := w.outbox.Reschedule(ctx, task.ID, attempts, next, err.Error()); err != nil {
		logger.Error("failed to record reschedule", slog.Any("error", err))
		return
	}
	w.metrics.RecordSend(ctx, w.sender.Name(), ResultRescheduled)
	logger.Warn("task rescheduled",
		slog.Time("next_attempt_at", next),
		slog.Any("error", err),
	)
}
