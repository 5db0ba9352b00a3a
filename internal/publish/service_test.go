package publish

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"letterdrop/internal/types"
)

// --- Mocks ---

type mockIssueRepo struct {
	mock.Mock
}

func (m *mockIssueRepo) Create(ctx context.Context, issue *types.NewsletterIssue) error {
	return m.Called(ctx, issue).Error(0)
}

func (m *mockIssueRepo) GetByID(ctx context.Context, id string) (*types.NewsletterIssue, error) {
	args := m.Called(ctx, id)
	if i := args.Get(0); i != nil {
		return i.(*types.NewsletterIssue), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockOutboxRepo struct {
	mock.Mock
}

func (m *mockOutboxRepo) FanOut(ctx context.Context, issueID string) (int64, error) {
	args := m.Called(ctx, issueID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockOutboxRepo) ClaimDue(ctx context.Context, limit int) ([]*types.OutboxTask, error) {
	args := m.Called(ctx, limit)
	if t := args.Get(0); t != nil {
		return t.([]*types.OutboxTask), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOutboxRepo) MarkSent(ctx context.Context, taskID string) error {
	return m.Called(ctx, taskID).Error(0)
}

func (m *mockOutboxRepo) MarkFailed(ctx context.Context, taskID string, reason string) error {
	return m.Called(ctx, taskID, reason).Error(0)
}

func (m *mockOutboxRepo) Reschedule(ctx context.Context, taskID string, attemptCount int, nextAttemptAt time.Time, reason string) error {
	return m.Called(ctx, taskID, attemptCount, nextAttemptAt, reason).Error(0)
}

func (m *mockOutboxRepo) MarkDeadLettered(ctx context.Context, taskID string, attemptCount int, reason string) error {
	return m.Called(ctx, taskID, attemptCount, reason).Error(0)
}

func (m *mockOutboxRepo) ReapExpired(ctx context.Context, lease time.Duration) (int64, error) {
	args := m.Called(ctx, lease)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockOutboxRepo) CountDue(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockOutboxRepo) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.OutboxTask, error) {
	args := m.Called(ctx, cutoff, limit)
	if t := args.Get(0); t != nil {
		return t.([]*types.OutboxTask), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOutboxRepo) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).(int64), args.Error(1)
}

type mockIdempotencyRepo struct {
	mock.Mock
}

func (m *mockIdempotencyRepo) Claim(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *mockIdempotencyRepo) Get(ctx context.Context, key string) (*types.IdempotencyRecord, error) {
	args := m.Called(ctx, key)
	if r := args.Get(0); r != nil {
		return r.(*types.IdempotencyRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockIdempotencyRepo) SetResponse(ctx context.Context, key string, issueID string, status int, body []byte) error {
	return m.Called(ctx, key, issueID, status, body).Error(0)
}

type fakeRegistry struct {
	issues      *mockIssueRepo
	outbox      *mockOutboxRepo
	idempotency *mockIdempotencyRepo
}

func (r *fakeRegistry) Subscribers() types.SubscriberRepository  { return nil }
func (r *fakeRegistry) Issues() types.IssueRepository            { return r.issues }
func (r *fakeRegistry) Outbox() types.OutboxRepository           { return r.outbox }
func (r *fakeRegistry) Idempotency() types.IdempotencyRepository { return r.idempotency }

type fakeTxManager struct {
	registry types.RepositoryRegistry
	// commits counts successful callback executions.
	commits int
}

func (m *fakeTxManager) RunInTx(ctx context.Context, fn func(ctx context.Context, repos types.RepositoryRegistry) error) error {
	err := fn(ctx, m.registry)
	if err == nil {
		m.commits++
	}
	return err
}

func newTestService(registry *fakeRegistry) (*Service, *fakeTxManager) {
	tx := &fakeTxManager{registry: registry}
	svc := NewService(ServiceConfig{
		TxManager: tx,
		Clock:     fixedClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)},
	})
	return svc, tx
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func validDraft() types.IssueDraft {
	return types.IssueDraft{
		Title:    "August Update",
		BodyHTML: "<p>Hello</p>",
		BodyText: "Hello",
	}
}

// --- Tests ---

func TestPublish_FreshKeyFansOut(t *testing.T) {
	registry := &fakeRegistry{
		issues:      new(mockIssueRepo),
		outbox:      new(mockOutboxRepo),
		idempotency: new(mockIdempotencyRepo),
	}
	svc, tx := newTestService(registry)

	registry.idempotency.On("Claim", mock.Anything, "pub-key-1").Return(true, nil)
	registry.issues.On("Create", mock.Anything, mock.MatchedBy(func(issue *types.NewsletterIssue) bool {
		return strings.HasPrefix(issue.ID, "issue_") && issue.Title == "August Update"
	})).Return(nil)
	registry.outbox.On("FanOut", mock.Anything, mock.AnythingOfType("string")).Return(int64(42), nil)
	registry.idempotency.On("SetResponse", mock.Anything, "pub-key-1",
		mock.AnythingOfType("string"), http.StatusAccepted, mock.Anything).Return(nil)

	result, err := svc.Publish(context.Background(), validDraft(), "pub-key-1")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(result.IssueID, "issue_"))
	assert.Equal(t, int64(42), result.TasksEnqueued)
	assert.False(t, result.Deduplicated)
	assert.Equal(t, 1, tx.commits)
	registry.idempotency.AssertExpectations(t)
	registry.outbox.AssertExpectations(t)
}

func TestPublish_SnapshotMatchesResult(t *testing.T) {
	registry := &fakeRegistry{
		issues:      new(mockIssueRepo),
		outbox:      new(mockOutboxRepo),
		idempotency: new(mockIdempotencyRepo),
	}
	svc, _ := newTestService(registry)

	var snapshot []byte
	registry.idempotency.On("Claim", mock.Anything, "pub-key-1").Return(true, nil)
	registry.issues.On("Create", mock.Anything, mock.Anything).Return(nil)
	registry.outbox.On("FanOut", mock.Anything, mock.Anything).Return(int64(7), nil)
	registry.idempotency.On("SetResponse", mock.Anything, "pub-key-1", mock.Anything,
		http.StatusAccepted, mock.Anything).
		Run(func(args mock.Arguments) { snapshot = args.Get(4).([]byte) }).
		Return(nil)

	result, err := svc.Publish(context.Background(), validDraft(), "pub-key-1")
	require.NoError(t, err)

	var stored types.PublishResult
	require.NoError(t, json.Unmarshal(snapshot, &stored))
	assert.Equal(t, result.IssueID, stored.IssueID)
	assert.Equal(t, int64(7), stored.TasksEnqueued)
}

func TestPublish_DuplicateKeyReturnsCachedResponse(t *testing.T) {
	registry := &fakeRegistry{
		issues:      new(mockIssueRepo),
		outbox:      new(mockOutboxRepo),
		idempotency: new(mockIdempotencyRepo),
	}
	svc, _ := newTestService(registry)

	cached, _ := json.Marshal(types.PublishResult{IssueID: "issue_prev", TasksEnqueued: 42})
	registry.idempotency.On("Claim", mock.Anything, "pub-key-1").Return(false, nil)
	registry.idempotency.On("Get", mock.Anything, "pub-key-1").Return(&types.IdempotencyRecord{
		Key:            "pub-key-1",
		IssueID:        "issue_prev",
		ResponseStatus: http.StatusAccepted,
		ResponseBody:   cached,
	}, nil)

	result, err := svc.Publish(context.Background(), validDraft(), "pub-key-1")
	require.NoError(t, err)

	assert.Equal(t, "issue_prev", result.IssueID)
	assert.Equal(t, int64(42), result.TasksEnqueued)
	assert.True(t, result.Deduplicated)
	registry.issues.AssertNotCalled(t, "Create")
	registry.outbox.AssertNotCalled(t, "FanOut", mock.Anything, mock.Anything)
}

func TestPublish_UnpopulatedKeyIsInFlightConflict(t *testing.T) {
	registry := &fakeRegistry{
		issues:      new(mockIssueRepo),
		outbox:      new(mockOutboxRepo),
		idempotency: new(mockIdempotencyRepo),
	}
	svc, _ := newTestService(registry)

	registry.idempotency.On("Claim", mock.Anything, "pub-key-1").Return(false, nil)
	registry.idempotency.On("Get", mock.Anything, "pub-key-1").Return(&types.IdempotencyRecord{
		Key: "pub-key-1",
	}, nil)

	_, err := svc.Publish(context.Background(), validDraft(), "pub-key-1")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeConflictIdempotency, types.ErrorCodeOf(err))
}

func TestPublish_MissingKeyHeader(t *testing.T) {
	svc, _ := newTestService(&fakeRegistry{})

	_, err := svc.Publish(context.Background(), validDraft(), "")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeValidationIdempotencyKey, types.ErrorCodeOf(err))
}

func TestPublish_InvalidDraft(t *testing.T) {
	svc, _ := newTestService(&fakeRegistry{})

	_, err := svc.Publish(context.Background(), types.IssueDraft{Title: "No bodies"}, "pub-key-1")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeValidationMissingField, types.ErrorCodeOf(err))
}

func TestPublish_FanOutErrorRollsBack(t *testing.T) {
	registry := &fakeRegistry{
		issues:      new(mockIssueRepo),
		outbox:      new(mockOutboxRepo),
		idempotency: new(mockIdempotencyRepo),
	}
	svc, tx := newTestService(registry)

	registry.idempotency.On("Claim", mock.Anything, "pub-key-1").Return(true, nil)
	registry.issues.On("Create", mock.Anything, mock.Anything).Return(nil)
	registry.outbox.On("FanOut", mock.Anything, mock.Anything).
		Return(int64(0), types.NewAppError(types.ErrCodeInternalDB, "deadlock", nil))

	_, err := svc.Publish(context.Background(), validDraft(), "pub-key-1")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInternalDB, types.ErrorCodeOf(err))
	assert.Zero(t, tx.commits, "failed callback must not commit")
	registry.idempotency.AssertNotCalled(t, "SetResponse",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPublish_ZeroConfirmedSubscribers(t *testing.T) {
	registry := &fakeRegistry{
		issues:      new(mockIssueRepo),
		outbox:      new(mockOutboxRepo),
		idempotency: new(mockIdempotencyRepo),
	}
	svc, _ := newTestService(registry)

	registry.idempotency.On("Claim", mock.Anything, "pub-key-1").Return(true, nil)
	registry.issues.On("Create", mock.Anything, mock.Anything).Return(nil)
	registry.outbox.On("FanOut", mock.Anything, mock.Anything).Return(int64(0), nil)
	registry.idempotency.On("SetResponse", mock.Anything, "pub-key-1", mock.Anything,
		http.StatusAccepted, mock.Anything).Return(nil)

	result, err := svc.Publish(context.Background(), validDraft(), "pub-key-1")
	require.NoError(t, err, "publishing to an empty audience succeeds")
	assert.Zero(t, result.TasksEnqueued)
}
