package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"letterdrop/internal/types"
)

// mockOutbox implements the two OutboxRepository methods the archiver uses
// plus stubs for the rest.
type mockOutbox struct {
	mock.Mock
}

func (m *mockOutbox) FanOut(ctx context.Context, issueID string) (int64, error) {
	args := m.Called(ctx, issueID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockOutbox) ClaimDue(ctx context.Context, limit int) ([]*types.OutboxTask, error) {
	args := m.Called(ctx, limit)
	return nil, args.Error(1)
}

func (m *mockOutbox) MarkSent(ctx context.Context, taskID string) error {
	return m.Called(ctx, taskID).Error(0)
}

func (m *mockOutbox) MarkFailed(ctx context.Context, taskID string, reason string) error {
	return m.Called(ctx, taskID, reason).Error(0)
}

func (m *mockOutbox) Reschedule(ctx context.Context, taskID string, attemptCount int, nextAttemptAt time.Time, reason string) error {
	return m.Called(ctx, taskID, attemptCount, nextAttemptAt, reason).Error(0)
}

func (m *mockOutbox) MarkDeadLettered(ctx context.Context, taskID string, attemptCount int, reason string) error {
	return m.Called(ctx, taskID, attemptCount, reason).Error(0)
}

func (m *mockOutbox) ReapExpired(ctx context.Context, lease time.Duration) (int64, error) {
	args := m.Called(ctx, lease)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockOutbox) CountDue(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockOutbox) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.OutboxTask, error) {
	args := m.Called(ctx, cutoff, limit)
	if t := args.Get(0); t != nil {
		return t.([]*types.OutboxTask), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOutbox) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).(int64), args.Error(1)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var archiveNow = time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC)

func terminalTask(id string, status types.TaskStatus) *types.OutboxTask {
	return &types.OutboxTask{
		ID:           id,
		IssueID:      "issue_1",
		Recipient:    id + "@example.com",
		Status:       status,
		AttemptCount: 1,
		CreatedAt:    archiveNow.Add(-100 * 24 * time.Hour),
	}
}

func newTestArchiver(outbox *mockOutbox, dir string, batchSize int) *Archiver {
	return New(Config{
		Outbox:    outbox,
		Clock:     fixedClock{now: archiveNow},
		Dir:       dir,
		Retention: 90 * 24 * time.Hour,
		BatchSize: batchSize,
	})
}

// readArchive decodes every NDJSON line from the gzip file at path.
func readArchive(t *testing.T, path string) []*types.OutboxTask {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gzr.Close()

	var tasks []*types.OutboxTask
	scanner := bufio.NewScanner(gzr)
	for scanner.Scan() {
		var task types.OutboxTask
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &task))
		tasks = append(tasks, &task)
	}
	require.NoError(t, scanner.Err())
	return tasks
}

func TestRun_ArchivesAndDeletes(t *testing.T) {
	dir := t.TempDir()
	outbox := new(mockOutbox)
	wantCutoff := archiveNow.Add(-90 * 24 * time.Hour)

	tasks := []*types.OutboxTask{
		terminalTask("task_1", types.TaskSent),
		terminalTask("task_2", types.TaskDeadLettered),
	}
	outbox.On("ListTerminalBefore", mock.Anything, wantCutoff, 1000).Return(tasks, nil).Once()
	outbox.On("DeleteByIDs", mock.Anything, []string{"task_1", "task_2"}).Return(int64(2), nil)

	a := newTestArchiver(outbox, dir, 0)
	result, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), result.TasksArchived)
	assert.Equal(t, int64(2), result.TasksDeleted)
	assert.Equal(t, filepath.Join(dir, "outbox-tasks-20260830T060000Z.ndjson.gz"), result.FilePath)

	archived := readArchive(t, result.FilePath)
	require.Len(t, archived, 2)
	assert.Equal(t, "task_1", archived[0].ID)
	assert.Equal(t, types.TaskSent, archived[0].Status)
	assert.Equal(t, "task_2@example.com", archived[1].Recipient)

	outbox.AssertExpectations(t)
}

func TestRun_NothingToArchive(t *testing.T) {
	dir := t.TempDir()
	outbox := new(mockOutbox)
	outbox.On("ListTerminalBefore", mock.Anything, mock.Anything, 1000).
		Return([]*types.OutboxTask(nil), nil)

	a := newTestArchiver(outbox, dir, 0)
	result, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, result.TasksArchived)
	assert.Empty(t, result.FilePath)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no archive file should be created for an empty run")
	outbox.AssertNotCalled(t, "DeleteByIDs", mock.Anything, mock.Anything)
}

func TestRun_MultipleBatches(t *testing.T) {
	dir := t.TempDir()
	outbox := new(mockOutbox)

	batch1 := []*types.OutboxTask{
		terminalTask("task_1", types.TaskSent),
		terminalTask("task_2", types.TaskSent),
	}
	batch2 := []*types.OutboxTask{
		terminalTask("task_3", types.TaskFailed),
	}

	outbox.On("ListTerminalBefore", mock.Anything, mock.Anything, 2).Return(batch1, nil).Once()
	outbox.On("ListTerminalBefore", mock.Anything, mock.Anything, 2).Return(batch2, nil).Once()
	outbox.On("DeleteByIDs", mock.Anything, []string{"task_1", "task_2"}).Return(int64(2), nil)
	outbox.On("DeleteByIDs", mock.Anything, []string{"task_3"}).Return(int64(1), nil)

	a := newTestArchiver(outbox, dir, 2)
	result, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), result.TasksArchived)
	assert.Equal(t, int64(3), result.TasksDeleted)

	archived := readArchive(t, result.FilePath)
	assert.Len(t, archived, 3)
	outbox.AssertExpectations(t)
}

func TestRun_DeleteFailureKeepsFlushedData(t *testing.T) {
	dir := t.TempDir()
	outbox := new(mockOutbox)

	tasks := []*types.OutboxTask{terminalTask("task_1", types.TaskSent)}
	outbox.On("ListTerminalBefore", mock.Anything, mock.Anything, 1000).Return(tasks, nil).Once()
	outbox.On("DeleteByIDs", mock.Anything, []string{"task_1"}).
		Return(int64(0), types.NewAppError(types.ErrCodeInternalDB, "delete failed", nil))

	a := newTestArchiver(outbox, dir, 0)
	result, err := a.Run(context.Background())
	require.Error(t, err)

	// The batch was flushed before the delete was attempted.
	archived := readArchive(t, result.FilePath)
	assert.Len(t, archived, 1)
	assert.Zero(t, result.TasksDeleted)
}
