package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vex-flows/backend/pkg/models"
)

type fakeRunSource struct {
	mu       sync.Mutex
	queued   []*models.FlowRun
	claimErr error
	stale    int64
	staleErr error

	claimCalls   []int
	requeueCalls []time.Duration
}

func (f *fakeRunSource) ClaimRuns(ctx context.Context, limit int) ([]*models.FlowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimCalls = append(f.claimCalls, limit)
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	n := limit
	if n > len(f.queued) {
		n = len(f.queued)
	}
	claimed := f.queued[:n]
	f.queued = f.queued[n:]
	for _, run := range claimed {
		run.Status = models.RunStatusRunning
	}
	return claimed, nil
}

func (f *fakeRunSource) RequeueStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeueCalls = append(f.requeueCalls, olderThan)
	return f.stale, f.staleErr
}

type fakeExecutor struct {
	mu       sync.Mutex
	executed []int64
	panicOn  int64
}

func (f *fakeExecutor) Execute(ctx context.Context, run *models.FlowRun) {
	f.mu.Lock()
	f.executed = append(f.executed, run.ID)
	f.mu.Unlock()
	if f.panicOn != 0 && run.ID == f.panicOn {
		panic("boom")
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func queuedRun(id int64) *models.FlowRun {
	flowID := id * 10
	return &models.FlowRun{ID: id, FlowID: &flowID, OrganizationID: "org-1", Status: models.RunStatusQueued}
}

func TestTickExecutesClaimedBatchInOrder(t *testing.T) {
	source := &fakeRunSource{queued: []*models.FlowRun{queuedRun(1), queuedRun(2), queuedRun(3)}}
	exec := &fakeExecutor{}
	s := New(source, exec, Config{BatchSize: 2}, testLogger())

	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, []int64{1, 2}, exec.executed)
	assert.Equal(t, []int{2}, source.claimCalls)

	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, []int64{1, 2, 3}, exec.executed)
}

func TestTickPropagatesClaimErrors(t *testing.T) {
	source := &fakeRunSource{claimErr: errors.New("connection refused")}
	s := New(source, &fakeExecutor{}, Config{}, testLogger())

	err := s.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestTickSkipsReaperByDefault(t *testing.T) {
	source := &fakeRunSource{}
	s := New(source, &fakeExecutor{}, Config{}, testLogger())

	require.NoError(t, s.Tick(context.Background()))
	assert.Empty(t, source.requeueCalls)
}

func TestTickRequeuesStaleRunsWhenConfigured(t *testing.T) {
	source := &fakeRunSource{stale: 2}
	s := New(source, &fakeExecutor{}, Config{StaleAfter: 5 * time.Minute}, testLogger())

	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, []time.Duration{5 * time.Minute}, source.requeueCalls)
}

func TestTickSurvivesReaperFailure(t *testing.T) {
	source := &fakeRunSource{
		staleErr: errors.New("deadlock detected"),
		queued:   []*models.FlowRun{queuedRun(1)},
	}
	exec := &fakeExecutor{}
	s := New(source, exec, Config{StaleAfter: time.Minute}, testLogger())

	require.NoError(t, s.Tick(context.Background()), "reaper failures must not block claiming")
	assert.Equal(t, []int64{1}, exec.executed)
}

func TestStartRefusesSecondCall(t *testing.T) {
	s := New(&fakeRunSource{}, &fakeExecutor{}, Config{}, testLogger())

	require.NoError(t, s.Start())
	defer s.Stop(context.Background())

	err := s.Start()
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestStartRejectsBadCronExpression(t *testing.T) {
	s := New(&fakeRunSource{}, &fakeExecutor{}, Config{Cron: "not a cron"}, testLogger())
	require.Error(t, s.Start())
}

func TestStopWithoutStartIsNoOp(t *testing.T) {
	s := New(&fakeRunSource{}, &fakeExecutor{}, Config{}, testLogger())
	require.NoError(t, s.Stop(context.Background()))
}

func TestTickJobRecoversFromPanic(t *testing.T) {
	source := &fakeRunSource{queued: []*models.FlowRun{queuedRun(1), queuedRun(2)}}
	exec := &fakeExecutor{panicOn: 1}
	s := New(source, exec, Config{}, testLogger())

	assert.NotPanics(t, func() { s.tickJob() })
	assert.Equal(t, []int64{1}, exec.executed)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultCron, cfg.Cron)
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, DefaultTickTimeout, cfg.TickTimeout)
	assert.Zero(t, cfg.StaleAfter)
}
