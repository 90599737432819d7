package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/archive/biz"
	"github.com/lk2023060901/glacier-archiver/internal/archive/progress"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	flushes  atomic.Int32
	cleans   atomic.Int32
	inFlight atomic.Int32
	overlap  atomic.Bool
	block    chan struct{}
}

func (r *fakeRunner) RunPeriodicAction(_ context.Context, rep progress.PeriodicReporter) {
	if r.inFlight.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.inFlight.Add(-1)
	if r.block != nil {
		<-r.block
	}
	rep.PendingActionSucceeded("archive/n/20240101000000000.zip?fileName=a")
	rep.AllPendingActionsProcessed()
	r.flushes.Add(1)
}

func (r *fakeRunner) CleanCache(context.Context) (biz.CleanReport, error) {
	r.cleans.Add(1)
	return biz.CleanReport{}, nil
}

func TestSchedulerRunsBothJobs(t *testing.T) {
	runner := &fakeRunner{}
	rec := progress.NewRecorder()
	s := NewScheduler(runner, rec, SchedulerConfig{
		FlushInterval: 10 * time.Millisecond,
		CleanInterval: 15 * time.Millisecond,
		RunOnStart:    true,
	}, logger.NewNop())

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start must fail")

	require.Eventually(t, func() bool {
		return runner.flushes.Load() >= 2 && runner.cleans.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	flushes, cleans := s.Runs()
	assert.GreaterOrEqual(t, flushes, int64(2))
	assert.GreaterOrEqual(t, cleans, int64(2))
	assert.GreaterOrEqual(t, rec.Count(progress.KindAllProcessed), 2)

	settled := runner.flushes.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, runner.flushes.Load(), "no run after stop")
}

func TestSchedulerSkipsOverlappingFlush(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s := NewScheduler(runner, nil, DefaultSchedulerConfig(), logger.NewNop())

	started := make(chan bool)
	go func() { started <- s.Flush(context.Background()) }()
	require.Eventually(t, func() bool { return runner.inFlight.Load() == 1 }, time.Second, time.Millisecond)

	assert.False(t, s.Flush(context.Background()))
	close(runner.block)
	assert.True(t, <-started)
	assert.False(t, runner.overlap.Load())
	assert.True(t, s.Flush(context.Background()))
	assert.Equal(t, int32(2), runner.flushes.Load())
}

func TestSchedulerConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultSchedulerConfig().Validate())
	assert.Error(t, SchedulerConfig{FlushInterval: time.Second}.Validate())

	s := NewScheduler(&fakeRunner{}, nil, SchedulerConfig{}, logger.NewNop())
	assert.Error(t, s.Start(context.Background()))
}
