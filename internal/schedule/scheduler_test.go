package schedule

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type blockingJob struct {
	runs    atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (j *blockingJob) Name() string { return "blocking" }

func (j *blockingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.started != nil {
		j.started <- struct{}{}
		<-j.release
	}
	return nil
}

func TestCronSchedulerAddJob(t *testing.T) {
	s := NewCronScheduler()
	require.Error(t, s.AddJob(&blockingJob{}, "not a spec"))
	require.NoError(t, s.AddJob(&blockingJob{}, "@every 5m"))
	require.Error(t, s.AddJob(&blockingJob{}, "*/5 * * * *"))
	require.False(t, s.RunNow("missing"))
}

func TestCronSchedulerSkipsOverlappingRuns(t *testing.T) {
	s := NewCronScheduler()
	j := &blockingJob{started: make(chan struct{}), release: make(chan struct{})}
	require.NoError(t, s.AddJob(j, "0 3 * * *"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RunNow(j.Name())
	}()
	<-j.started
	require.True(t, s.RunNow(j.Name()))
	require.Equal(t, int32(1), j.runs.Load())
	close(j.release)
	<-done
}
