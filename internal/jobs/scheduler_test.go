package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emovoice/internal/logging"
)

func TestAddRejectsBadSpec(t *testing.T) {
	s := NewScheduler(time.Second, logging.Discard())
	err := s.Add("prune", "every tuesday", func(context.Context) error { return nil })
	assert.Error(t, err)
	assert.NoError(t, s.Add("prune", "@hourly", func(context.Context) error { return nil }))
}

func TestRunNowAppliesTimeout(t *testing.T) {
	s := NewScheduler(20*time.Millisecond, logging.Discard())
	var deadline bool
	s.RunNow("slow", func(ctx context.Context) error {
		_, deadline = ctx.Deadline()
		<-ctx.Done()
		return ctx.Err()
	})
	assert.True(t, deadline)
}

func TestScheduledJobRuns(t *testing.T) {
	s := NewScheduler(time.Second, logging.Discard())
	var calls atomic.Int32
	require.NoError(t, s.Add("tick", "@every 1s", func(context.Context) error {
		calls.Add(1)
		return errors.New("logged, not fatal")
	}))
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestStopCancelsJobContext(t *testing.T) {
	s := NewScheduler(time.Minute, logging.Discard())
	s.Stop()
	var err error
	s.RunNow("after-stop", func(ctx context.Context) error {
		err = ctx.Err()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
