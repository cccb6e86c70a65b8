// Package schedule_test tests cron job registration and execution.
package schedule_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/reflection-service/internal/schedule"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "schedule_test.log")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = log.Close()
	})

	return log
}

func TestNew_RejectsUnknownTimezone(t *testing.T) {
	t.Parallel()

	_, err := schedule.New("Not/AZone", testLogger(t))
	require.Error(t, err)
}

func TestAdd_RejectsInvalidExpression(t *testing.T) {
	t.Parallel()

	scheduler, err := schedule.New("UTC", testLogger(t))
	require.NoError(t, err)

	err = scheduler.Add("bad", "not a cron", func(_ context.Context) error { return nil })
	require.Error(t, err)
}

func TestAdd_AcceptsDailyExpressions(t *testing.T) {
	t.Parallel()

	scheduler, err := schedule.New("America/New_York", testLogger(t))
	require.NoError(t, err)

	noop := func(_ context.Context) error { return nil }

	require.NoError(t, scheduler.Add("morning", "0 7 * * *", noop))
	require.NoError(t, scheduler.Add("evening", "0 22 * * *", noop))
	require.NoError(t, scheduler.Add("check-in", "0 16 * * *", noop))
}

func TestRun_FiresJobAtTick(t *testing.T) {
	t.Parallel()

	scheduler, err := schedule.New("UTC", testLogger(t))
	require.NoError(t, err)

	var fired atomic.Int32

	// Every-second expression keeps the test fast.
	require.NoError(t, scheduler.Add("tick", "* * * * * *", func(_ context.Context) error {
		fired.Add(1)

		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, scheduler.Run(ctx))
	assert.GreaterOrEqual(t, fired.Load(), int32(1))
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	scheduler, err := schedule.New("UTC", testLogger(t))
	require.NoError(t, err)

	require.NoError(t, scheduler.Add("never", "0 0 1 1 *", func(_ context.Context) error {
		t.Error("job should not fire")

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)

	go func() {
		done <- scheduler.Run(ctx)
	}()

	select {
	case runErr := <-done:
		require.NoError(t, runErr)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}
