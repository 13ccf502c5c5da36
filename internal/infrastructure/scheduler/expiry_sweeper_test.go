package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []time.Time
	err   error
	block chan struct{}
}

func (f *fakeRunner) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, now)
	block, err := f.block, f.err
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return 1, err
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestNewExpirySweeper_Validation(t *testing.T) {
	_, err := NewExpirySweeper(ExpirySweeperConfig{}, &fakeRunner{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewExpirySweeper(ExpirySweeperConfig{Interval: time.Second}, nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	s, err := NewExpirySweeper(ExpirySweeperConfig{Interval: time.Second}, &fakeRunner{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, time.Second, s.config.Timeout)
}

func TestExpirySweeper_RunsOnStartAndOnTick(t *testing.T) {
	runner := &fakeRunner{}
	s, err := NewExpirySweeper(ExpirySweeperConfig{Interval: 10 * time.Millisecond, RunOnStart: true}, runner, zap.NewNop())
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()), "second start is a no-op")

	assert.Eventually(t, func() bool { return runner.callCount() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()), "second stop is a no-op")

	stopped := runner.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, runner.callCount(), "no sweeps after stop")
	assert.Equal(t, fixed, runner.calls[0])
	assert.GreaterOrEqual(t, s.Runs(), 3)
}

func TestExpirySweeper_ErrorsDoNotStopLoop(t *testing.T) {
	runner := &fakeRunner{err: errors.New("store unavailable")}
	s, err := NewExpirySweeper(ExpirySweeperConfig{Interval: 5 * time.Millisecond}, runner, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runner.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
}

func TestExpirySweeper_StopCancelsInflightSweep(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s, err := NewExpirySweeper(ExpirySweeperConfig{Interval: time.Hour, RunOnStart: true}, runner, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runner.callCount() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
