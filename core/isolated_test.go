package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/bobnet/store"
)

func init() {
	Register("test-once", func() Behavior { return BaseBehavior{} })
	Register("test-ticker", func() Behavior { return BaseBehavior{} })
	Register("test-failing", func() Behavior {
		return &hooks{interval: func(*Self) error { return errors.New("interval failed") }}
	})
	Register("test-bad-stop", func() Behavior {
		return &hooks{stop: func(*Self) error { return errors.New("stop failed") }}
	})
}

func TestIsolatedActorNoInterval(t *testing.T) {
	s := store.New()
	a, err := NewIsolated("test-once", Options{Store: s})
	require.NoError(t, err)
	assert.Equal(t, ModeIsolated, a.Mode())
	assert.Equal(t, -1, a.ExitCode())

	tag, err := a.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a.Tag(), tag)

	waitDone(t, a)
	assert.Equal(t, []State{StateInit, StateStarting, StateRunning, StateStopping, StateStopped}, a.History())
	assert.Equal(t, 0, a.ExitCode())

	values, err := s.Get(HistoryPath(a.ID()))
	require.NoError(t, err)
	assert.Len(t, values, 5)
}

func TestIsolatedActorForceStop(t *testing.T) {
	a, err := NewIsolated("test-ticker", Options{Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	_, err = a.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return a.State() == StateRunning }, 10*time.Second, 10*time.Millisecond)

	a.ForceStop()
	waitDone(t, a)

	assert.Equal(t, []State{
		StateInit, StateStarting, StateRunning, StateForceStopping, StateStopping, StateStopped,
	}, a.History())
	assert.Equal(t, 0, a.ExitCode())
}

func TestIsolatedActorFailureExitCode(t *testing.T) {
	tests := []struct {
		name    string
		history []State
	}{
		{"test-failing", []State{StateInit, StateStarting, StateRunning, StateFailed, StateStopping, StateStopped}},
		{"test-bad-stop", []State{StateInit, StateStarting, StateRunning, StateStopping, StateStopped}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewIsolated(tt.name, Options{})
			require.NoError(t, err)

			_, err = a.Start(context.Background())
			require.NoError(t, err)
			waitDone(t, a)

			assert.Equal(t, tt.history, a.History())
			assert.Equal(t, 1, a.ExitCode())
		})
	}
}

func TestIsolatedActorUnknownBehavior(t *testing.T) {
	_, err := NewIsolated("nobody", Options{})
	assert.ErrorIs(t, err, ErrUnknownBehavior)
}

func TestIsolatedActorSpawnFailure(t *testing.T) {
	a, err := NewIsolated("test-once", Options{Executable: "/nonexistent/bobnet"})
	require.NoError(t, err)

	_, err = a.Start(context.Background())
	assert.Error(t, err)
	waitDone(t, a)
	assert.Equal(t, []State{StateInit, StateFailed, StateStopped}, a.History())
	assert.Equal(t, 1, a.ExitCode())

	_, err = a.Start(context.Background())
	assert.ErrorIs(t, err, ErrState)
}
