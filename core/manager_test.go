package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerAddGet(t *testing.T) {
	m := NewManager(nil)
	a := NewShared(&hooks{}, Options{Tag: "a"})

	require.NoError(t, m.Add(a))
	assert.ErrorIs(t, m.Add(a), ErrDuplicateTag)
	assert.True(t, m.Has(a.Tag()))

	got, err := m.Get(a.Tag())
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = m.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownActor)

	require.NoError(t, m.Remove(a.Tag()))
	assert.ErrorIs(t, m.Remove(a.Tag()), ErrUnknownActor)
	assert.Empty(t, m.Tags())
}

func TestManagerReap(t *testing.T) {
	m := NewManager(nil)
	once := NewShared(&hooks{}, Options{Tag: "once"})
	loop := NewShared(&hooks{}, Options{Tag: "loop", Interval: 10 * time.Millisecond})
	require.NoError(t, m.Add(once))
	require.NoError(t, m.Add(loop))

	_, err := once.Start(context.Background())
	require.NoError(t, err)
	_, err = loop.Start(context.Background())
	require.NoError(t, err)
	waitDone(t, once)

	assert.Equal(t, []string{once.Tag()}, m.Reap())
	assert.Equal(t, []string{loop.Tag()}, m.Tags())

	require.NoError(t, m.StopAll(context.Background()))
	assert.Equal(t, StateStopped, loop.State())
	assert.Empty(t, m.Tags())
}

func TestManagerAsActor(t *testing.T) {
	m := NewManager(nil)
	worker := NewShared(&hooks{}, Options{Interval: 10 * time.Millisecond})
	require.NoError(t, m.Add(worker))
	_, err := worker.Start(context.Background())
	require.NoError(t, err)

	supervisor := NewShared(m, Options{Tag: "manager", Interval: 10 * time.Millisecond})
	_, err = supervisor.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return supervisor.State() == StateRunning }, time.Second, 5*time.Millisecond)

	supervisor.ForceStop()
	waitDone(t, supervisor)
	waitDone(t, worker)

	assert.NoError(t, supervisor.Err())
	history := worker.History()
	assert.Equal(t, StateForceStopping, history[len(history)-3])
}

func TestManagerStopTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	stuck := NewShared(&hooks{stop: func(*Self) error {
		<-release
		return nil
	}}, Options{Tag: "stuck", Interval: 10 * time.Millisecond})
	_, err := stuck.Start(context.Background())
	require.NoError(t, err)

	m := NewManager(nil).SetStopTimeout(20 * time.Millisecond)
	require.NoError(t, m.Add(stuck))

	supervisor := NewShared(m, Options{Tag: "manager", Interval: 10 * time.Millisecond})
	_, err = supervisor.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return supervisor.State() == StateRunning }, time.Second, 5*time.Millisecond)

	supervisor.ForceStop()
	waitDone(t, supervisor)

	assert.ErrorIs(t, supervisor.Err(), context.DeadlineExceeded)
	assert.NotEqual(t, StateStopped, stuck.State())
}
