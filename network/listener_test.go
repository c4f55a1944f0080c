package network

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/bobnet/core"
	"github.com/najoast/bobnet/store"
)

func init() {
	core.Register("network-test", func() core.Behavior { return core.BaseBehavior{} })
}

// echo is a connection behavior writing back every line it reads.
type echo struct {
	conn   net.Conn
	reader *bufio.Reader
}

func (e *echo) OnStart(context.Context, *core.Self) error {
	e.reader = bufio.NewReader(e.conn)
	return nil
}

func (e *echo) OnInterval(context.Context, *core.Self) error {
	e.conn.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
	line, err := e.reader.ReadString('\n')
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	}
	_, err = e.conn.Write([]byte(line))
	return err
}

func (e *echo) OnStop(context.Context, *core.Self) error {
	return e.conn.Close()
}

func echoFactory(s store.Store) ConnFactory {
	return func(conn net.Conn, peer string) (core.Actor, error) {
		return core.NewShared(&echo{conn: conn}, core.Options{
			Tag:      "echo " + peer,
			Interval: time.Millisecond,
			Store:    s,
		}), nil
	}
}

func testOptions(s store.Store) ListenerOptions {
	opts := DefaultListenerOptions()
	opts.AcceptTimeout = 20 * time.Millisecond
	opts.Interval = time.Millisecond
	opts.Grace = 20 * time.Millisecond
	opts.Store = s
	return opts
}

func startListener(t *testing.T, l *Listener) {
	t.Helper()
	_, err := l.Actor().Start(context.Background())
	require.NoError(t, err)

	select {
	case <-l.Ready():
	case <-l.Actor().Done():
		t.Fatalf("listener stopped before binding: %v", l.Actor().Err())
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not bind")
	}
	t.Cleanup(func() {
		l.Actor().ForceStop()
		<-l.Actor().Done()
	})
}

func waitStopped(t *testing.T, a core.Actor) {
	t.Helper()
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("actor %s did not stop, history %v", a.Tag(), a.History())
	}
}

func TestListenerEcho(t *testing.T) {
	s := store.New()
	l := NewListener(testOptions(s), echoFactory(s), nil)
	startListener(t, l)
	require.NotZero(t, l.Addr().Port)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)

	require.Len(t, l.Conns(), 1)
	assert.Equal(t, conn.LocalAddr().String(), l.Conns()[0])

	clients, err := s.Get("__listener__." + l.Actor().ID() + ".clients_")
	require.NoError(t, err)
	assert.Equal(t, []any{conn.LocalAddr().String()}, clients)
}

func TestListenerStopForceStopsConnections(t *testing.T) {
	s := store.New()
	var accepted atomic.Pointer[core.SharedActor]
	factory := func(conn net.Conn, peer string) (core.Actor, error) {
		a := core.NewShared(&echo{conn: conn}, core.Options{Interval: time.Millisecond, Store: s})
		accepted.Store(a)
		return a, nil
	}

	l := NewListener(testOptions(s), factory, nil)
	startListener(t, l)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return len(l.Conns()) == 1 }, 5*time.Second, 5*time.Millisecond)

	l.Actor().ForceStop()
	waitStopped(t, l.Actor())

	a := accepted.Load()
	require.NotNil(t, a)
	waitStopped(t, a)
	assert.Contains(t, a.History(), core.StateForceStopping)
	assert.Empty(t, l.Conns())

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestListenerReapsFinishedConnections(t *testing.T) {
	s := store.New()
	l := NewListener(testOptions(s), echoFactory(s), nil)
	startListener(t, l)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(l.Conns()) == 1 }, 5*time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return len(l.Conns()) == 0 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), l.Stats().Accepted)
}

func TestListenerTimeoutHook(t *testing.T) {
	var ticks atomic.Int32
	hook := func(context.Context) error {
		ticks.Add(1)
		return nil
	}

	l := NewListener(testOptions(nil), echoFactory(nil), hook)
	startListener(t, l)

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, core.StateRunning, l.Actor().State())
}

func TestListenerTimeoutHookFailure(t *testing.T) {
	boom := errors.New("bad inbound")
	l := NewListener(testOptions(nil), echoFactory(nil), func(context.Context) error { return boom })
	startListener(t, l)

	waitStopped(t, l.Actor())
	assert.ErrorIs(t, l.Actor().Err(), boom)
	assert.Contains(t, l.Actor().History(), core.StateFailed)
}

func TestListenerRejectsNonSharedActor(t *testing.T) {
	factory := func(conn net.Conn, peer string) (core.Actor, error) {
		return core.NewIsolated("network-test", core.Options{})
	}
	l := NewListener(testOptions(nil), factory, nil)
	startListener(t, l)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	waitStopped(t, l.Actor())
	assert.ErrorIs(t, l.Actor().Err(), core.ErrState)
	assert.Equal(t, []core.State{
		core.StateInit, core.StateStarting, core.StateRunning, core.StateFailed, core.StateStopping, core.StateStopped,
	}, l.Actor().History())
}

func TestListenerFactoryError(t *testing.T) {
	factory := func(net.Conn, string) (core.Actor, error) {
		return nil, errors.New("no capacity")
	}
	l := NewListener(testOptions(nil), factory, nil)
	startListener(t, l)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	waitStopped(t, l.Actor())
	assert.Error(t, l.Actor().Err())
	assert.Contains(t, l.Actor().History(), core.StateFailed)
}

func TestListenerConnectionLimit(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*ListenerOptions)
	}{
		{"max connections", func(o *ListenerOptions) { o.MaxConnections = 1 }},
		{"accept rate", func(o *ListenerOptions) {
			o.MaxConnections = 0
			o.AcceptRate = 0.001
			o.AcceptBurst = 1
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.New()
			opts := testOptions(s)
			tt.modify(&opts)
			l := NewListener(opts, echoFactory(s), nil)
			startListener(t, l)

			first, err := net.Dial("tcp", l.Addr().String())
			require.NoError(t, err)
			defer first.Close()
			require.Eventually(t, func() bool { return len(l.Conns()) == 1 }, 5*time.Second, 5*time.Millisecond)

			second, err := net.Dial("tcp", l.Addr().String())
			require.NoError(t, err)
			defer second.Close()

			second.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, err = second.Read(make([]byte, 1))
			assert.ErrorIs(t, err, io.EOF)

			assert.Equal(t, int64(1), l.Stats().Rejected)
			assert.Len(t, l.Conns(), 1)
			assert.Equal(t, core.StateRunning, l.Actor().State())
		})
	}
}

func TestListenerPortInUse(t *testing.T) {
	first := NewListener(testOptions(nil), echoFactory(nil), nil)
	startListener(t, first)

	opts := testOptions(nil)
	opts.Port = first.Addr().Port
	second := NewListener(opts, echoFactory(nil), nil)
	_, err := second.Actor().Start(context.Background())
	require.NoError(t, err)

	waitStopped(t, second.Actor())
	assert.ErrorIs(t, second.Actor().Err(), ErrResource)
	assert.Equal(t, []core.State{
		core.StateInit, core.StateStarting, core.StateFailed, core.StateStopping, core.StateStopped,
	}, second.Actor().History())
}

func TestDial(t *testing.T) {
	l := NewListener(testOptions(nil), echoFactory(nil), nil)
	startListener(t, l)

	conn, err := Dial(context.Background(), l.Addr().String(), DefaultDialOptions())
	require.NoError(t, err)
	conn.Close()

	// grab a free port and release it so nothing listens there
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := probe.Addr().String()
	probe.Close()

	_, err = Dial(context.Background(), addr, DialOptions{
		Timeout:       100 * time.Millisecond,
		Attempts:      2,
		RetryInterval: 10 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrResource)
}
