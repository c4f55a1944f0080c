// Package network provides the connection listener actor and the dialer used
// by peers to reach each other.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/najoast/bobnet/core"
	"github.com/najoast/bobnet/store"
)

// ListenerOptions configures a Listener.
type ListenerOptions struct {
	// Host is the listening address
	Host string

	// Port is the listening port; 0 picks a free port
	Port int

	// AcceptTimeout bounds each accept attempt
	AcceptTimeout time.Duration

	// Interval between accept attempts
	Interval time.Duration

	// MaxConnections is the maximum number of tracked connections; 0 is unlimited
	MaxConnections int

	// AcceptRate is the sustained accepted connections per second; 0 is unlimited
	AcceptRate float64

	// AcceptBurst is the limiter burst
	AcceptBurst int

	// Grace is the best-effort wait after force-stopping connections
	Grace time.Duration

	// KeepAlive is the TCP keep-alive period; 0 keeps the OS default
	KeepAlive time.Duration

	// Tag prefixes the listener actor tag
	Tag string

	// Store receives the listener history and its client list
	Store store.Store

	// Logger defaults to slog.Default()
	Logger *slog.Logger
}

// DefaultListenerOptions returns sensible default options.
func DefaultListenerOptions() ListenerOptions {
	return ListenerOptions{
		Host:           "127.0.0.1",
		Port:           0,
		AcceptTimeout:  100 * time.Millisecond,
		Interval:       10 * time.Millisecond,
		MaxConnections: 50,
		Grace:          100 * time.Millisecond,
		Tag:            "listener",
	}
}

// ConnFactory creates the actor owning an accepted connection. It must return
// a shared actor that has not been started.
type ConnFactory func(conn net.Conn, peer string) (core.Actor, error)

// TimeoutHook runs whenever an accept attempt times out.
type TimeoutHook func(ctx context.Context) error

// ListenerStats contains listener statistics.
type ListenerStats struct {
	Address  string
	Accepted int64
	Rejected int64
	Active   int
}

var _ core.Behavior = (*Listener)(nil)

// Listener accepts connections and supervises one actor per connection. All
// of its work happens on its own actor's interval loop.
type Listener struct {
	opts      ListenerOptions
	factory   ConnFactory
	onTimeout TimeoutHook
	limiter   *rate.Limiter
	logger    *slog.Logger
	actor     *core.SharedActor

	listener    *net.TCPListener
	addr        atomic.Pointer[net.TCPAddr]
	ready       chan struct{}
	clientsPath string

	mu      sync.RWMutex
	clients map[string]core.Actor

	accepted atomic.Int64
	rejected atomic.Int64
}

// NewListener creates a listener and its shared actor. onTimeout may be nil.
func NewListener(opts ListenerOptions, factory ConnFactory, onTimeout TimeoutHook) *Listener {
	defaults := DefaultListenerOptions()
	if opts.AcceptTimeout <= 0 {
		opts.AcceptTimeout = defaults.AcceptTimeout
	}
	if opts.Interval <= 0 {
		opts.Interval = defaults.Interval
	}
	if opts.Tag == "" {
		opts.Tag = defaults.Tag
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Store == nil {
		opts.Store = store.New()
	}
	if onTimeout == nil {
		onTimeout = func(context.Context) error { return nil }
	}

	l := &Listener{
		opts:      opts,
		factory:   factory,
		onTimeout: onTimeout,
		ready:     make(chan struct{}),
		clients:   make(map[string]core.Actor),
	}
	if opts.AcceptRate > 0 {
		burst := opts.AcceptBurst
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(opts.AcceptRate), burst)
	}

	l.actor = core.NewShared(l, core.Options{
		Tag:      opts.Tag,
		Interval: opts.Interval,
		Store:    opts.Store,
		Logger:   opts.Logger,
	})
	l.logger = opts.Logger.With("actor", l.actor.Tag())
	l.clientsPath = "__listener__." + l.actor.ID() + ".clients_"
	return l
}

// Actor returns the listener's own actor.
func (l *Listener) Actor() *core.SharedActor { return l.actor }

// Options returns the options the listener was created with.
func (l *Listener) Options() ListenerOptions { return l.opts }

// Ready is closed once the socket is bound.
func (l *Listener) Ready() <-chan struct{} { return l.ready }

// Addr returns the bound address, or nil before Ready.
func (l *Listener) Addr() *net.TCPAddr { return l.addr.Load() }

// Conns returns the tracked peer addresses.
func (l *Listener) Conns() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	peers := make([]string, 0, len(l.clients))
	for peer := range l.clients {
		peers = append(peers, peer)
	}
	sort.Strings(peers)
	return peers
}

// Stats returns listener statistics.
func (l *Listener) Stats() ListenerStats {
	stats := ListenerStats{
		Accepted: l.accepted.Load(),
		Rejected: l.rejected.Load(),
		Active:   len(l.Conns()),
	}
	if addr := l.Addr(); addr != nil {
		stats.Address = addr.String()
	}
	return stats
}

// OnStart binds the listening socket.
func (l *Listener) OnStart(ctx context.Context, _ *core.Self) error {
	if l.listener != nil {
		l.logger.Warn("listener is already started")
		return nil
	}

	address := net.JoinHostPort(l.opts.Host, strconv.Itoa(l.opts.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("%w: failed to listen on %s: %v", ErrResource, address, err)
	}

	l.listener = ln.(*net.TCPListener)
	l.addr.Store(l.listener.Addr().(*net.TCPAddr))
	close(l.ready)

	l.logger.Info("listener started", "addr", l.Addr().String(), "max_connections", l.opts.MaxConnections)
	return nil
}

// OnInterval reaps finished connection actors and makes one bounded accept
// attempt. A timed out attempt runs the timeout hook.
func (l *Listener) OnInterval(ctx context.Context, _ *core.Self) error {
	l.reap()

	if err := l.listener.SetDeadline(time.Now().Add(l.opts.AcceptTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrResource, err)
	}

	conn, err := l.listener.AcceptTCP()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return l.onTimeout(ctx)
		}
		if errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("%w: %v", ErrResource, err)
		}
		l.logger.Warn("failed to accept connection", "err", err)
		return nil
	}

	return l.handle(ctx, conn)
}

// OnStop closes the socket, force-stops every tracked connection actor and
// waits the grace period. Actors still running afterwards are not joined.
func (l *Listener) OnStop(_ context.Context, _ *core.Self) error {
	l.logger.Info("stopping listener and closing active connections")
	if l.listener != nil {
		if err := l.listener.Close(); err != nil {
			l.logger.Warn("failed to close listening socket", "err", err)
		}
	}

	l.mu.Lock()
	clients := l.clients
	l.clients = make(map[string]core.Actor)
	l.mu.Unlock()

	for _, a := range clients {
		a.ForceStop()
	}
	if len(clients) > 0 && l.opts.Grace > 0 {
		time.Sleep(l.opts.Grace)
	}

	if err := l.opts.Store.Clear(l.clientsPath); err != nil {
		l.logger.Warn("failed to clear client list", "err", err)
	}
	l.logger.Info("listener stopped", "disconnected", len(clients))
	return nil
}

func (l *Listener) handle(ctx context.Context, conn *net.TCPConn) error {
	peer := conn.RemoteAddr().String()

	if err := l.admit(); err != nil {
		l.rejected.Add(1)
		l.logger.Warn("rejecting connection", "peer", peer, "err", err)
		conn.Close()
		return nil
	}

	if l.opts.KeepAlive > 0 {
		conn.SetKeepAlive(true)
		conn.SetKeepAlivePeriod(l.opts.KeepAlive)
	}

	a, err := l.factory(conn, peer)
	if err != nil {
		conn.Close()
		return fmt.Errorf("connection factory for %s: %w", peer, err)
	}
	if a.Mode() != core.ModeShared {
		conn.Close()
		return fmt.Errorf("%w: connection actor %s must be %s, not %s",
			core.ErrState, a.Tag(), core.ModeShared, a.Mode())
	}
	if _, err := a.Start(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("starting connection actor for %s: %w", peer, err)
	}

	l.mu.Lock()
	l.clients[peer] = a
	l.mu.Unlock()
	l.accepted.Add(1)
	l.recordClients()

	l.logger.Info("client connected", "peer", peer, "actor", a.Tag())
	return nil
}

func (l *Listener) admit() error {
	if l.opts.MaxConnections > 0 {
		l.mu.RLock()
		n := len(l.clients)
		l.mu.RUnlock()
		if n >= l.opts.MaxConnections {
			return fmt.Errorf("%w (%d)", ErrConnectionLimit, l.opts.MaxConnections)
		}
	}
	if l.limiter != nil && !l.limiter.Allow() {
		return ErrRateLimited
	}
	return nil
}

// reap drops connection actors that have left RUNNING. Actors still starting
// are kept.
func (l *Listener) reap() {
	l.mu.Lock()
	var dead []string
	for peer, a := range l.clients {
		switch a.State() {
		case core.StateInit, core.StateStarting, core.StateRunning:
			continue
		}
		delete(l.clients, peer)
		dead = append(dead, peer)
	}
	l.mu.Unlock()

	for _, peer := range dead {
		l.logger.Debug("client is dead", "peer", peer)
	}
	if len(dead) > 0 {
		l.recordClients()
	}
}

// recordClients mirrors the tracked peers under the private clients path.
func (l *Listener) recordClients() {
	peers := l.Conns()

	var err error
	if len(peers) == 0 {
		err = l.opts.Store.Clear(l.clientsPath)
	} else {
		err = l.opts.Store.Put(l.clientsPath, peers)
	}
	if err != nil {
		l.logger.Warn("failed to record client list", "err", err)
	}
}
