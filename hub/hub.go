// Package hub implements the gossip overlay replicating store journals
// between peers.
//
// A Hub is a network.Listener whose accept timeout drives replication. Each
// connected socket, accepted or dialed, is owned by a Peer actor. Peers and
// the hub communicate only through two private queues in the shared store:
// peers append received frames to InboundPath and send every entry of
// OutboundPath. On each tick the hub wraps new public journal blocks as
// Signals into the outbound queue, and applies new inbound Signals on a
// subscribed channel to the store.
//
// Every new inbound Signal is forwarded to the outbound queue with its ID
// unchanged, so a Signal crosses each edge of the overlay at most once in
// each direction before the per-hub dedup set suppresses it.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/najoast/bobnet/block"
	"github.com/najoast/bobnet/core"
	"github.com/najoast/bobnet/network"
	"github.com/najoast/bobnet/protocol"
	"github.com/najoast/bobnet/store"
)

// Options configures a Hub.
type Options struct {
	// Host and Port of the listening socket; port 0 picks a free port
	Host string
	Port int

	// Subscriptions are the channels applied to the local store
	Subscriptions []string

	// MaxPeers is the accepted connection limit
	MaxPeers int

	// AcceptTimeout is the replication tick period while idle
	AcceptTimeout time.Duration

	// Interval between accept attempts
	Interval time.Duration

	// AcceptRate and AcceptBurst limit accepted connections per second
	AcceptRate  float64
	AcceptBurst int

	// Grace after force-stopping peers on shutdown
	Grace time.Duration

	// KeepAlive is the TCP keep-alive period of accepted peer sockets
	KeepAlive time.Duration

	// Peer configures every peer actor
	Peer PeerOptions

	// Dial configures Connect
	Dial network.DialOptions

	// Seen is the dedup set; an unbounded MapSeen when nil
	Seen SeenSet

	// FromJournalTail skips journal blocks present when the hub starts
	FromJournalTail bool

	// Logger defaults to slog.Default()
	Logger *slog.Logger
}

// DefaultOptions returns sensible default options.
func DefaultOptions() Options {
	return Options{
		Host:          "127.0.0.1",
		MaxPeers:      MaxPeers,
		AcceptTimeout: 100 * time.Millisecond,
		Interval:      10 * time.Millisecond,
		Grace:         100 * time.Millisecond,
		Peer:          DefaultPeerOptions(),
		Dial:          network.DefaultDialOptions(),
	}
}

// Hub replicates the public part of a store's journal to its peers.
type Hub struct {
	store    store.Store
	opts     Options
	logger   *slog.Logger
	listener *network.Listener
	seen     SeenSet
	dialed   *core.Manager

	subsMu sync.RWMutex
	subs   map[string]struct{}

	// replicate state, guarded by mu
	mu           sync.Mutex
	remote       map[string]struct{}
	lastOutbound any
	hasOutbound  bool
	lastInbound  any
	hasInbound   bool
}

// New creates a hub sharing s with its peers.
func New(s store.Store, opts Options) (*Hub, error) {
	if s == nil {
		return nil, ErrNoStore
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Peer.Logger == nil {
		opts.Peer.Logger = opts.Logger
	}
	if opts.Dial.Logger == nil {
		opts.Dial.Logger = opts.Logger
	}
	if opts.Seen == nil {
		opts.Seen = NewMapSeen()
	}

	h := &Hub{
		store:  s,
		opts:   opts,
		seen:   opts.Seen,
		dialed: core.NewManager(opts.Logger),
		subs:   make(map[string]struct{}),
		remote: make(map[string]struct{}),
	}
	h.Subscribe(opts.Subscriptions...)

	h.listener = network.NewListener(network.ListenerOptions{
		Host:           opts.Host,
		Port:           opts.Port,
		AcceptTimeout:  opts.AcceptTimeout,
		Interval:       opts.Interval,
		MaxConnections: opts.MaxPeers,
		AcceptRate:     opts.AcceptRate,
		AcceptBurst:    opts.AcceptBurst,
		Grace:          opts.Grace,
		KeepAlive:      opts.KeepAlive,
		Tag:            "hub",
		Store:          s,
		Logger:         opts.Logger,
	}, h.accept, h.Replicate)
	h.logger = opts.Logger.With("actor", h.listener.Actor().Tag())
	return h, nil
}

// Start runs the hub actor. Dialed peers are force-stopped when it stops.
func (h *Hub) Start(ctx context.Context) (string, error) {
	if h.opts.FromJournalTail {
		last, err := h.store.GetLasts(store.JournalPath, 1)
		if err != nil {
			return "", err
		}
		h.mu.Lock()
		if len(last) == 1 {
			h.lastOutbound, h.hasOutbound = last[0], true
		}
		h.mu.Unlock()
	}

	tag, err := h.listener.Actor().Start(ctx)
	if err != nil {
		return "", err
	}

	go func() {
		<-h.listener.Actor().Done()
		if err := h.dialed.StopAll(context.Background()); err != nil {
			h.logger.Warn("failed to stop dialed peers", "err", err)
		}
	}()
	return tag, nil
}

// Actor returns the hub actor.
func (h *Hub) Actor() *core.SharedActor { return h.listener.Actor() }

// Ready is closed once the hub is listening.
func (h *Hub) Ready() <-chan struct{} { return h.listener.Ready() }

// Addr returns the listening address, or nil before Ready.
func (h *Hub) Addr() *net.TCPAddr { return h.listener.Addr() }

// Peers returns the addresses of accepted peers and the tags of dialed ones.
func (h *Hub) Peers() []string {
	h.dialed.Reap()
	peers := append(h.listener.Conns(), h.dialed.Tags()...)
	sort.Strings(peers)
	return peers
}

// Subscribe adds channels whose Signals are applied to the local store.
func (h *Hub) Subscribe(channels ...string) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	for _, ch := range channels {
		if ch == "" {
			continue
		}
		h.subs[ch] = struct{}{}
	}
}

// Unsubscribe removes channels.
func (h *Hub) Unsubscribe(channels ...string) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	for _, ch := range channels {
		delete(h.subs, ch)
	}
}

// Subscriptions returns the subscribed channels in sorted order.
func (h *Hub) Subscriptions() []string {
	h.subsMu.RLock()
	defer h.subsMu.RUnlock()

	out := make([]string, 0, len(h.subs))
	for ch := range h.subs {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

func (h *Hub) subscribed(sig *protocol.Signal) bool {
	h.subsMu.RLock()
	defer h.subsMu.RUnlock()
	return sig.HasChannel(h.subs)
}

// Emit queues sig for every peer. A Signal whose ID was already seen is
// refused so emission is idempotent.
func (h *Hub) Emit(sig *protocol.Signal) error {
	if sig == nil {
		return ErrNotSignal
	}
	if !h.seen.Add(sig.ID) {
		h.logger.Debug("already seen signal, preventing re-emit", "id", sig.IDString())
		return fmt.Errorf("%w: %s", ErrAlreadySeen, sig.IDString())
	}
	return h.store.Add(OutboundPath, sig.Bytes())
}

// Connect dials addr and starts a peer actor on the outbound socket.
func (h *Hub) Connect(ctx context.Context, addr string) (*Peer, error) {
	conn, err := network.Dial(ctx, addr, h.opts.Dial)
	if err != nil {
		return nil, err
	}

	p := NewPeer(conn, addr, h.store, h.opts.Peer)
	if err := h.dialed.Add(p.Actor()); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := p.Actor().Start(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	h.logger.Info("connected to peer", "peer", addr)
	return p, nil
}

// accept is the listener's connection factory.
func (h *Hub) accept(conn net.Conn, peer string) (core.Actor, error) {
	return NewPeer(conn, peer, h.store, h.opts.Peer).Actor(), nil
}

// Replicate runs one replication tick: new public journal blocks go to the
// outbound queue, then new inbound Signals are applied. A malformed queue
// entry is fatal.
func (h *Hub) Replicate(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.replicateOutbound(); err != nil {
		return err
	}
	return h.applyInbound()
}

func (h *Hub) replicateOutbound() error {
	blocks, err := h.since(store.JournalPath, h.lastOutbound, h.hasOutbound)
	if err != nil {
		return err
	}

	for _, v := range blocks {
		h.lastOutbound, h.hasOutbound = v, true

		b, ok := v.(block.Block)
		if !ok || !b.Valid() {
			return fmt.Errorf("%w: %T", ErrJournal, v)
		}
		if store.IsPrivate(b.Path()) {
			continue
		}
		if _, ok := h.remote[b.Hash]; ok {
			delete(h.remote, b.Hash)
			continue
		}

		sig, status := protocol.ParseValue(b.Payload)
		if status != protocol.StatusOK {
			raw, err := block.Serialize(b)
			if err != nil {
				return err
			}
			if sig, err = protocol.NewSignal([]string{protocol.DefaultChannel}, raw); err != nil {
				return err
			}
		}

		if err := h.Emit(sig); err != nil && !errors.Is(err, ErrAlreadySeen) {
			return err
		}
		h.logger.Debug("replicating block", "path", b.Path(), "id", sig.IDString())
	}
	return nil
}

func (h *Hub) applyInbound() error {
	entries, err := h.since(InboundPath, h.lastInbound, h.hasInbound)
	if err != nil {
		return err
	}

	for _, v := range entries {
		h.lastInbound, h.hasInbound = v, true

		sig, status := protocol.ParseValue(v)
		if status != protocol.StatusOK {
			return fmt.Errorf("%w: %w", ErrInbound, status.Err())
		}
		if !h.seen.Add(sig.ID) {
			continue
		}

		// forward with the ID unchanged
		if err := h.store.Add(OutboundPath, sig.Bytes()); err != nil {
			return err
		}
		if !h.subscribed(sig) {
			continue
		}
		h.apply(sig)
	}
	return nil
}

// apply replays the block carried by sig. A block that does not verify or
// apply is logged and dropped.
func (h *Hub) apply(sig *protocol.Signal) {
	b, err := block.Deserialize(sig.Data)
	if err != nil {
		h.logger.Warn("dropping signal with invalid block", "id", sig.IDString(), "err", err)
		return
	}

	h.remote[b.Hash] = struct{}{}
	if err := h.store.ProcessBlock(sig.Data); err != nil {
		delete(h.remote, b.Hash)
		h.logger.Warn("failed to apply block", "id", sig.IDString(), "path", b.Path(), "err", err)
		return
	}
	h.logger.Debug("applied block", "id", sig.IDString(), "method", b.Method(), "path", b.Path())
}

func (h *Hub) since(path string, cursor any, hasCursor bool) ([]any, error) {
	if !hasCursor {
		return h.store.Get(path)
	}
	return h.store.GetSince(path, cursor)
}
