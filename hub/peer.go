package hub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/najoast/bobnet/core"
	"github.com/najoast/bobnet/network"
	"github.com/najoast/bobnet/protocol"
	"github.com/najoast/bobnet/store"
)

// Handshake and queue constants
const (
	// HandshakeVersion is the line each side sends first
	HandshakeVersion = "HUB/0.1"

	// MaxHubVersion is the highest peer version accepted
	MaxHubVersion = 0.999

	// LineTerminator follows every line and frame on the wire
	LineTerminator = "\n\n"

	// BufferMaxSize bounds the unparsed bytes kept per peer
	BufferMaxSize = 8096

	// InboundPath holds frames received from any peer
	InboundPath = "__hub__.inbound_"

	// OutboundPath holds frames to send to every peer
	OutboundPath = "__hub__.outbound_"

	// MaxPeers is the default connection limit
	MaxPeers = 50

	// RejectInvalid is sent to a peer whose reply has no version token
	RejectInvalid = "Invalid handshake"

	// RejectUnsupported is sent to a peer whose version is too high
	RejectUnsupported = "Unsupported Hub version"
)

const (
	versionToken = "HUB/"
	readChunk    = 8192
)

// PeerOptions configures a Peer.
type PeerOptions struct {
	// Interval between receive and drain rounds
	Interval time.Duration

	// ReadTimeout bounds the receive attempt of each round
	ReadTimeout time.Duration

	// WriteTimeout bounds each frame write
	WriteTimeout time.Duration

	// HandshakeTimeout bounds the wait for the peer's handshake reply
	HandshakeTimeout time.Duration

	// Logger defaults to slog.Default()
	Logger *slog.Logger
}

// DefaultPeerOptions returns sensible default options.
func DefaultPeerOptions() PeerOptions {
	return PeerOptions{
		Interval:         100 * time.Millisecond,
		ReadTimeout:      100 * time.Millisecond,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
	}
}

var _ core.Behavior = (*Peer)(nil)

// Peer owns one connected socket. It moves received frames to the shared
// inbound queue and writes every new outbound queue entry to the socket.
type Peer struct {
	conn   net.Conn
	addr   string
	store  store.Store
	opts   PeerOptions
	logger *slog.Logger
	actor  *core.SharedActor

	buf       []byte
	cursor    any
	hasCursor bool

	received atomic.Int64
	sent     atomic.Int64
}

// NewPeer creates the peer behavior and its shared actor for conn.
func NewPeer(conn net.Conn, addr string, s store.Store, opts PeerOptions) *Peer {
	defaults := DefaultPeerOptions()
	if opts.Interval <= 0 {
		opts.Interval = defaults.Interval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaults.ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	p := &Peer{
		conn:   conn,
		addr:   addr,
		store:  s,
		opts:   opts,
		logger: opts.Logger.With("peer", addr),
	}
	p.actor = core.NewShared(p, core.Options{
		Tag:      "hub-peer",
		Interval: opts.Interval,
		Store:    s,
		Logger:   opts.Logger.With("peer", addr),
	})
	return p
}

// Actor returns the peer's actor.
func (p *Peer) Actor() *core.SharedActor { return p.actor }

// Addr returns the remote address.
func (p *Peer) Addr() string { return p.addr }

// Received returns the number of valid frames received.
func (p *Peer) Received() int64 { return p.received.Load() }

// Sent returns the number of frames written.
func (p *Peer) Sent() int64 { return p.sent.Load() }

// OnStart exchanges handshake lines. A bad reply gets a one-line rejection
// and drives the actor to FAILED.
func (p *Peer) OnStart(_ context.Context, self *core.Self) error {
	if err := p.send([]byte(HandshakeVersion)); err != nil {
		return err
	}

	reply, err := p.readHandshake()
	if err != nil {
		return err
	}

	i := bytes.Index(reply, []byte(versionToken))
	if i < 0 {
		p.reject(self, RejectInvalid, fmt.Errorf("%w: %q", ErrHandshake, truncate(reply)))
		return nil
	}
	version, err := strconv.ParseFloat(string(bytes.TrimSpace(reply[i+len(versionToken):])), 64)
	if err != nil {
		p.reject(self, RejectInvalid, fmt.Errorf("%w: %q", ErrHandshake, truncate(reply)))
		return nil
	}
	if version > MaxHubVersion {
		p.reject(self, RejectUnsupported, fmt.Errorf("%w: %q", ErrUnsupportedVersion, truncate(reply)))
		return nil
	}

	p.logger.Debug("handshake success", "version", version)
	return nil
}

// OnInterval makes one bounded receive attempt, then drains the outbound
// queue.
func (p *Peer) OnInterval(_ context.Context, _ *core.Self) error {
	open, err := p.receive()
	if err != nil || !open {
		return err
	}
	return p.drain()
}

// OnStop closes the socket.
func (p *Peer) OnStop(_ context.Context, _ *core.Self) error {
	p.logger.Info("peer disconnected", "received", p.Received(), "sent", p.Sent())
	if err := p.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (p *Peer) reject(self *core.Self, message string, err error) {
	if sendErr := p.send([]byte(message)); sendErr != nil {
		p.logger.Debug("rejection not delivered", "err", sendErr)
	}
	self.Fail(err)
}

// readHandshake reads up to the first newline. Bytes after it are kept in the
// receive buffer.
func (p *Peer) readHandshake() ([]byte, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(p.opts.HandshakeTimeout)); err != nil {
		return nil, fmt.Errorf("%w: %v", network.ErrResource, err)
	}

	chunk := make([]byte, readChunk)
	var buf []byte
	for {
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			p.buf = append(p.buf[:0], buf[i+1:]...)
			return buf[:i], nil
		}
		if len(buf) > BufferMaxSize {
			return buf, nil
		}

		n, err := p.conn.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			if len(buf) > 0 && errors.Is(err, io.EOF) {
				return buf, nil
			}
			return nil, fmt.Errorf("%w: handshake read: %v", network.ErrResource, err)
		}
	}
}

// receive makes one bounded read. It reports false once the remote side
// has closed the connection, after requesting a stop.
func (p *Peer) receive() (bool, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(p.opts.ReadTimeout)); err != nil {
		return false, fmt.Errorf("%w: %v", network.ErrResource, err)
	}

	chunk := make([]byte, readChunk)
	n, err := p.conn.Read(chunk)
	if n > 0 {
		p.buf = append(p.buf, chunk[:n]...)
		if err := p.consume(); err != nil {
			return false, err
		}
	}
	if err == nil {
		return true, nil
	}

	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		return true, nil
	case errors.Is(err, io.EOF), errors.Is(err, syscall.ECONNRESET):
		p.logger.Info("peer closed the connection")
		p.actor.ForceStop()
		return false, nil
	default:
		return false, fmt.Errorf("%w: receive: %v", network.ErrResource, err)
	}
}

// consume moves every complete frame in the buffer to the inbound queue.
// Invalid frames are logged and dropped.
func (p *Peer) consume() error {
	for {
		frame, rest, ok := protocol.NextFrame(p.buf)
		p.buf = rest
		if !ok {
			break
		}

		sig, status := protocol.Parse(frame)
		if status != protocol.StatusOK {
			p.logger.Warn("invalid message", "status", int(status), "reason", status.String(), "frame", truncate(frame))
			continue
		}
		if err := p.store.Add(InboundPath, sig.Bytes()); err != nil {
			return err
		}
		p.received.Add(1)
		p.logger.Debug("received signal", "id", sig.IDString())
	}

	if len(p.buf) > BufferMaxSize {
		p.logger.Warn("max buffer size exceeded", "size", len(p.buf))
		p.buf = nil
	}
	return nil
}

// drain sends everything in the outbound queue on the first call, then only
// entries after the last one sent.
func (p *Peer) drain() error {
	var (
		items []any
		err   error
	)
	if p.hasCursor {
		items, err = p.store.GetSince(OutboundPath, p.cursor)
	} else {
		items, err = p.store.Get(OutboundPath)
	}
	if err != nil {
		return err
	}

	for _, item := range items {
		var data []byte
		switch v := item.(type) {
		case []byte:
			data = v
		case string:
			data = []byte(v)
		case *protocol.Signal:
			data = v.Bytes()
		default:
			p.logger.Warn("skipping outbound entry", "type", fmt.Sprintf("%T", item))
		}

		if data != nil {
			if err := p.send(data); err != nil {
				return err
			}
			p.sent.Add(1)
		}
		p.cursor = item
		p.hasCursor = true
	}
	return nil
}

func (p *Peer) send(data []byte) error {
	if err := p.conn.SetWriteDeadline(time.Now().Add(p.opts.WriteTimeout)); err != nil {
		return fmt.Errorf("%w: %v", network.ErrResource, err)
	}

	msg := make([]byte, 0, len(data)+len(LineTerminator))
	msg = append(msg, data...)
	msg = append(msg, LineTerminator...)
	if _, err := p.conn.Write(msg); err != nil {
		return fmt.Errorf("%w: send: %v", network.ErrResource, err)
	}
	p.logger.Debug("sent", "bytes", len(msg))
	return nil
}

func truncate(b []byte) string {
	if len(b) > 100 {
		b = b[:100]
	}
	return string(b)
}
