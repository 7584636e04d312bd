package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/hostlink/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/pion/dtls/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// recordReadBuffer is the datagram buffer the DTLS record layer reads
	// into. A sealed record must fit in it whole.
	recordReadBuffer = 8192
	// recordOverhead covers the record header (13), the explicit GCM nonce
	// (8) and the tag (16), rounded up.
	recordOverhead = 64
	// maxRecordPayload bounds the plaintext of one record. Larger writes are
	// split and reassembled by the receiver's stream decoder.
	maxRecordPayload = recordReadBuffer - recordOverhead
	readBufferSize   = 64 * 1024
)

// Options configures secure connections for both roles.
type Options struct {
	Security         session.SecurityDescriptor
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// NewOptions takes timeouts from cfg and security from sec.
func NewOptions(cfg session.Config, sec session.SecurityDescriptor) Options {
	cfg = cfg.WithDefaults()
	return Options{
		Security:         sec,
		ConnectTimeout:   cfg.ConnectTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
	}
}

// SecureDialer dials secure connections to a peer address.
type SecureDialer struct {
	opts Options
	cfg  *dtls.Config
}

func NewDialer(opts Options) (*SecureDialer, error) {
	cfg, err := opts.Security.DTLSConfig()
	if err != nil {
		return nil, err
	}
	return &SecureDialer{opts: opts, cfg: cfg}, nil
}

func (d *SecureDialer) Dial(addr string) Conn {
	return newSecureConn(true, addr, nil, d.opts, d.cfg)
}

// SecureListener accepts inbound TCP connections with keepalive tuned from
// the security descriptor. The DTLS handshake runs after Start.
type SecureListener struct {
	ln   net.Listener
	opts Options
	cfg  *dtls.Config
}

func Listen(ctx context.Context, addr string, opts Options) (*SecureListener, error) {
	cfg, err := opts.Security.DTLSConfig()
	if err != nil {
		return nil, err
	}
	lc := net.ListenConfig{KeepAliveConfig: opts.Security.KeepAlive.NetConfig()}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return &SecureListener{ln: ln, opts: opts, cfg: cfg}, nil
}

func (l *SecureListener) Accept() (Conn, error) {
	raw, err := l.ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return newSecureConn(false, raw.RemoteAddr().String(), raw, l.opts, l.cfg), nil
}

func (l *SecureListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *SecureListener) Close() error {
	return l.ln.Close()
}

type secureConn struct {
	id     string
	client bool
	addr   string
	opts   Options
	cfg    *dtls.Config
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	started   atomic.Bool
	cancelled atomic.Bool
	ready     atomic.Bool

	mu       sync.Mutex
	raw      net.Conn
	dc       *dtls.Conn
	writeErr error

	wmu     sync.Mutex
	pending [][]byte
	wake    chan struct{}
}

func newSecureConn(client bool, addr string, raw net.Conn, opts Options, cfg *dtls.Config) *secureConn {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	side := "server"
	if client {
		side = "client"
	}
	return &secureConn{
		id:     id,
		client: client,
		addr:   addr,
		opts:   opts,
		cfg:    cfg,
		log:    log.With().Str("component", "transport").Str("conn_id", id).Str("side", side).Logger(),
		ctx:    ctx,
		cancel: cancel,
		raw:    raw,
		wake:   make(chan struct{}, 1),
	}
}

func (c *secureConn) ID() string {
	return c.id
}

func (c *secureConn) Remote() string {
	return c.addr
}

func (c *secureConn) Start(emit func(Event)) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.run(emit)
}

func (c *secureConn) run(emit func(Event)) {
	emit(Event{Kind: EventPreparing})
	dc, err := c.establish()
	if err != nil {
		c.finish(emit, EventWaiting, err)
		return
	}
	c.ready.Store(true)
	emit(Event{Kind: EventReady})
	go c.writeLoop(dc)

	buf := make([]byte, readBufferSize)
	for {
		n, err := dc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			emit(Event{Kind: EventData, Data: chunk})
		}
		if err != nil {
			c.finish(emit, EventFailed, err)
			return
		}
	}
}

func (c *secureConn) establish() (*dtls.Conn, error) {
	raw, err := c.connectRaw()
	if err != nil {
		return nil, err
	}

	pc := newStreamPacketConn(raw)
	var dc *dtls.Conn
	if c.client {
		dc, err = dtls.Client(pc, raw.RemoteAddr(), c.cfg)
	} else {
		dc, err = dtls.Server(pc, raw.RemoteAddr(), c.cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()
	if c.cancelled.Load() {
		c.close()
		return nil, ErrClosed
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.HandshakeTimeout)
	defer cancel()
	if err := dc.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	c.log.Debug().Str("remote", c.addr).Msg("secure handshake complete")
	return dc, nil
}

func (c *secureConn) connectRaw() (net.Conn, error) {
	c.mu.Lock()
	raw := c.raw
	c.mu.Unlock()
	if raw != nil {
		return raw, nil
	}

	dialer := net.Dialer{
		Timeout:         c.opts.ConnectTimeout,
		KeepAliveConfig: c.opts.Security.KeepAlive.NetConfig(),
	}
	raw, err := dialer.DialContext(c.ctx, "tcp", c.addr)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled.Load() {
		_ = raw.Close()
		return nil, ErrClosed
	}
	c.raw = raw
	return raw, nil
}

func (c *secureConn) finish(emit func(Event), kind EventKind, err error) {
	c.ready.Store(false)
	c.cancel()
	c.close()
	if c.cancelled.Load() {
		emit(Event{Kind: EventCancelled})
		return
	}
	c.mu.Lock()
	if c.writeErr != nil {
		err = c.writeErr
	}
	c.mu.Unlock()
	c.log.Debug().Err(err).Str("event", kind.String()).Msg("transport ended")
	emit(Event{Kind: kind, Err: err})
}

// Write queues p for the writer goroutine and returns without waiting for
// the network. The transport keeps p, so callers must not reuse it.
func (c *secureConn) Write(p []byte) error {
	if !c.ready.Load() {
		return ErrNotReady
	}
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	c.wmu.Lock()
	c.pending = append(c.pending, p)
	c.wmu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// writeLoop is the only writer of dc. A failed write closes the connection,
// which ends the read loop and reports failed with the write error.
func (c *secureConn) writeLoop(dc *dtls.Conn) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}
		c.wmu.Lock()
		batch := c.pending
		c.pending = nil
		c.wmu.Unlock()

		for _, p := range batch {
			if err := c.writeRecords(dc, p); err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.log.Warn().Err(err).Int("bytes", len(p)).Msg("transport write failed")
				c.mu.Lock()
				c.writeErr = err
				c.mu.Unlock()
				c.close()
				return
			}
		}
	}
}

func (c *secureConn) writeRecords(dc *dtls.Conn, p []byte) error {
	if c.opts.WriteTimeout > 0 {
		deadline := time.Now().Add(c.opts.WriteTimeout)
		_ = dc.SetWriteDeadline(deadline)
		c.mu.Lock()
		if c.raw != nil {
			_ = c.raw.SetWriteDeadline(deadline)
		}
		c.mu.Unlock()
	}
	for len(p) > 0 {
		n := min(len(p), maxRecordPayload)
		if _, err := dc.Write(p[:n]); err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func (c *secureConn) Cancel() {
	c.cancelled.Store(true)
	c.cancel()
	c.close()
}

// close releases whatever has been established so far. It is safe to call
// repeatedly and concurrently with establish.
func (c *secureConn) close() {
	c.mu.Lock()
	dc, raw := c.dc, c.raw
	c.dc, c.raw = nil, nil
	c.mu.Unlock()
	if dc != nil {
		_ = dc.Close()
	}
	if raw != nil {
		_ = raw.Close()
	}
}
