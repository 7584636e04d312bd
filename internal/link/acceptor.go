package link

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/danmuck/hostlink/internal/discovery"
	"github.com/danmuck/hostlink/internal/protocol/frame"
	"github.com/danmuck/hostlink/internal/protocol/session"
	"github.com/danmuck/hostlink/internal/transport"
	"github.com/rs/zerolog/log"
)

const acceptRetryDelay = 50 * time.Millisecond

// ListenFunc binds the long-lived acceptor listener.
type ListenFunc func(ctx context.Context, addr string) (transport.Listener, error)

// AcceptorConfig configures the advertise-and-listen role. Listen defaults
// to a secure listener built from Session and Security; Advertiser defaults
// to no announcement.
type AcceptorConfig struct {
	Session    session.Config
	Security   session.SecurityDescriptor
	ListenAddr string
	Advertiser discovery.Advertiser
	Listen     ListenFunc
}

// Acceptor advertises the link service and drives every inbound
// connection through the Core. Its listener lives until Shutdown.
type Acceptor struct {
	*Core
	strategy *listenStrategy
}

func NewAcceptor(cfg AcceptorConfig) (*Acceptor, error) {
	sess := cfg.Session.WithDefaults()
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	listen := cfg.Listen
	if listen == nil {
		if err := cfg.Security.Validate(); err != nil {
			return nil, err
		}
		opts := transport.NewOptions(sess, cfg.Security)
		listen = func(ctx context.Context, addr string) (transport.Listener, error) {
			return transport.Listen(ctx, addr, opts)
		}
	}
	advertiser := cfg.Advertiser
	if advertiser == nil {
		advertiser = discovery.NopAdvertiser{}
	}
	addr := cfg.ListenAddr
	if addr == "" {
		addr = ":0"
	}
	strategy := &listenStrategy{
		addr:       addr,
		listen:     listen,
		advertiser: advertiser,
	}
	return &Acceptor{Core: newCore(strategy, sess), strategy: strategy}, nil
}

// Listen binds, advertises, and returns the inbound message stream.
func (a *Acceptor) Listen(ctx context.Context) (<-chan frame.Message, error) {
	if err := a.Start(ctx); err != nil {
		return nil, err
	}
	return a.Messages(), nil
}

// Listener returns the long-lived listener, or nil before Listen.
func (a *Acceptor) Listener() transport.Listener {
	return a.strategy.listener.Load()
}

// Addr returns the bound listener address, or nil before Listen.
func (a *Acceptor) Addr() net.Addr {
	if ln := a.Listener(); ln != nil {
		return ln.Addr()
	}
	return nil
}

type listenStrategy struct {
	addr       string
	listen     ListenFunc
	advertiser discovery.Advertiser

	listener atomicListener
	ad       discovery.Advertisement
}

func (l *listenStrategy) Role() Role {
	return RoleAcceptor
}

func (l *listenStrategy) IdleState() StateKind {
	return StateUnconnected
}

func (l *listenStrategy) Open(ctx context.Context, sink Sink) error {
	ln, err := l.listen(ctx, l.addr)
	if err != nil {
		return err
	}
	ad, err := l.advertiser.Advertise(listenerPort(ln.Addr()))
	if err != nil {
		_ = ln.Close()
		return err
	}
	l.listener.Store(ln)
	l.ad = ad
	log.Info().Str("component", "link").Str("addr", ln.Addr().String()).Msg("link listener armed")
	go acceptLoop(ln, sink)
	return nil
}

func acceptLoop(ln transport.Listener, sink Sink) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn().Err(err).Str("component", "link").Msg("accept failed")
			time.Sleep(acceptRetryDelay)
			continue
		}
		sink.Offer(conn)
	}
}

func (l *listenStrategy) Rearm(Sink) {}

func (l *listenStrategy) Settle() {}

// Accepts takes every inbound connection; a newer one replaces the active
// transport so a restarted peer is never locked out.
func (l *listenStrategy) Accepts(StateKind) bool {
	return true
}

func (l *listenStrategy) RetryAfter(int) (time.Duration, bool) {
	return 0, false
}

func (l *listenStrategy) Close() {
	if l.ad != nil {
		if err := l.ad.Shutdown(); err != nil {
			log.Warn().Err(err).Str("component", "link").Msg("advertisement shutdown failed")
		}
		l.ad = nil
	}
	if ln := l.listener.Load(); ln != nil {
		_ = ln.Close()
	}
}

func listenerPort(addr net.Addr) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}

type atomicListener struct {
	v atomic.Pointer[listenerBox]
}

type listenerBox struct {
	ln transport.Listener
}

func (a *atomicListener) Store(ln transport.Listener) {
	a.v.Store(&listenerBox{ln: ln})
}

func (a *atomicListener) Load() transport.Listener {
	if box := a.v.Load(); box != nil {
		return box.ln
	}
	return nil
}
