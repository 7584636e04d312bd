package link

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/hostlink/internal/observability"
	"github.com/danmuck/hostlink/internal/protocol/frame"
	"github.com/danmuck/hostlink/internal/protocol/session"
	"github.com/danmuck/hostlink/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyStarted = errors.New("link: already started")
	ErrShutdown       = errors.New("link: shut down")
)

const opQueueSize = 64

// Core is the role-agnostic connector: state machine, heartbeat, typed
// send and receive. Construct it through NewInitiator or NewAcceptor.
type Core struct {
	strategy RoleStrategy
	cfg      session.Config
	log      zerolog.Logger
	metrics  observability.LinkMetrics

	ctx    context.Context
	cancel context.CancelFunc

	ops       chan func()
	quit      chan struct{}
	opsClosed chan struct{}
	done      chan struct{}

	postMu     sync.RWMutex
	postClosed bool
	looping    atomic.Bool

	lifeMu  sync.Mutex
	running bool
	stopped bool

	messages *mailbox[frame.Message]
	states   *mailbox[State]
	snapshot atomic.Pointer[State]

	// Loop confined.
	state    State
	conn     transport.Conn
	connLog  zerolog.Logger
	decoder  *frame.Decoder
	idle     *session.IdleTimer
	retry    *time.Timer
	retryGen uint64
	attempt  int
	closing  bool
}

func newCore(strategy RoleStrategy, cfg session.Config) *Core {
	cfg = cfg.WithDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	role := string(strategy.Role())
	c := &Core{
		strategy:  strategy,
		cfg:       cfg,
		log:       log.With().Str("component", "link").Str("role", role).Logger(),
		metrics:   observability.NewLinkMetrics(role),
		ctx:       ctx,
		cancel:    cancel,
		ops:       make(chan func(), opQueueSize),
		quit:      make(chan struct{}),
		opsClosed: make(chan struct{}),
		done:      make(chan struct{}),
		messages:  newMailbox[frame.Message](),
		states:    newMailbox[State](),
		state:     State{Kind: StateBoot},
		idle:      session.NewIdleTimer(cfg.HeartbeatInterval),
	}
	c.connLog = c.log
	boot := c.state
	c.snapshot.Store(&boot)
	return c
}

// Start arms the role and moves the Core out of boot. Cancelling ctx shuts
// the Core down.
func (c *Core) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	if c.stopped {
		c.lifeMu.Unlock()
		return ErrShutdown
	}
	if c.running {
		c.lifeMu.Unlock()
		return ErrAlreadyStarted
	}
	c.running = true
	c.looping.Store(true)
	go c.loop()
	c.lifeMu.Unlock()

	var err error
	if !c.call(func() {
		if err = c.strategy.Open(c.ctx, c); err != nil {
			return
		}
		c.enterIdle()
	}) {
		return ErrShutdown
	}
	if err != nil {
		c.log.Error().Err(err).Msg("link start failed")
		c.Shutdown()
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			c.Shutdown()
		case <-c.done:
		}
	}()
	return nil
}

// Messages is the ordered inbound stream. It closes after Shutdown once
// drained; messages left unread for 30s after Shutdown are discarded.
func (c *Core) Messages() <-chan frame.Message {
	return c.messages.Out()
}

// States streams every state change. It closes after Shutdown, with the
// same discard rule as Messages.
func (c *Core) States() <-chan State {
	return c.states.Out()
}

// State returns the most recent state.
func (c *Core) State() State {
	return *c.snapshot.Load()
}

func (c *Core) Role() Role {
	return c.strategy.Role()
}

// Send hands one message to the transport and returns once it has been
// written. It is silently dropped unless the link is connected.
func (c *Core) Send(payload frame.Payload, body []byte) {
	if !c.call(func() { c.send(payload, body) }) {
		c.drop(payload, "link not running")
	}
}

// Disconnect cancels the active transport, if any. The role then returns
// to its idle state as for any cancelled connection.
func (c *Core) Disconnect() {
	c.post(func() {
		if c.conn != nil {
			c.connLog.Info().Msg("disconnect requested")
			c.conn.Cancel()
		}
	})
}

// Shutdown cancels any transport, tears down discovery and the listener,
// and closes both streams. It is idempotent.
func (c *Core) Shutdown() {
	c.lifeMu.Lock()
	if c.stopped {
		c.lifeMu.Unlock()
		<-c.done
		return
	}
	c.stopped = true
	running := c.running
	c.lifeMu.Unlock()

	if !running {
		c.postMu.Lock()
		c.postClosed = true
		c.postMu.Unlock()
		c.cancel()
		c.messages.Close()
		c.states.Close()
		close(c.done)
		return
	}
	close(c.quit)
	<-c.done
}

// Offer hands a candidate transport to the loop. Offers that arrive after
// shutdown, or in a state the role does not accept, are cancelled.
func (c *Core) Offer(conn transport.Conn) {
	if !c.post(func() { c.accept(conn) }) {
		conn.Cancel()
	}
}

func (c *Core) post(fn func()) bool {
	c.postMu.RLock()
	defer c.postMu.RUnlock()
	if c.postClosed || !c.looping.Load() {
		return false
	}
	c.ops <- fn
	return true
}

// call runs fn on the loop and waits for it. A posted op always runs, either
// on the live loop or while the loop drains at shutdown.
func (c *Core) call(fn func()) bool {
	done := make(chan struct{})
	if !c.post(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	<-done
	return true
}

func (c *Core) loop() {
	defer close(c.done)
	for {
		select {
		case op := <-c.ops:
			op()
		case <-c.idle.C():
			if c.idle.Fired() {
				c.onIdle()
			}
		case <-c.quit:
			c.stop()
			return
		}
	}
}

// stop tears everything down, refuses new posts, then runs whatever was
// already posted with closing set.
func (c *Core) stop() {
	c.closing = true
	c.teardown()

	go func() {
		c.postMu.Lock()
		c.postClosed = true
		c.postMu.Unlock()
		close(c.opsClosed)
	}()
	for {
		select {
		case op := <-c.ops:
			op()
		case <-c.opsClosed:
			for {
				select {
				case op := <-c.ops:
					op()
				default:
					c.messages.Close()
					c.states.Close()
					c.log.Info().Msg("link shut down")
					return
				}
			}
		}
	}
}

func (c *Core) teardown() {
	c.stopRetry()
	c.idle.Stop()
	if c.conn != nil {
		conn := c.conn
		c.releaseConn()
		conn.Cancel()
	}
	c.strategy.Close()
	c.cancel()
}

func (c *Core) accept(conn transport.Conn) {
	if c.closing || !c.strategy.Accepts(c.state.Kind) {
		conn.Cancel()
		return
	}
	if c.conn != nil {
		old := c.conn
		c.connLog.Info().Str("next_conn_id", conn.ID()).Msg("replacing active transport")
		c.releaseConn()
		old.Cancel()
	}
	c.stopRetry()
	c.strategy.Settle()

	c.conn = conn
	c.decoder = frame.NewDecoder(c.cfg.Limits)
	c.connLog = c.log.With().Str("conn_id", conn.ID()).Logger()
	peer := &Peer{ConnID: conn.ID(), Remote: conn.Remote(), Since: time.Now()}
	c.transition(State{Kind: StateConnecting, Peer: peer})

	conn.Start(func(ev transport.Event) {
		c.post(func() { c.handle(conn, ev) })
	})
}

func (c *Core) handle(conn transport.Conn, ev transport.Event) {
	if c.closing || conn != c.conn {
		return
	}
	switch ev.Kind {
	case transport.EventPreparing:
	case transport.EventReady:
		peer := &Peer{ConnID: conn.ID(), Remote: conn.Remote(), Since: time.Now()}
		c.attempt = 0
		c.transition(State{Kind: StateConnected, Peer: peer})
		c.send(frame.PayloadHello, frame.EmptyData)
	case transport.EventWaiting:
		c.connLog.Warn().Err(ev.Err).Msg("transport waiting")
		c.releaseConn()
		conn.Cancel()
		c.transition(State{Kind: StateError, Err: ev.Err})
		c.scheduleRetry()
	case transport.EventFailed:
		c.connLog.Warn().Err(ev.Err).Msg("transport failed")
		c.releaseConn()
		c.enterIdle()
	case transport.EventCancelled:
		c.connLog.Info().Msg("transport cancelled")
		c.releaseConn()
		c.enterIdle()
	case transport.EventData:
		c.receive(ev.Data)
	}
}

func (c *Core) send(payload frame.Payload, body []byte) {
	if c.closing || c.state.Kind != StateConnected || c.conn == nil {
		c.drop(payload, string(c.state.Kind))
		return
	}
	if err := c.conn.Write(frame.EncodeMessage(payload, body)); err != nil {
		c.connLog.Warn().Err(err).Str("payload", payload.String()).Msg("transport write failed")
		c.conn.Cancel()
		return
	}
	c.metrics.Sent(payload.String())
	c.idle.Touch()
}

func (c *Core) drop(payload frame.Payload, reason string) {
	c.metrics.Dropped(payload.String())
	c.log.Debug().Str("payload", payload.String()).Str("reason", reason).Msg("send dropped")
}

func (c *Core) receive(data []byte) {
	if c.decoder == nil {
		return
	}
	c.idle.Touch()
	msgs, err := c.decoder.Drain(data)
	for _, msg := range msgs {
		c.messages.Push(msg)
		c.metrics.Received(msg.Payload.String())
	}
	if err != nil {
		c.connLog.Warn().Err(err).Msg("inbound stream unreadable")
		c.decoder = nil
		c.conn.Cancel()
	}
}

func (c *Core) onIdle() {
	if c.closing || c.state.Kind != StateConnected {
		return
	}
	c.connLog.Debug().Msg("sending heartbeat")
	c.metrics.Heartbeat()
	c.send(frame.PayloadHeartbeat, frame.EmptyData)
}

// enterIdle re-arms the role before publishing the idle state. Offers from
// the re-armed role are posted, so they are handled after the transition.
func (c *Core) enterIdle() {
	c.stopRetry()
	c.strategy.Rearm(c)
	c.transition(State{Kind: c.strategy.IdleState()})
}

func (c *Core) scheduleRetry() {
	c.attempt++
	delay, ok := c.strategy.RetryAfter(c.attempt)
	if !ok {
		return
	}
	c.stopRetry()
	gen := c.retryGen
	c.log.Debug().Dur("delay", delay).Int("attempt", c.attempt).Msg("retry scheduled")
	c.retry = time.AfterFunc(delay, func() {
		c.post(func() {
			if c.closing || gen != c.retryGen || c.state.Kind != StateError {
				return
			}
			c.enterIdle()
		})
	})
}

func (c *Core) stopRetry() {
	c.retryGen++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

// releaseConn forgets the active transport without cancelling it, so any
// later events from it are ignored.
func (c *Core) releaseConn() {
	if c.state.Kind == StateConnected && c.state.Peer != nil {
		c.metrics.ConnectionClosed(time.Since(c.state.Peer.Since))
	}
	c.conn = nil
	c.decoder = nil
	c.idle.Stop()
	c.connLog = c.log
}

func (c *Core) transition(next State) {
	if c.state.same(next) {
		return
	}
	prev := c.state
	c.state = next
	snap := next
	c.snapshot.Store(&snap)
	c.metrics.Transition(string(next.Kind))
	evt := c.log.Info()
	if next.Kind == StateError {
		evt = c.log.Warn().Err(next.Err)
	}
	if next.Peer != nil {
		evt = evt.Str("conn_id", next.Peer.ConnID).Str("remote", next.Peer.Remote)
	}
	evt.Str("from", string(prev.Kind)).Str("to", string(next.Kind)).Msg("link state")
	c.states.Push(next)
}
