package link

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/danmuck/hostlink/internal/discovery"
	"github.com/danmuck/hostlink/internal/observability"
	"github.com/danmuck/hostlink/internal/protocol/frame"
	"github.com/danmuck/hostlink/internal/protocol/session"
	"github.com/danmuck/hostlink/internal/transport"
	"github.com/rs/zerolog/log"
)

var ErrNoBrowser = errors.New("link: initiator requires a browser")

// InitiatorConfig configures the discover-and-dial role. Dialer is built
// from Session and Security when nil.
type InitiatorConfig struct {
	Session  session.Config
	Security session.SecurityDescriptor
	Browser  discovery.Browser
	Dialer   transport.Dialer
}

// Initiator browses for an advertised peer and dials the first candidate.
type Initiator struct {
	*Core
	strategy *dialStrategy
}

func NewInitiator(cfg InitiatorConfig) (*Initiator, error) {
	if cfg.Browser == nil {
		return nil, ErrNoBrowser
	}
	sess := cfg.Session.WithDefaults()
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	dialer := cfg.Dialer
	if dialer == nil {
		if err := cfg.Security.Validate(); err != nil {
			return nil, err
		}
		d, err := transport.NewDialer(transport.NewOptions(sess, cfg.Security))
		if err != nil {
			return nil, err
		}
		dialer = d
	}
	strategy := &dialStrategy{
		browser: cfg.Browser,
		dialer:  dialer,
		backoff: sess.Backoff,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		metrics: observability.NewLinkMetrics(string(RoleInitiator)),
	}
	return &Initiator{Core: newCore(strategy, sess), strategy: strategy}, nil
}

// Connect starts browsing and returns the inbound message stream.
func (i *Initiator) Connect(ctx context.Context) (<-chan frame.Message, error) {
	if err := i.Start(ctx); err != nil {
		return nil, err
	}
	return i.Messages(), nil
}

// Browses returns how many discovery operations have been started.
func (i *Initiator) Browses() int {
	return int(i.strategy.browses.Load())
}

type dialStrategy struct {
	browser discovery.Browser
	dialer  transport.Dialer
	backoff session.BackoffConfig
	rng     *rand.Rand
	metrics observability.LinkMetrics

	ctx          context.Context
	cancelBrowse context.CancelFunc
	browses      atomic.Int64
}

func (d *dialStrategy) Role() Role {
	return RoleInitiator
}

func (d *dialStrategy) IdleState() StateKind {
	return StateSearching
}

func (d *dialStrategy) Open(ctx context.Context, _ Sink) error {
	d.ctx = ctx
	return nil
}

// Rearm starts a browse unless one is already outstanding.
func (d *dialStrategy) Rearm(sink Sink) {
	if d.cancelBrowse != nil || d.ctx == nil {
		return
	}
	ctx, cancel := context.WithCancel(d.ctx)
	d.cancelBrowse = cancel
	d.browses.Add(1)
	d.metrics.BrowseStarted()

	go func() {
		err := d.browser.Browse(ctx, func(ep discovery.Endpoint) {
			if ctx.Err() != nil {
				return
			}
			log.Debug().Str("component", "link").Str("instance", ep.Instance).Str("addr", ep.Addr).Msg("peer discovered")
			sink.Offer(d.dialer.Dial(ep.Addr))
		})
		if err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("component", "link").Msg("browse ended")
		}
	}()
}

func (d *dialStrategy) Settle() {
	if d.cancelBrowse != nil {
		d.cancelBrowse()
		d.cancelBrowse = nil
	}
}

func (d *dialStrategy) Accepts(current StateKind) bool {
	return current == StateSearching
}

func (d *dialStrategy) RetryAfter(attempt int) (time.Duration, bool) {
	return session.NextBackoffDelay(d.backoff, attempt, d.rng), true
}

func (d *dialStrategy) Close() {
	d.Settle()
}
