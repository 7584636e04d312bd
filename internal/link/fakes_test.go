package link

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/hostlink/internal/discovery"
	"github.com/danmuck/hostlink/internal/protocol/frame"
	"github.com/danmuck/hostlink/internal/protocol/session"
	"github.com/danmuck/hostlink/internal/transport"
)

var fakeIDs atomic.Int64

type fakeConn struct {
	id     string
	remote string

	mu        sync.Mutex
	emit      func(transport.Event)
	writes    [][]byte
	started   bool
	cancelled bool
	writeErr  error
}

func newFakeConn(remote string) *fakeConn {
	return &fakeConn{id: fmt.Sprintf("fake-%d", fakeIDs.Add(1)), remote: remote}
}

func (f *fakeConn) ID() string     { return f.id }
func (f *fakeConn) Remote() string { return f.remote }

func (f *fakeConn) Start(emit func(transport.Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	f.emit = emit
}

func (f *fakeConn) Write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	return nil
}

func (f *fakeConn) Cancel() {
	f.mu.Lock()
	if f.cancelled {
		f.mu.Unlock()
		return
	}
	f.cancelled = true
	emit := f.emit
	f.mu.Unlock()
	if emit != nil {
		go emit(transport.Event{Kind: transport.EventCancelled})
	}
}

func (f *fakeConn) fire(ev transport.Event) {
	f.mu.Lock()
	emit := f.emit
	f.mu.Unlock()
	if emit != nil {
		emit(ev)
	}
}

func (f *fakeConn) isStarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *fakeConn) isCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// messages decodes everything written so far.
func (f *fakeConn) messages(t *testing.T) []frame.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	dec := frame.NewDecoder(frame.DefaultLimits())
	var out []frame.Message
	for _, w := range f.writes {
		msgs, err := dec.Drain(w)
		if err != nil {
			t.Fatalf("decode writes: %v", err)
		}
		out = append(out, msgs...)
	}
	return out
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) Dial(addr string) transport.Conn {
	conn := newFakeConn(addr)
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn
}

func (d *fakeDialer) conn(t *testing.T, i int) *fakeConn {
	t.Helper()
	var conn *fakeConn
	waitForCondition(t, time.Second, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		if len(d.conns) > i {
			conn = d.conns[i]
			return true
		}
		return false
	})
	return conn
}

// fakeBrowser reports the same endpoints once per browse.
type fakeBrowser struct {
	endpoints []discovery.Endpoint
	active    atomic.Int64
}

func (b *fakeBrowser) Browse(ctx context.Context, found func(discovery.Endpoint)) error {
	b.active.Add(1)
	defer b.active.Add(-1)
	for _, ep := range b.endpoints {
		found(ep)
	}
	<-ctx.Done()
	return nil
}

type fakeListener struct {
	conns  chan transport.Conn
	closed chan struct{}
	once   sync.Once
}

func newFakeListener() *fakeListener {
	return &fakeListener{conns: make(chan transport.Conn), closed: make(chan struct{})}
}

func (l *fakeListener) Accept() (transport.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, transport.ErrClosed
	}
}

func (l *fakeListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7420}
}

func (l *fakeListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *fakeListener) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

type recordingAdvertiser struct {
	port     atomic.Int64
	shutdown atomic.Bool
}

func (a *recordingAdvertiser) Advertise(port int) (discovery.Advertisement, error) {
	a.port.Store(int64(port))
	return a, nil
}

func (a *recordingAdvertiser) Shutdown() error {
	a.shutdown.Store(true)
	return nil
}

func fastSession() session.Config {
	cfg := session.DefaultConfig()
	cfg.HeartbeatInterval = time.Hour
	cfg.Backoff = session.BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 1, MaxDelay: 10 * time.Millisecond}
	return cfg
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// nextState returns the next published state or fails.
func nextState(t *testing.T, c *Core) State {
	t.Helper()
	select {
	case s, ok := <-c.States():
		if !ok {
			t.Fatalf("state stream closed")
		}
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("no state change within timeout")
	}
	return State{}
}

func expectState(t *testing.T, c *Core, kind StateKind) State {
	t.Helper()
	s := nextState(t, c)
	if s.Kind != kind {
		t.Fatalf("state = %s, want %s", s, kind)
	}
	return s
}

func nextMessage(t *testing.T, c *Core) frame.Message {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		if !ok {
			t.Fatalf("message stream closed")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no message within timeout")
	}
	return frame.Message{}
}
