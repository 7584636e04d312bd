package link

import (
	"sync"
	"time"
)

// drainGrace is how long a closed mailbox keeps unread items for its
// consumer before discarding them.
const drainGrace = 30 * time.Second

// mailbox is an unbounded FIFO feeding a channel. Push never blocks, so a
// slow consumer cannot stall the event loop. After Close, queued items are
// still delivered before the channel is closed, unless the consumer leaves
// them unread for longer than grace.
type mailbox[T any] struct {
	mu      sync.Mutex
	queue   []T
	closed  bool
	grace   time.Duration
	wake    chan struct{}
	out     chan T
	abandon chan struct{}
	discard sync.Once
}

func newMailbox[T any]() *mailbox[T] {
	m := &mailbox[T]{
		grace:   drainGrace,
		wake:    make(chan struct{}, 1),
		out:     make(chan T),
		abandon: make(chan struct{}),
	}
	go m.pump()
	return m
}

func (m *mailbox[T]) Out() <-chan T {
	return m.out
}

// Push enqueues v and reports false once the mailbox is closed.
func (m *mailbox[T]) Push(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, v)
	m.mu.Unlock()
	m.signal()
	return true
}

func (m *mailbox[T]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	grace := m.grace
	m.mu.Unlock()
	m.signal()
	time.AfterFunc(grace, m.Discard)
}

// Discard drops every undelivered item and closes the channel.
func (m *mailbox[T]) Discard() {
	m.discard.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.queue = nil
		m.mu.Unlock()
		close(m.abandon)
	})
}

// Len returns the number of items not yet taken by the consumer.
func (m *mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *mailbox[T]) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox[T]) pump() {
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-m.wake:
			case <-m.abandon:
				return
			}
			continue
		}
		v := m.queue[0]
		var zero T
		m.queue[0] = zero
		m.queue = m.queue[1:]
		m.mu.Unlock()
		select {
		case m.out <- v:
		case <-m.abandon:
			return
		}
	}
}
