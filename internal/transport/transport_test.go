package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/danmuck/hostlink/internal/protocol/frame"
	"github.com/danmuck/hostlink/internal/protocol/session"
	"github.com/danmuck/hostlink/internal/testutil/testlog"
)

func TestStreamPacketConnPreservesDatagramBoundaries(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	left := newStreamPacketConn(a)
	right := newStreamPacketConn(b)

	sent := [][]byte{[]byte("one"), bytes.Repeat([]byte{0xAB}, 1500), {}}
	go func() {
		for _, p := range sent {
			if _, err := left.WriteTo(p, nil); err != nil {
				return
			}
		}
	}()

	buf := make([]byte, 4096)
	for i, want := range sent {
		n, addr, err := right.ReadFrom(buf)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if addr == nil {
			t.Fatalf("read %d: nil addr", i)
		}
		if !bytes.Equal(buf[:n], want) {
			t.Fatalf("read %d: got %d bytes want %d", i, n, len(want))
		}
	}
}

func TestStreamPacketConnShortBuffer(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	left := newStreamPacketConn(a)
	right := newStreamPacketConn(b)

	go func() {
		_, _ = left.WriteTo([]byte("too long for buffer"), nil)
		_, _ = left.WriteTo([]byte("ok"), nil)
	}()

	small := make([]byte, 4)
	if _, _, err := right.ReadFrom(small); !errors.Is(err, io.ErrShortBuffer) {
		t.Fatalf("expected short buffer, got %v", err)
	}
	n, _, err := right.ReadFrom(small)
	if err != nil || string(small[:n]) != "ok" {
		t.Fatalf("next datagram not aligned: %q %v", small[:n], err)
	}
}

func TestWriteBeforeReadyFails(t *testing.T) {
	testlog.Start(t)
	d, err := NewDialer(testOptions(t, "alpha"))
	if err != nil {
		t.Fatalf("dialer: %v", err)
	}
	conn := d.Dial("127.0.0.1:1")
	if err := conn.Write([]byte("x")); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	conn.Cancel()
}

func TestSecureConnExchangesData(t *testing.T) {
	testlog.Start(t)
	opts := testOptions(t, "alpha")
	ln, err := Listen(context.Background(), "127.0.0.1:0", opts)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverEvents := acceptAndStart(t, ln)

	d, err := NewDialer(opts)
	if err != nil {
		t.Fatalf("dialer: %v", err)
	}
	client := d.Dial(ln.Addr().String())
	clientEvents := make(chan Event, 64)
	client.Start(func(ev Event) { clientEvents <- ev })
	defer client.Cancel()

	waitForKind(t, clientEvents, EventPreparing)
	waitForKind(t, clientEvents, EventReady)
	waitForKind(t, serverEvents, EventReady)

	payload := bytes.Repeat([]byte("hostlink"), 3000)
	if err := client.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	var got []byte
	deadline := time.After(5 * time.Second)
	for len(got) < len(payload) {
		select {
		case ev := <-serverEvents:
			if ev.Kind == EventData {
				got = append(got, ev.Data...)
			}
		case <-deadline:
			t.Fatalf("received %d of %d bytes", len(got), len(payload))
		}
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload corrupted")
	}

	client.Cancel()
	waitForKind(t, clientEvents, EventCancelled)
	waitForKind(t, serverEvents, EventFailed)
}

func TestRecordPayloadFitsReadBuffer(t *testing.T) {
	testlog.Start(t)
	if maxRecordPayload+37 > recordReadBuffer {
		t.Fatalf("sealed record of %d bytes exceeds read buffer %d", maxRecordPayload+37, recordReadBuffer)
	}
}

func TestSecureConnDeliversBodiesAcrossRecordBoundaries(t *testing.T) {
	testlog.Start(t)
	client, clientEvents, serverEvents := connectedPair(t, testOptions(t, "alpha"))

	sizes := []int{
		maxRecordPayload - frame.HeaderLen,
		maxRecordPayload,
		maxRecordPayload + 1,
		recordReadBuffer,
		recordReadBuffer + 1,
		3 * maxRecordPayload,
		3 << 20,
	}
	dec := frame.NewDecoder(frame.DefaultLimits())
	for i, size := range sizes {
		body := make([]byte, size)
		for j := range body {
			body[j] = byte(i + j)
		}
		if err := client.Write(frame.EncodeMessage(frame.PayloadRecordedSpeechChunk, body)); err != nil {
			t.Fatalf("size %d: write: %v", size, err)
		}

		var msgs []frame.Message
		deadline := time.After(10 * time.Second)
		for len(msgs) == 0 {
			select {
			case ev := <-serverEvents:
				switch ev.Kind {
				case EventData:
					out, err := dec.Drain(ev.Data)
					if err != nil {
						t.Fatalf("size %d: decode: %v", size, err)
					}
					msgs = append(msgs, out...)
				case EventFailed, EventCancelled, EventWaiting:
					t.Fatalf("size %d: server ended with %s: %v", size, ev.Kind, ev.Err)
				}
			case ev := <-clientEvents:
				t.Fatalf("size %d: unexpected client event %s: %v", size, ev.Kind, ev.Err)
			case <-deadline:
				t.Fatalf("size %d: message not delivered, %d bytes buffered", size, dec.Buffered())
			}
		}
		if len(msgs) != 1 || msgs[0].Payload != frame.PayloadRecordedSpeechChunk {
			t.Fatalf("size %d: got %d messages", size, len(msgs))
		}
		if !bytes.Equal(msgs[0].Data, body) {
			t.Fatalf("size %d: body corrupted", size)
		}
	}

	select {
	case ev := <-clientEvents:
		t.Fatalf("client ended after exchange: %s %v", ev.Kind, ev.Err)
	case ev := <-serverEvents:
		t.Fatalf("server ended after exchange: %s %v", ev.Kind, ev.Err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWriteDoesNotWaitForStalledPeer(t *testing.T) {
	testlog.Start(t)
	opts := testOptions(t, "alpha")
	opts.WriteTimeout = 10 * time.Second
	ln, err := Listen(context.Background(), "127.0.0.1:0", opts)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	gate := make(chan struct{})
	serverEvents := make(chan Event, 1024)
	accepted := make(chan Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		conn.Start(func(ev Event) {
			if ev.Kind == EventData {
				<-gate
			}
			serverEvents <- ev
		})
		accepted <- conn
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		if conn, ok := <-accepted; ok {
			conn.Cancel()
		}
	})

	d, err := NewDialer(opts)
	if err != nil {
		t.Fatalf("dialer: %v", err)
	}
	client := d.Dial(ln.Addr().String())
	clientEvents := make(chan Event, 64)
	client.Start(func(ev Event) { clientEvents <- ev })
	defer client.Cancel()
	waitForKind(t, clientEvents, EventReady)
	waitForKind(t, serverEvents, EventReady)

	const writes = 16
	chunk := bytes.Repeat([]byte{0x5A}, 1<<20)
	start := time.Now()
	for i := 0; i < writes; i++ {
		if err := client.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("writes blocked on stalled peer for %v", elapsed)
	}

	close(gate)
	total := 0
	deadline := time.After(10 * time.Second)
	for total < writes*len(chunk) {
		select {
		case ev := <-serverEvents:
			switch ev.Kind {
			case EventData:
				total += len(ev.Data)
			case EventFailed, EventCancelled:
				t.Fatalf("server ended with %s after %d bytes: %v", ev.Kind, total, ev.Err)
			}
		case <-deadline:
			t.Fatalf("received %d of %d bytes", total, writes*len(chunk))
		}
	}
}

func TestSecureConnRejectsMismatchedKey(t *testing.T) {
	testlog.Start(t)
	ln, err := Listen(context.Background(), "127.0.0.1:0", testOptions(t, "alpha"))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverEvents := acceptAndStart(t, ln)

	d, err := NewDialer(testOptions(t, "bravo"))
	if err != nil {
		t.Fatalf("dialer: %v", err)
	}
	client := d.Dial(ln.Addr().String())
	clientEvents := make(chan Event, 64)
	client.Start(func(ev Event) { clientEvents <- ev })
	defer client.Cancel()

	ev := waitForKind(t, clientEvents, EventWaiting)
	if !errors.Is(ev.Err, ErrHandshake) {
		t.Fatalf("expected handshake error, got %v", ev.Err)
	}
	if ev := waitForTerminal(t, serverEvents); ev.Kind == EventReady {
		t.Fatalf("server became ready with mismatched key")
	}
}

func TestCancelBeforeConnectReportsCancelled(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			defer c.Close()
			_, _ = io.Copy(io.Discard, c)
		}
	}()

	d, err := NewDialer(testOptions(t, "alpha"))
	if err != nil {
		t.Fatalf("dialer: %v", err)
	}
	conn := d.Dial(ln.Addr().String())
	events := make(chan Event, 16)
	conn.Start(func(ev Event) { events <- ev })
	waitForKind(t, events, EventPreparing)
	conn.Cancel()
	waitForKind(t, events, EventCancelled)
}

func acceptAndStart(t *testing.T, ln *SecureListener) <-chan Event {
	t.Helper()
	events := make(chan Event, 64)
	accepted := make(chan Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		conn.Start(func(ev Event) { events <- ev })
		accepted <- conn
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		if conn, ok := <-accepted; ok {
			conn.Cancel()
		}
	})
	return events
}

// connectedPair returns a ready client and the event streams of both sides.
func connectedPair(t *testing.T, opts Options) (Conn, <-chan Event, <-chan Event) {
	t.Helper()
	ln, err := Listen(context.Background(), "127.0.0.1:0", opts)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	serverEvents := acceptAndStart(t, ln)

	d, err := NewDialer(opts)
	if err != nil {
		t.Fatalf("dialer: %v", err)
	}
	client := d.Dial(ln.Addr().String())
	clientEvents := make(chan Event, 64)
	client.Start(func(ev Event) { clientEvents <- ev })
	t.Cleanup(client.Cancel)

	waitForKind(t, clientEvents, EventReady)
	waitForKind(t, serverEvents, EventReady)
	return client, clientEvents, serverEvents
}

func testOptions(t *testing.T, seed string) Options {
	t.Helper()
	key := bytes.Repeat([]byte(seed), 32/len(seed)+1)[:32]
	cfg := session.DefaultConfig()
	cfg.HandshakeTimeout = time.Second
	return NewOptions(cfg, session.NewSecurityDescriptor(key, ""))
}

func waitForKind(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

// waitForTerminal returns the first ready, waiting, failed, or cancelled event.
func waitForTerminal(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-ch:
			switch ev.Kind {
			case EventReady, EventWaiting, EventFailed, EventCancelled:
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for terminal event")
		}
	}
}
