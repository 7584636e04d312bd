package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"
)

// streamPacketConn carries datagrams over a stream connection, each
// prefixed by its 2-byte big-endian length (RFC 4571 framing). It lets the
// DTLS record layer run over TCP with ordered, reliable delivery.
type streamPacketConn struct {
	conn net.Conn
	rmu  sync.Mutex
	wmu  sync.Mutex
}

func newStreamPacketConn(conn net.Conn) *streamPacketConn {
	return &streamPacketConn{conn: conn}
}

func (s *streamPacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()

	var hdr [2]byte
	if _, err := io.ReadFull(s.conn, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := int(binary.BigEndian.Uint16(hdr[:]))
	if n > len(p) {
		if _, err := io.CopyN(io.Discard, s.conn, int64(n)); err != nil {
			return 0, nil, err
		}
		return 0, s.conn.RemoteAddr(), io.ErrShortBuffer
	}
	if _, err := io.ReadFull(s.conn, p[:n]); err != nil {
		return 0, nil, err
	}
	return n, s.conn.RemoteAddr(), nil
}

func (s *streamPacketConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	if len(p) > math.MaxUint16 {
		return 0, fmt.Errorf("transport: datagram too large: %d", len(p))
	}
	buf := make([]byte, 2+len(p))
	binary.BigEndian.PutUint16(buf[:2], uint16(len(p)))
	copy(buf[2:], p)

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.conn.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *streamPacketConn) Close() error {
	return s.conn.Close()
}

func (s *streamPacketConn) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *streamPacketConn) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

func (s *streamPacketConn) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

func (s *streamPacketConn) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}
