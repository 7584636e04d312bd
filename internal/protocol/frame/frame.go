package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderLen is the fixed wire header size: payload code (8) + body length (8).
const HeaderLen = 16

var (
	ErrShortHeader  = errors.New("frame: short fixed header")
	ErrIncomplete   = errors.New("frame: incomplete message")
	ErrBodyTooLarge = errors.New("frame: body too large")
)

// EmptyData is the explicit "no payload, but not none" body. It travels as a
// one byte body and decodes back to a single zero byte, unlike a nil body.
var EmptyData = []byte{0}

// Header is the fixed wire header. There is no checksum or version field.
type Header struct {
	Payload Payload
	Length  uint64
}

// Message is one complete link unit. Data is nil when the body length is 0.
type Message struct {
	Payload Payload
	Data    []byte
}

// IsEmptyData reports whether m carries the EmptyData sentinel body.
func (m Message) IsEmptyData() bool {
	return bytes.Equal(m.Data, EmptyData)
}

// Limits constrains decoder memory use.
type Limits struct {
	MaxBodyBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxBodyBytes: 16 * 1024 * 1024,
	}
}

func EncodeHeader(payload Payload, length uint64) []byte {
	buf := make([]byte, HeaderLen)
	putHeader(buf, payload, length)
	return buf
}

func putHeader(buf []byte, payload Payload, length uint64) {
	binary.BigEndian.PutUint64(buf[0:8], uint64(payload))
	binary.BigEndian.PutUint64(buf[8:16], length)
}

// DecodeHeader reads the first HeaderLen bytes of b. Unrecognized payload
// codes decode to PayloadUnknown rather than failing.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: have %d bytes", ErrShortHeader, len(b))
	}
	return Header{
		Payload: PayloadFromCode(binary.BigEndian.Uint64(b[0:8])),
		Length:  binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

// EncodeMessage returns header bytes followed by body bytes in one buffer.
func EncodeMessage(payload Payload, body []byte) []byte {
	buf := make([]byte, HeaderLen+len(body))
	putHeader(buf, payload, uint64(len(body)))
	copy(buf[HeaderLen:], body)
	return buf
}

// DecodeMessage decodes one message from the front of b and returns the
// number of bytes it consumed. ErrIncomplete means b does not yet hold a
// full message; nothing past len(b) is ever read.
func DecodeMessage(b []byte, limits Limits) (Message, int, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Message{}, 0, ErrIncomplete
	}
	if limits.MaxBodyBytes > 0 && h.Length > limits.MaxBodyBytes {
		return Message{}, 0, fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, h.Length, limits.MaxBodyBytes)
	}
	available := uint64(len(b) - HeaderLen)
	if available < h.Length {
		return Message{}, 0, ErrIncomplete
	}
	end := HeaderLen + int(h.Length)
	msg := Message{Payload: h.Payload}
	if h.Length > 0 {
		msg.Data = make([]byte, h.Length)
		copy(msg.Data, b[HeaderLen:end])
	}
	return msg, end, nil
}
