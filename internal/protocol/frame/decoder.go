package frame

import "errors"

// Decoder reassembles messages from arbitrary inbound chunks. It yields a
// message only once header and body are fully buffered.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	limits Limits
	buf    []byte
}

func NewDecoder(limits Limits) *Decoder {
	return &Decoder{limits: limits}
}

// Feed appends one inbound chunk. The chunk is copied.
func (d *Decoder) Feed(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Next returns the next complete message. ok is false when more input is
// needed. A non-nil error means the stream cannot be resynchronized.
func (d *Decoder) Next() (Message, bool, error) {
	msg, n, err := DecodeMessage(d.buf, d.limits)
	if errors.Is(err, ErrIncomplete) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, err
	}
	d.buf = d.buf[n:]
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return msg, true, nil
}

// Drain feeds chunk and returns every message it completed, in wire order.
func (d *Decoder) Drain(chunk []byte) ([]Message, error) {
	d.Feed(chunk)
	var out []Message
	for {
		msg, ok, err := d.Next()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, msg)
	}
}

// Buffered returns the number of bytes waiting for a complete message.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}
