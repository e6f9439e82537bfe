package transport

import (
	"encoding/binary"
	"io"
	"net"
	"time"
)

// MaxFramePayload is the hard cap on frame size spec.md §3 mandates:
// 16 MiB. A declared length above this is rejected before the payload
// is read, so an attacker cannot force an oversized allocation.
const MaxFramePayload = 16 * 1024 * 1024

// DefaultIOTimeout is the per-read/per-write deadline spec.md §4.2 and
// §5 mandate when the caller does not override it.
const DefaultIOTimeout = 30 * time.Second

const lengthPrefixSize = 4

// ReadFrame reads one length-prefixed frame from conn, applying
// timeout as the read deadline, and decodes it into a Message. Any
// short read, oversized declared length, malformed tag, or decode
// failure returns a KindProtocol error and the caller must close conn.
func ReadFrame(conn net.Conn, timeout time.Duration) (*Message, error) {
	if timeout <= 0 {
		timeout = DefaultIOTimeout
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, wrapErr(KindIO, "set read deadline", err)
	}

	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, classifyReadErr(err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFramePayload {
		return nil, newErr(KindProtocol, "frame exceeds maximum payload size")
	}
	if length == 0 {
		return nil, newErr(KindProtocol, "empty frame")
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, classifyReadErr(err)
	}

	msg, err := decodeMessage(payload)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// WriteFrame encodes m and writes it to conn as a single
// length-prefixed frame, applying timeout as the write deadline. The
// write is all-or-nothing: either the full frame reaches the
// connection's send buffer or an error is returned and the caller
// must close conn.
func WriteFrame(conn net.Conn, m *Message, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultIOTimeout
	}
	payload := m.encode()
	if len(payload) > MaxFramePayload {
		return newErr(KindPolicy, "outgoing frame exceeds maximum payload size")
	}
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return wrapErr(KindIO, "set write deadline", err)
	}

	frame := make([]byte, lengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame[:lengthPrefixSize], uint32(len(payload)))
	copy(frame[lengthPrefixSize:], payload)

	if _, err := conn.Write(frame); err != nil {
		return classifyWriteErr(err)
	}
	return nil
}

func classifyReadErr(err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return wrapErr(KindProtocol, "read timeout", err)
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return wrapErr(KindProtocol, "connection closed mid-frame", err)
	}
	return wrapErr(KindIO, "read failed", err)
}

func classifyWriteErr(err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return wrapErr(KindProtocol, "write timeout", err)
	}
	return wrapErr(KindIO, "write failed", err)
}
