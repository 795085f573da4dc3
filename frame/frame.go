// Package frame implements the byte framing shared by the vehicle peripherals:
//
//	[0xA0][LEN][XOR checksum][payload...][0xA1]
//
// LEN is the payload byte count and the checksum is the XOR fold of the
// payload. Telemetry coming back from the vehicle firmware is not always
// wrapped this way, so Unwrap also accepts the bare "start byte then blocks"
// form.
package frame

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
)

const (
	Start = 0xA0
	End   = 0xA1

	// HeaderSize covers start, length and checksum.
	HeaderSize = 3
	// Overhead is the number of non-payload bytes in a framed buffer.
	Overhead = HeaderSize + 1

	MaxPayload = 0xFF
)

var (
	ErrEmpty     = errors.New("frame: empty buffer")
	ErrBadStart  = errors.New("frame: bad start byte")
	ErrChecksum  = errors.New("frame: checksum mismatch")
	ErrTruncated = errors.New("frame: truncated value")
	ErrTooLong   = errors.New("frame: payload exceeds 255 bytes")
)

// Checksum returns the XOR fold of payload.
func Checksum(payload []byte) byte {
	var cs byte
	for _, b := range payload {
		cs ^= b
	}
	return cs
}

// Encode wraps payload into a frame. Payloads longer than MaxPayload are cut
// to MaxPayload bytes since the length field is a single byte.
func Encode(payload []byte) []byte {
	if len(payload) > MaxPayload {
		payload = payload[:MaxPayload]
	}
	out := make([]byte, 0, len(payload)+Overhead)
	out = append(out, Start, byte(len(payload)), Checksum(payload))
	out = append(out, payload...)
	return append(out, End)
}

// Unwrap returns the payload of buf.
//
// A buffer whose length byte matches len(buf)-4 and that ends with End is
// treated as framed and its checksum is verified. Anything else that begins
// with Start is treated as a bare block stream: everything after the start
// byte, minus one trailing End if present.
func Unwrap(buf []byte) (payload []byte, framed bool, err error) {
	if len(buf) == 0 {
		return nil, false, ErrEmpty
	}
	if buf[0] != Start {
		return nil, false, fmt.Errorf("%w: 0x%02X", ErrBadStart, buf[0])
	}
	if len(buf) >= Overhead && int(buf[1]) == len(buf)-Overhead && buf[len(buf)-1] == End {
		payload = buf[HeaderSize : len(buf)-1]
		if cs := Checksum(payload); cs != buf[2] {
			return nil, true, fmt.Errorf("%w: got 0x%02X want 0x%02X", ErrChecksum, buf[2], cs)
		}
		return payload, true, nil
	}
	payload = buf[1:]
	if n := len(payload); n > 0 && payload[n-1] == End {
		payload = payload[:n-1]
	}
	return payload, false, nil
}

// SplitFunc is a bufio.SplitFunc that yields complete framed buffers from a
// byte stream. Bytes ahead of a start marker are discarded, as are candidate
// frames whose end marker or checksum does not line up.
func SplitFunc(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for {
		i := bytes.IndexByte(data[advance:], Start)
		if i < 0 {
			// nothing useful buffered
			return len(data), nil, nil
		}
		advance += i
		rest := data[advance:]
		if len(rest) < HeaderSize {
			break
		}
		total := int(rest[1]) + Overhead
		if len(rest) < total {
			break
		}
		candidate := rest[:total]
		if candidate[total-1] == End && Checksum(candidate[HeaderSize:total-1]) == candidate[2] {
			return advance + total, candidate, nil
		}
		advance++
	}
	if atEOF {
		return len(data), nil, nil
	}
	return advance, nil, nil
}

var _ bufio.SplitFunc = SplitFunc
