package wire

import (
	"encoding/binary"
	"errors"
	"unicode/utf8"
)

// ErrShortFrame is returned by TakeMessage when buf does not yet hold a
// complete frame. The caller should read more bytes and retry; it is not a
// protocol violation.
var ErrShortFrame = errors.New("wire: short frame")

// ErrInvalidUTF8 is returned when a cstring field extracted from the wire
// is not valid UTF-8. PostgreSQL's string fields (parameter names/values,
// command tags, error/notice text) are defined to be client-encoding text;
// this client only speaks UTF-8, so anything else is rejected rather than
// passed through.
var ErrInvalidUTF8 = errors.New("wire: invalid utf-8")

// beUint16 decodes a big-endian uint16 from the first two bytes of b.
func beUint16(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

// beUint32 decodes a big-endian uint32 from the first four bytes of b.
func beUint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// putBEUint32 appends a big-endian uint32 to dst and returns the result.
func putBEUint32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

// cstring scans b for a NUL terminator, returning the string before it and
// the bytes following the terminator. ok is false if no terminator was
// found.
func cstring(b []byte) (s string, rest []byte, ok bool) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), b[i+1:], true
		}
	}
	return "", nil, false
}

// validUTF8 reports whether s is valid UTF-8. Used at every point a cstring
// is promoted to a Go string field on a decoded message.
func validUTF8(s string) bool {
	return utf8.ValidString(s)
}

// appendCString appends s followed by a NUL byte.
func appendCString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	return append(dst, 0)
}

// TakeMessage splits the leading complete frame off buf. A frame is
// identifier(1) + length(4 BE, counts itself but not the identifier) +
// payload(length-4). If buf does not yet hold a full frame, TakeMessage
// returns ErrShortFrame and the caller should read more bytes; it never
// consumes a partial frame.
func TakeMessage(buf []byte) (frame, rest []byte, err error) {
	if len(buf) < 5 {
		return nil, nil, ErrShortFrame
	}
	length := int(beUint32(buf[1:5]))
	total := length + 1
	if len(buf) < total {
		return nil, nil, ErrShortFrame
	}
	return buf[:total], buf[total:], nil
}
