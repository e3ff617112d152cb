package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestTakeMessageShortFrame(t *testing.T) {
	cases := [][]byte{
		nil,
		{'Z'},
		{'Z', 0, 0},
		{'Z', 0, 0, 0, 5}, // declares 5, but only 5 bytes total means 1 payload byte missing
	}
	for _, buf := range cases {
		if _, _, err := TakeMessage(buf); !errors.Is(err, ErrShortFrame) {
			t.Errorf("TakeMessage(%v) = _, _, %v, want ErrShortFrame", buf, err)
		}
	}
}

func TestTakeMessageSplitsOneFrame(t *testing.T) {
	// ReadyForQuery carrying status 'I', followed by unrelated trailing bytes.
	buf := []byte{'Z', 0, 0, 0, 5, 'I', 'N', 'E', 'X', 'T'}
	frame, rest, err := TakeMessage(buf)
	if err != nil {
		t.Fatalf("TakeMessage: %v", err)
	}
	if !bytes.Equal(frame, []byte{'Z', 0, 0, 0, 5, 'I'}) {
		t.Errorf("frame = %v, want ReadyForQuery frame", frame)
	}
	if !bytes.Equal(rest, []byte("NEXT")) {
		t.Errorf("rest = %q, want %q", rest, "NEXT")
	}
}

func TestTakeMessageWaitsForFullPayload(t *testing.T) {
	// Declares 9 bytes (length field itself + 5 payload bytes) but only 3 are present.
	buf := []byte{'Z', 0, 0, 0, 9, 'a', 'b', 'c'}
	if _, _, err := TakeMessage(buf); !errors.Is(err, ErrShortFrame) {
		t.Errorf("TakeMessage = _, _, %v, want ErrShortFrame", err)
	}
}

func TestCStringRoundTrip(t *testing.T) {
	encoded := appendCString(nil, "hello")
	s, rest, ok := cstring(encoded)
	if !ok || s != "hello" || len(rest) != 0 {
		t.Fatalf("cstring(%v) = %q, %v, %v", encoded, s, rest, ok)
	}
}

func TestCStringMissingTerminator(t *testing.T) {
	if _, _, ok := cstring([]byte("no terminator")); ok {
		t.Fatal("cstring on unterminated input should report ok=false")
	}
}
