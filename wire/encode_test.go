package wire

import "testing"

func TestEncodeTerminate(t *testing.T) {
	want := []byte{0x58, 0, 0, 0, 0x04}
	got := EncodeTerminate()
	if string(got) != string(want) {
		t.Errorf("EncodeTerminate() = % x, want % x", got, want)
	}
}

func TestEncodeStartup(t *testing.T) {
	want := []byte("\x00\x00\x00\x2d\x00\x03\x00\x00user\x00cliff\x00name\x00Theseus\x00vessel\x00ship\x00\x00")
	got := EncodeStartup("cliff", "", []Param{
		{Key: "name", Value: "Theseus"},
		{Key: "vessel", Value: "ship"},
	})
	if string(got) != string(want) {
		t.Errorf("EncodeStartup() = % x, want % x", got, want)
	}
}

func TestEncodeStartupWithDatabase(t *testing.T) {
	got := EncodeStartup("cliff", "labyrinth", nil)
	// StartupMessage has no identifier byte, so TakeMessage cannot frame it:
	// its length prefix sits at bytes 0-4 and counts the whole message.
	if len(got) < 8 {
		t.Fatalf("startup message too short: %d bytes", len(got))
	}
	if int(beUint32(got[:4])) != len(got) {
		t.Fatalf("declared length = %d, want %d", beUint32(got[:4]), len(got))
	}
	body := got[4:]
	if beUint32(body[:4]) != ProtocolVersion {
		t.Fatalf("protocol version = %x, want %x", beUint32(body[:4]), ProtocolVersion)
	}
	rest2 := body[4:]
	for _, want := range []struct{ key, value string }{
		{"user", "cliff"},
		{"database", "labyrinth"},
	} {
		k, r, ok := cstring(rest2)
		if !ok || k != want.key {
			t.Fatalf("key = %q, want %q", k, want.key)
		}
		v, r2, ok := cstring(r)
		if !ok || v != want.value {
			t.Fatalf("value = %q, want %q", v, want.value)
		}
		rest2 = r2
	}
	if len(rest2) != 1 || rest2[0] != 0 {
		t.Fatalf("trailing terminator = %v, want [0]", rest2)
	}
}

func TestEncodePassword(t *testing.T) {
	got := EncodePassword("md5abcdef")
	frame, _, err := TakeMessage(got)
	if err != nil {
		t.Fatalf("TakeMessage: %v", err)
	}
	if frame[0] != IdentPasswordMessage {
		t.Fatalf("identifier = %c, want 'p'", frame[0])
	}
	s, rest, ok := cstring(frame[5:])
	if !ok || s != "md5abcdef" || len(rest) != 0 {
		t.Fatalf("body = %q, %v, %v", s, rest, ok)
	}
}

func TestEncodeQuery(t *testing.T) {
	got := EncodeQuery("select 1")
	frame, _, err := TakeMessage(got)
	if err != nil {
		t.Fatalf("TakeMessage: %v", err)
	}
	if frame[0] != IdentQuery {
		t.Fatalf("identifier = %c, want 'Q'", frame[0])
	}
	s, _, ok := cstring(frame[5:])
	if !ok || s != "select 1" {
		t.Fatalf("body = %q", s)
	}
}

func TestEncodeSASLInitialResponse(t *testing.T) {
	cfm := []byte("n,,n=user,r=nonce")
	got := EncodeSASLInitialResponse("SCRAM-SHA-256", cfm)
	frame, _, err := TakeMessage(got)
	if err != nil {
		t.Fatalf("TakeMessage: %v", err)
	}
	mech, rest, ok := cstring(frame[5:])
	if !ok || mech != "SCRAM-SHA-256" {
		t.Fatalf("mechanism = %q", mech)
	}
	if len(rest) < 4 {
		t.Fatalf("missing length prefix")
	}
	n := beUint32(rest[:4])
	if int(n) != len(cfm) || string(rest[4:]) != string(cfm) {
		t.Fatalf("client-first-message mismatch: n=%d rest=%q", n, rest[4:])
	}
}

func TestEncodeSASLResponse(t *testing.T) {
	data := []byte("c=biws,r=nonce,p=proof")
	got := EncodeSASLResponse(data)
	frame, _, err := TakeMessage(got)
	if err != nil {
		t.Fatalf("TakeMessage: %v", err)
	}
	if frame[0] != IdentPasswordMessage {
		t.Fatalf("identifier = %c, want 'p'", frame[0])
	}
	if string(frame[5:]) != string(data) {
		t.Fatalf("body = %q, want %q", frame[5:], data)
	}
}
