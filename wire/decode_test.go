package wire

import (
	"errors"
	"testing"
)

// startupBurst is the exact 14-frame sequence a PostgreSQL 9.6.1 backend
// sends after a successful trust-auth startup, reused from the byte fixture
// this library's design traces back to.
var startupBurst = []byte("R\x00\x00\x00\x08\x00\x00\x00\x00S\x00\x00\x00\x16application_name\x00\x00S\x00\x00\x00\x19client_encoding\x00UTF8\x00S\x00\x00\x00\x17DateStyle\x00ISO, MDY\x00S\x00\x00\x00\x19integer_datetimes\x00on\x00S\x00\x00\x00\x1bIntervalStyle\x00postgres\x00S\x00\x00\x00\x15is_superuser\x00off\x00S\x00\x00\x00\x19server_encoding\x00UTF8\x00S\x00\x00\x00\x19server_version\x009.6.1\x00S\x00\x00\x00 session_authorization\x00cliff\x00S\x00\x00\x00#standard_conforming_strings\x00on\x00S\x00\x00\x00\x18TimeZone\x00US/Eastern\x00K\x00\x00\x00\x0c\x00\x00\x17\xbb\x15b\xfb1Z\x00\x00\x00\x05I")

func TestDecodeStartupBurst(t *testing.T) {
	buf := startupBurst

	frame, rest, err := TakeMessage(buf)
	if err != nil {
		t.Fatalf("TakeMessage(auth): %v", err)
	}
	msg, err := DecodeServerMessage(frame)
	if err != nil {
		t.Fatalf("DecodeServerMessage(auth): %v", err)
	}
	if msg.Tag != TagAuth || msg.Auth.Tag != AuthOk {
		t.Fatalf("msg = %+v, want AuthOk", msg)
	}
	buf = rest

	wantParams := []struct{ name, value string }{
		{"application_name", ""},
		{"client_encoding", "UTF8"},
		{"DateStyle", "ISO, MDY"},
		{"integer_datetimes", "on"},
		{"IntervalStyle", "postgres"},
		{"is_superuser", "off"},
		{"server_encoding", "UTF8"},
		{"server_version", "9.6.1"},
		{"session_authorization", "cliff"},
		{"standard_conforming_strings", "on"},
		{"TimeZone", "US/Eastern"},
	}
	for _, want := range wantParams {
		frame, rest, err := TakeMessage(buf)
		if err != nil {
			t.Fatalf("TakeMessage(%s): %v", want.name, err)
		}
		msg, err := DecodeServerMessage(frame)
		if err != nil {
			t.Fatalf("DecodeServerMessage(%s): %v", want.name, err)
		}
		if msg.Tag != TagParamStatus || msg.ParamName != want.name || msg.ParamValue != want.value {
			t.Fatalf("msg = %+v, want ParamStatus(%q, %q)", msg, want.name, want.value)
		}
		buf = rest
	}

	frame, rest, err = TakeMessage(buf)
	if err != nil {
		t.Fatalf("TakeMessage(backendkeydata): %v", err)
	}
	msg, err = DecodeServerMessage(frame)
	if err != nil {
		t.Fatalf("DecodeServerMessage(backendkeydata): %v", err)
	}
	if msg.Tag != TagBackendKeyData {
		t.Fatalf("msg = %+v, want BackendKeyData", msg)
	}
	buf = rest

	frame, rest, err = TakeMessage(buf)
	if err != nil {
		t.Fatalf("TakeMessage(readyforquery): %v", err)
	}
	msg, err = DecodeServerMessage(frame)
	if err != nil {
		t.Fatalf("DecodeServerMessage(readyforquery): %v", err)
	}
	if msg.Tag != TagReadyForQuery || msg.Status != TxIdle {
		t.Fatalf("msg = %+v, want ReadyForQuery(Idle)", msg)
	}
	if len(rest) != 0 {
		t.Fatalf("leftover bytes after final frame: %d", len(rest))
	}

	if _, _, err := TakeMessage(rest); !errors.Is(err, ErrShortFrame) {
		t.Fatalf("TakeMessage on exhausted buffer = %v, want ErrShortFrame", err)
	}
}

func TestDecodeMD5Auth(t *testing.T) {
	payload := []byte{0, 0, 0, 5, 'a', 'b', 'c', 'd'}
	frame := envelope(IdentAuthentication, true, payload)
	msg, err := DecodeServerMessage(frame)
	if err != nil {
		t.Fatalf("DecodeServerMessage: %v", err)
	}
	if msg.Tag != TagAuth || msg.Auth.Tag != AuthMD5 {
		t.Fatalf("msg = %+v, want AuthMD5", msg)
	}
	if string(msg.Auth.Salt[:]) != "abcd" {
		t.Fatalf("salt = %q, want %q", msg.Auth.Salt, "abcd")
	}
}

func TestDecodeRowDescriptionAndDataRow(t *testing.T) {
	rowDescBody := []byte{0, 2}
	rowDescBody = appendCString(rowDescBody, "id")
	rowDescBody = append(rowDescBody, 0, 0, 0, 0) // table_oid
	rowDescBody = append(rowDescBody, 0, 0)       // column_id
	rowDescBody = append(rowDescBody, 0, 0, 0, 23) // type_oid (int4)
	rowDescBody = append(rowDescBody, 0, 4)        // type_size
	rowDescBody = append(rowDescBody, 0xff, 0xff, 0xff, 0xff) // type_mod -1
	rowDescBody = append(rowDescBody, 0, 0)                   // format text
	rowDescBody = appendCString(rowDescBody, "name")
	rowDescBody = append(rowDescBody, 0, 0, 0, 0)
	rowDescBody = append(rowDescBody, 0, 1)
	rowDescBody = append(rowDescBody, 0, 0, 0, 25) // text
	rowDescBody = append(rowDescBody, 0xff, 0xff)
	rowDescBody = append(rowDescBody, 0xff, 0xff, 0xff, 0xff)
	rowDescBody = append(rowDescBody, 0, 0)

	frame := envelope(IdentRowDescription, true, rowDescBody)
	msg, err := DecodeServerMessage(frame)
	if err != nil {
		t.Fatalf("DecodeServerMessage(RowDescription): %v", err)
	}
	if msg.Tag != TagRowDescription || len(msg.Fields) != 2 {
		t.Fatalf("msg = %+v", msg)
	}
	if msg.Fields[0].Name != "id" || msg.Fields[0].TypeOID != 23 {
		t.Fatalf("fields[0] = %+v", msg.Fields[0])
	}
	if msg.Fields[1].Name != "name" || msg.Fields[1].ColumnID != 1 {
		t.Fatalf("fields[1] = %+v", msg.Fields[1])
	}

	// DataRow: one NULL value, one empty-string value -- these must be
	// distinguishable after decoding.
	dataRowBody := []byte{0, 2}
	dataRowBody = putBEUint32(dataRowBody, 0xffffffff) // -1 length: NULL
	dataRowBody = putBEUint32(dataRowBody, 0)          // zero-length: empty string

	frame = envelope(IdentDataRow, true, dataRowBody)
	msg, err = DecodeServerMessage(frame)
	if err != nil {
		t.Fatalf("DecodeServerMessage(DataRow): %v", err)
	}
	if msg.Tag != TagDataRow || len(msg.Values) != 2 {
		t.Fatalf("msg = %+v", msg)
	}
	if !msg.Values[0].Null || msg.Values[0].Bytes != nil {
		t.Fatalf("values[0] = %+v, want NULL", msg.Values[0])
	}
	if msg.Values[1].Null || msg.Values[1].Bytes == nil || len(msg.Values[1].Bytes) != 0 {
		t.Fatalf("values[1] = %+v, want empty non-nil", msg.Values[1])
	}
}

func TestDecodeErrorResponseFieldsByCode(t *testing.T) {
	body := []byte{'S'}
	body = appendCString(body, "ERROR")
	body = append(body, 'C')
	body = appendCString(body, "42601")
	body = append(body, 'M')
	body = appendCString(body, "syntax error")
	body = append(body, 0)

	frame := envelope(IdentErrorResponse, true, body)
	msg, err := DecodeServerMessage(frame)
	if err != nil {
		t.Fatalf("DecodeServerMessage: %v", err)
	}
	if msg.Tag != TagErrorResponse {
		t.Fatalf("tag = %v, want TagErrorResponse", msg.Tag)
	}
	if sev, _ := msg.NoticeOrError.Get('S'); sev != "ERROR" {
		t.Errorf("severity = %q", sev)
	}
	if code, _ := msg.NoticeOrError.Get('C'); code != "42601" {
		t.Errorf("code = %q", code)
	}
	if msg.NoticeOrError.Message() != "syntax error" {
		t.Errorf("message = %q", msg.NoticeOrError.Message())
	}
}

func TestDecodeCommandComplete(t *testing.T) {
	body := appendCString(nil, "SELECT 1")
	frame := envelope(IdentCommandComplete, true, body)
	msg, err := DecodeServerMessage(frame)
	if err != nil {
		t.Fatalf("DecodeServerMessage: %v", err)
	}
	if msg.Tag != TagCommandComplete || msg.CommandTag != "SELECT 1" {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestDecodeUnknownIdentifier(t *testing.T) {
	frame := envelope('?', true, []byte("mystery"))
	msg, err := DecodeServerMessage(frame)
	if err != nil {
		t.Fatalf("DecodeServerMessage: %v", err)
	}
	if msg.Tag != TagUnknown || msg.UnknownIdentifier != '?' || string(msg.UnknownPayload) != "mystery" {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestDecodeLengthMismatchIsProtocolError(t *testing.T) {
	frame := []byte{'Z', 0, 0, 0, 100, 'I'}
	if _, err := DecodeServerMessage(frame); !errors.Is(err, ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
}

func TestDecodeCommandCompleteRejectsInvalidUTF8(t *testing.T) {
	body := append([]byte{0xff, 0xfe}, 0) // invalid UTF-8 cstring
	frame := envelope(IdentCommandComplete, true, body)
	if _, err := DecodeServerMessage(frame); !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("err = %v, want ErrInvalidUTF8", err)
	}
}

func TestDecodeParamStatusRejectsInvalidUTF8(t *testing.T) {
	body := append(appendCString(nil, "application_name"), append([]byte{0xc3, 0x28}, 0)...)
	frame := envelope(IdentParamStatus, true, body)
	if _, err := DecodeServerMessage(frame); !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("err = %v, want ErrInvalidUTF8", err)
	}
}

func TestDecodeErrorFieldsRejectsInvalidUTF8(t *testing.T) {
	body := append([]byte{'M'}, append([]byte{0xed, 0xa0, 0x80}, 0, 0)...) // lone surrogate, invalid in UTF-8
	frame := envelope(IdentErrorResponse, true, body)
	if _, err := DecodeServerMessage(frame); !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("err = %v, want ErrInvalidUTF8", err)
	}
}

func TestDecodeSASLAuthSubtypes(t *testing.T) {
	mechanisms := append(appendCString(nil, "SCRAM-SHA-256"), 0)
	frame := envelope(IdentAuthentication, true, append(putBEUint32(nil, 10), mechanisms...))
	msg, err := DecodeServerMessage(frame)
	if err != nil {
		t.Fatalf("DecodeServerMessage: %v", err)
	}
	if msg.Auth.Tag != AuthSASL {
		t.Fatalf("auth tag = %v, want AuthSASL", msg.Auth.Tag)
	}

	frame = envelope(IdentAuthentication, true, append(putBEUint32(nil, 11), []byte("r=nonce")...))
	msg, err = DecodeServerMessage(frame)
	if err != nil {
		t.Fatalf("DecodeServerMessage: %v", err)
	}
	if msg.Auth.Tag != AuthSASLContinue {
		t.Fatalf("auth tag = %v, want AuthSASLContinue", msg.Auth.Tag)
	}

	frame = envelope(IdentAuthentication, true, append(putBEUint32(nil, 12), []byte("v=signature")...))
	msg, err = DecodeServerMessage(frame)
	if err != nil {
		t.Fatalf("DecodeServerMessage: %v", err)
	}
	if msg.Auth.Tag != AuthSASLFinal {
		t.Fatalf("auth tag = %v, want AuthSASLFinal", msg.Auth.Tag)
	}
}
