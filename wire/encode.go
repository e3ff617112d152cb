package wire

// Protocol version 3.0, as sent in the first four bytes of StartupMessage.
const ProtocolVersion uint32 = 3<<16 | 0

// envelope prepends the identifier (if present) and the big-endian length
// (payload size + 4) to payload.
func envelope(identifier byte, hasIdentifier bool, payload []byte) []byte {
	msgLen := uint32(len(payload) + 4)
	out := make([]byte, 0, len(payload)+5)
	if hasIdentifier {
		out = append(out, identifier)
	}
	out = putBEUint32(out, msgLen)
	out = append(out, payload...)
	return out
}

// Param is one additional run-time parameter in a StartupMessage. Order is
// significant on the wire, so params are carried as a slice rather than a
// map.
type Param struct {
	Key   string
	Value string
}

// EncodeStartup builds a StartupMessage. database may be empty to omit the
// "database" parameter (the server then defaults it to user). params holds
// any additional run-time parameters (e.g. "application_name"), encoded in
// the given order.
func EncodeStartup(user, database string, params []Param) []byte {
	body := make([]byte, 0, 64)
	body = putBEUint32(body, ProtocolVersion)

	body = appendCString(body, "user")
	body = appendCString(body, user)

	if database != "" {
		body = appendCString(body, "database")
		body = appendCString(body, database)
	}

	for _, p := range params {
		body = appendCString(body, p.Key)
		body = appendCString(body, p.Value)
	}

	body = append(body, 0) // terminator

	return envelope(0, false, body)
}

// EncodePassword builds a PasswordMessage ('p') carrying hash as its body.
// hash is either a plaintext password (cleartext auth) or an "md5..." hash
// (MD5 auth) — the caller decides which, per auth.MD5Password.
func EncodePassword(hash string) []byte {
	body := appendCString(nil, hash)
	return envelope(IdentPasswordMessage, true, body)
}

// EncodeQuery builds a simple Query message ('Q').
func EncodeQuery(sql string) []byte {
	body := appendCString(nil, sql)
	return envelope(IdentQuery, true, body)
}

// EncodeTerminate builds a Terminate message ('X'). Its body is always
// empty, so the encoded frame is always the fixed 5 bytes 58 00 00 00 04.
func EncodeTerminate() []byte {
	return envelope(IdentTerminate, true, nil)
}

// EncodeSASLInitialResponse builds the PasswordMessage ('p') that carries a
// SASLInitialResponse: mechanism name, NUL, then a 4-byte BE length and the
// client-first-message bytes.
func EncodeSASLInitialResponse(mechanism string, clientFirstMessage []byte) []byte {
	body := appendCString(nil, mechanism)
	body = putBEUint32(body, uint32(len(clientFirstMessage)))
	body = append(body, clientFirstMessage...)
	return envelope(IdentPasswordMessage, true, body)
}

// EncodeSASLResponse builds the PasswordMessage ('p') that carries a raw
// SASLResponse body (the client-final-message).
func EncodeSASLResponse(data []byte) []byte {
	return envelope(IdentPasswordMessage, true, data)
}
