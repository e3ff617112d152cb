package pgwire

import (
	"errors"
	"fmt"

	"github.com/jeelkantaria/pgwire/wire"
)

// ErrUnauthenticated is wrapped by errors returned when the backend asks
// for an authentication method this client does not implement, does not
// offer SCRAM-SHA-256 in its SASL mechanism list, or fails SCRAM server
// signature verification. A backend that rejects credentials with an
// ErrorResponse is reported as a *ServerError, which does not wrap it.
var ErrUnauthenticated = errors.New("pgwire: authentication failed")

// ErrProtocolViolation is wrapped by errors raised when the backend sends
// a well-formed message in a sequence this client does not expect.
// wire.ErrProtocol, by contrast, reports bytes that do not parse as any
// message at all.
var ErrProtocolViolation = errors.New("pgwire: protocol violation")

// ErrClosed is returned by Query on a Conn that has already been closed,
// locally or by a fatal error during an earlier Query.
var ErrClosed = errors.New("pgwire: connection closed")

// ErrInvalidUTF8 is wrapped by errors raised when a string field decoded
// off the wire (a parameter name/value, a command tag, or error/notice
// text) is not valid UTF-8, the only client encoding this library speaks.
var ErrInvalidUTF8 = errors.New("pgwire: invalid utf-8")

// ServerError reports a backend ErrorResponse (or NoticeResponse, when
// surfaced deliberately). Fields carries the full field set keyed by its
// one-byte PostgreSQL field code rather than collapsing it to a single
// message string, so callers can recover the SQLSTATE code, detail, hint,
// and position independently.
type ServerError struct {
	Fields wire.Fields
}

func (e *ServerError) Error() string {
	severity, _ := e.Fields.Get('S')
	code, _ := e.Fields.Get('C')
	return fmt.Sprintf("pgwire: %s [%s] %s", severity, code, e.Fields.Message())
}

// Code returns the SQLSTATE error code (field 'C'), or "" if the backend
// did not send one.
func (e *ServerError) Code() string {
	code, _ := e.Fields.Get('C')
	return code
}

// Severity returns the error severity (field 'S'), or "" if absent.
func (e *ServerError) Severity() string {
	severity, _ := e.Fields.Get('S')
	return severity
}
