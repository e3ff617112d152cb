// Package wire implements the binary framing and message shapes of the
// PostgreSQL frontend/backend protocol, version 3.0.
package wire

// MessageTag identifies the kind of a decoded ServerMessage. Go has no sum
// types, so ServerMessage carries a tag plus tag-specific fields instead of
// a type hierarchy.
type MessageTag int

const (
	TagUnknown MessageTag = iota
	TagAuth
	TagParamStatus
	TagBackendKeyData
	TagRowDescription
	TagDataRow
	TagCommandComplete
	TagReadyForQuery
	TagNoticeResponse
	TagErrorResponse
)

// Wire identifiers for server-originated messages.
const (
	IdentAuthentication  byte = 'R'
	IdentParamStatus     byte = 'S'
	IdentBackendKeyData  byte = 'K'
	IdentRowDescription  byte = 'T'
	IdentDataRow         byte = 'D'
	IdentCommandComplete byte = 'C'
	IdentReadyForQuery   byte = 'Z'
	IdentNoticeResponse  byte = 'N'
	IdentErrorResponse   byte = 'E'
)

// Wire identifiers for client-originated messages.
const (
	IdentPasswordMessage byte = 'p'
	IdentQuery           byte = 'Q'
	IdentTerminate       byte = 'X'
)

// AuthTag identifies the authentication sub-message carried in an
// Authentication ('R') frame.
type AuthTag int

const (
	AuthUnknown AuthTag = iota
	AuthOk
	AuthKerberos
	AuthCleartext
	AuthMD5
	AuthSCM
	AuthGSS
	AuthGSSContinue
	AuthSSPI
	AuthSASL
	AuthSASLContinue
	AuthSASLFinal
)

// AuthMessage is the decoded payload of an Authentication ('R') frame.
type AuthMessage struct {
	Tag AuthTag

	// Salt holds the 4-byte MD5 challenge salt when Tag == AuthMD5.
	Salt [4]byte

	// Data holds the trailing bytes for variants that carry a payload:
	// GSSContinue, SASL (mechanism list), SASLContinue, SASLFinal.
	Data []byte
}

// TransactionStatus is the one-byte status carried by ReadyForQuery.
type TransactionStatus byte

const (
	TxIdle    TransactionStatus = 'I'
	TxInBlock TransactionStatus = 'T'
	TxFailed  TransactionStatus = 'E'
)

// FieldFormat is the per-column wire format named in a RowDescription.
type FieldFormat int

const (
	FormatText FieldFormat = iota
	FormatBinary
)

// FieldDescription describes one column of a query result, as carried by a
// RowDescription ('T') message.
type FieldDescription struct {
	Name     string
	TableOID uint32
	ColumnID uint16
	TypeOID  uint32
	TypeSize int16
	TypeMod  int32
	Format   FieldFormat
}

// Value is one field of one DataRow. A SQL NULL has Null set and Bytes nil;
// an empty string has Null false and Bytes non-nil but zero-length.
// Binary is set by pgwire's Conn.Query for columns whose RowDescription
// format is binary; DecodeServerMessage leaves it false.
type Value struct {
	Null   bool
	Binary bool
	Bytes  []byte
}

// Field is one (code, text) pair from a NoticeResponse or ErrorResponse,
// decoded by its one-byte field code per the PostgreSQL error-fields
// protocol, never positionally.
type Field struct {
	Code byte
	Text string
}

// Fields is an ordered list of NoticeResponse/ErrorResponse fields with a
// lookup helper. The ordered slice is kept (not just a map) because field
// order is meaningful for display and the protocol does not guarantee a
// given code appears only once.
type Fields []Field

// Get returns the text of the first field with the given code.
func (fs Fields) Get(code byte) (string, bool) {
	for _, f := range fs {
		if f.Code == code {
			return f.Text, true
		}
	}
	return "", false
}

// Message returns the human-readable message field ('M'), or "" if absent.
func (fs Fields) Message() string {
	m, _ := fs.Get('M')
	return m
}

// ServerMessage is a decoded server-to-client frame. Tag selects which of
// the tag-specific fields below are populated.
type ServerMessage struct {
	Tag MessageTag

	Auth AuthMessage

	// ParamStatus
	ParamName  string
	ParamValue string

	// BackendKeyData
	BackendPID uint32
	BackendKey uint32

	// RowDescription
	Fields []FieldDescription

	// DataRow
	Values []Value

	// CommandComplete
	CommandTag string

	// ReadyForQuery
	Status TransactionStatus

	// NoticeResponse / ErrorResponse
	NoticeOrError Fields

	// Unknown
	UnknownIdentifier byte
	UnknownPayload    []byte
}
