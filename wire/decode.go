package wire

import (
	"errors"
	"fmt"
)

// ErrProtocol is returned by DecodeServerMessage when a frame violates a
// framing or decoding invariant: a length mismatch, an unexpected field
// shape, or a malformed row description.
var ErrProtocol = errors.New("wire: protocol violation")

// DecodeServerMessage decodes one complete frame (as returned by
// TakeMessage) into a ServerMessage. frame must start at the identifier
// byte.
func DecodeServerMessage(frame []byte) (ServerMessage, error) {
	if len(frame) < 5 {
		return ServerMessage{}, fmt.Errorf("%w: frame too short (%d bytes)", ErrProtocol, len(frame))
	}
	declared := int(beUint32(frame[1:5]))
	if len(frame) != declared+1 {
		return ServerMessage{}, fmt.Errorf("%w: declared length %d does not match frame size %d", ErrProtocol, declared, len(frame))
	}

	identifier := frame[0]
	payload := frame[5:]

	switch identifier {
	case IdentAuthentication:
		return decodeAuth(payload)
	case IdentParamStatus:
		return decodeParamStatus(payload)
	case IdentBackendKeyData:
		return decodeBackendKeyData(payload)
	case IdentRowDescription:
		return decodeRowDescription(payload)
	case IdentDataRow:
		return decodeDataRow(payload)
	case IdentCommandComplete:
		return decodeCommandComplete(payload)
	case IdentReadyForQuery:
		return decodeReadyForQuery(payload)
	case IdentNoticeResponse:
		fields, err := decodeFields(payload)
		if err != nil {
			return ServerMessage{}, err
		}
		return ServerMessage{Tag: TagNoticeResponse, NoticeOrError: fields}, nil
	case IdentErrorResponse:
		fields, err := decodeFields(payload)
		if err != nil {
			return ServerMessage{}, err
		}
		return ServerMessage{Tag: TagErrorResponse, NoticeOrError: fields}, nil
	default:
		return ServerMessage{Tag: TagUnknown, UnknownIdentifier: identifier, UnknownPayload: payload}, nil
	}
}

func decodeAuth(payload []byte) (ServerMessage, error) {
	if len(payload) < 4 {
		return ServerMessage{}, fmt.Errorf("%w: authentication message too short", ErrProtocol)
	}
	subkind := beUint32(payload[:4])
	rest := payload[4:]

	auth := AuthMessage{}
	switch subkind {
	case 0:
		auth.Tag = AuthOk
	case 2:
		auth.Tag = AuthKerberos
	case 3:
		auth.Tag = AuthCleartext
	case 5:
		if len(rest) < 4 {
			return ServerMessage{}, fmt.Errorf("%w: MD5 auth message missing salt", ErrProtocol)
		}
		auth.Tag = AuthMD5
		copy(auth.Salt[:], rest[:4])
	case 6:
		auth.Tag = AuthSCM
	case 7:
		auth.Tag = AuthGSS
	case 8:
		auth.Tag = AuthGSSContinue
		auth.Data = rest
	case 9:
		auth.Tag = AuthSSPI
	case 10:
		auth.Tag = AuthSASL
		auth.Data = rest
	case 11:
		auth.Tag = AuthSASLContinue
		auth.Data = rest
	case 12:
		auth.Tag = AuthSASLFinal
		auth.Data = rest
	default:
		auth.Tag = AuthUnknown
		auth.Data = rest
	}
	return ServerMessage{Tag: TagAuth, Auth: auth}, nil
}

func decodeParamStatus(payload []byte) (ServerMessage, error) {
	name, rest, ok := cstring(payload)
	if !ok {
		return ServerMessage{}, fmt.Errorf("%w: ParameterStatus missing name terminator", ErrProtocol)
	}
	if !validUTF8(name) {
		return ServerMessage{}, fmt.Errorf("%w: ParameterStatus name is not valid utf-8", ErrInvalidUTF8)
	}
	value, rest, ok := cstring(rest)
	if !ok {
		return ServerMessage{}, fmt.Errorf("%w: ParameterStatus missing value terminator", ErrProtocol)
	}
	if !validUTF8(value) {
		return ServerMessage{}, fmt.Errorf("%w: ParameterStatus value is not valid utf-8", ErrInvalidUTF8)
	}
	if len(rest) != 0 {
		return ServerMessage{}, fmt.Errorf("%w: ParameterStatus has trailing bytes", ErrProtocol)
	}
	return ServerMessage{Tag: TagParamStatus, ParamName: name, ParamValue: value}, nil
}

func decodeBackendKeyData(payload []byte) (ServerMessage, error) {
	if len(payload) != 8 {
		return ServerMessage{}, fmt.Errorf("%w: BackendKeyData wrong size (%d bytes)", ErrProtocol, len(payload))
	}
	return ServerMessage{
		Tag:        TagBackendKeyData,
		BackendPID: beUint32(payload[:4]),
		BackendKey: beUint32(payload[4:]),
	}, nil
}

// fieldDescriptionFixedSize is the size, in bytes, of a FieldDescription's
// fixed-width tail after its cstring name: table_oid(4) + column_id(2) +
// type_oid(4) + type_size(2) + type_mod(4) + format(2) = 18.
const fieldDescriptionFixedSize = 18

func decodeRowDescription(payload []byte) (ServerMessage, error) {
	if len(payload) < 2 {
		return ServerMessage{}, fmt.Errorf("%w: RowDescription missing count", ErrProtocol)
	}
	count := beUint16(payload[:2])
	rest := payload[2:]

	fields := make([]FieldDescription, 0, count)
	for i := uint16(0); i < count; i++ {
		name, tail, ok := cstring(rest)
		if !ok {
			return ServerMessage{}, fmt.Errorf("%w: RowDescription field %d missing name terminator", ErrProtocol, i)
		}
		if !validUTF8(name) {
			return ServerMessage{}, fmt.Errorf("%w: RowDescription field %d name is not valid utf-8", ErrInvalidUTF8, i)
		}
		if len(tail) < fieldDescriptionFixedSize {
			return ServerMessage{}, fmt.Errorf("%w: RowDescription field %d truncated", ErrProtocol, i)
		}
		fd := FieldDescription{
			Name:     name,
			TableOID: beUint32(tail[0:4]),
			ColumnID: beUint16(tail[4:6]),
			TypeOID:  beUint32(tail[6:10]),
			TypeSize: int16(beUint16(tail[10:12])),
			TypeMod:  int32(beUint32(tail[12:16])),
		}
		switch beUint16(tail[16:18]) {
		case 0:
			fd.Format = FormatText
		case 1:
			fd.Format = FormatBinary
		default:
			return ServerMessage{}, fmt.Errorf("%w: RowDescription field %d has unknown format code", ErrProtocol, i)
		}
		fields = append(fields, fd)
		rest = tail[fieldDescriptionFixedSize:]
	}
	if len(rest) != 0 {
		return ServerMessage{}, fmt.Errorf("%w: RowDescription has trailing bytes", ErrProtocol)
	}
	return ServerMessage{Tag: TagRowDescription, Fields: fields}, nil
}

func decodeDataRow(payload []byte) (ServerMessage, error) {
	if len(payload) < 2 {
		return ServerMessage{}, fmt.Errorf("%w: DataRow missing count", ErrProtocol)
	}
	count := beUint16(payload[:2])
	rest := payload[2:]

	values := make([]Value, 0, count)
	for i := uint16(0); i < count; i++ {
		if len(rest) < 4 {
			return ServerMessage{}, fmt.Errorf("%w: DataRow value %d missing length", ErrProtocol, i)
		}
		length := int32(beUint32(rest[:4]))
		rest = rest[4:]
		if length == -1 {
			values = append(values, Value{Null: true})
			continue
		}
		if length < 0 || int(length) > len(rest) {
			return ServerMessage{}, fmt.Errorf("%w: DataRow value %d has invalid length %d", ErrProtocol, i, length)
		}
		buf := make([]byte, length)
		copy(buf, rest[:length])
		values = append(values, Value{Bytes: buf})
		rest = rest[length:]
	}
	if len(rest) != 0 {
		return ServerMessage{}, fmt.Errorf("%w: DataRow has trailing bytes", ErrProtocol)
	}
	return ServerMessage{Tag: TagDataRow, Values: values}, nil
}

func decodeCommandComplete(payload []byte) (ServerMessage, error) {
	tag, rest, ok := cstring(payload)
	if !ok {
		return ServerMessage{}, fmt.Errorf("%w: CommandComplete missing terminator", ErrProtocol)
	}
	if !validUTF8(tag) {
		return ServerMessage{}, fmt.Errorf("%w: CommandComplete tag is not valid utf-8", ErrInvalidUTF8)
	}
	if len(rest) != 0 {
		return ServerMessage{}, fmt.Errorf("%w: CommandComplete has trailing bytes", ErrProtocol)
	}
	return ServerMessage{Tag: TagCommandComplete, CommandTag: tag}, nil
}

func decodeReadyForQuery(payload []byte) (ServerMessage, error) {
	if len(payload) != 1 {
		return ServerMessage{}, fmt.Errorf("%w: ReadyForQuery wrong size (%d bytes)", ErrProtocol, len(payload))
	}
	status := TransactionStatus(payload[0])
	if status != TxIdle && status != TxInBlock && status != TxFailed {
		return ServerMessage{}, fmt.Errorf("%w: ReadyForQuery has unknown status %q", ErrProtocol, payload[0])
	}
	return ServerMessage{Tag: TagReadyForQuery, Status: status}, nil
}

// decodeFields parses the shared NoticeResponse/ErrorResponse shape: a
// sequence of (one-byte code, cstring) pairs, terminated by a 0 byte. Fields
// are kept in full and keyed by code rather than collapsed to a single
// positional message.
func decodeFields(payload []byte) (Fields, error) {
	var fields Fields
	rest := payload
	for {
		if len(rest) == 0 {
			return nil, fmt.Errorf("%w: error/notice fields missing terminator", ErrProtocol)
		}
		code := rest[0]
		if code == 0 {
			rest = rest[1:]
			break
		}
		text, tail, ok := cstring(rest[1:])
		if !ok {
			return nil, fmt.Errorf("%w: error/notice field %q missing terminator", ErrProtocol, code)
		}
		if !validUTF8(text) {
			return nil, fmt.Errorf("%w: error/notice field %q is not valid utf-8", ErrInvalidUTF8, code)
		}
		fields = append(fields, Field{Code: code, Text: text})
		rest = tail
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: error/notice fields have trailing bytes", ErrProtocol)
	}
	return fields, nil
}
