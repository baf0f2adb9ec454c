// Package message maps WFS request/response values onto framed TLV messages.
//
// Every encoder validates against the schema before framing; every decoder
// validates the message type and schema before reading fields.
package message

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/wfsctl/internal/protocol/frame"
	"github.com/danmuck/wfsctl/internal/protocol/schema"
	"github.com/danmuck/wfsctl/internal/protocol/tlv"
)

var (
	ErrUnexpectedType = errors.New("message: unexpected message type")
	ErrInvalidRequest = errors.New("message: invalid request")
)

// Credentials identify the caller to the storage service.
type Credentials struct {
	Name   string
	Secret string
}

// Complete reports whether both credential parts are non-empty.
func (c Credentials) Complete() bool {
	return c.Name != "" && c.Secret != ""
}

// File is an opaque named payload with an optional compression marker.
type File struct {
	Name     string
	Data     []byte
	Compress *int8
}

// Error is the service error descriptor carried by a negative Ack.
type Error struct {
	Code    int32
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("wfs error code=%d message=%q", e.Code, e.Message)
}

// Ack is the result of a mutating call.
type Ack struct {
	OK  bool
	Err *Error
}

// Data is the payload returned by a get call. Data may be nil when the
// service has no content for the path.
type Data struct {
	Data []byte
}

// Request is a decoded client request, used by servers.
type Request struct {
	ID          uint64
	Type        uint32
	Credentials Credentials
	File        File
	Path        string
	NewPath     string
}

func EncodeAuth(messageID uint64, creds Credentials) ([]byte, error) {
	return encode(messageID, schema.MsgAuth, 0, []tlv.Field{
		tlv.String(schema.FieldName, creds.Name),
		tlv.String(schema.FieldSecret, creds.Secret),
	})
}

func EncodeAppend(messageID uint64, f File) ([]byte, error) {
	if strings.TrimSpace(f.Name) == "" {
		return nil, fmt.Errorf("%w: append missing file name", ErrInvalidRequest)
	}
	fields := []tlv.Field{
		tlv.String(schema.FieldFileName, f.Name),
		tlv.Bytes(schema.FieldFileData, f.Data),
	}
	if f.Compress != nil {
		fields = append(fields, tlv.I8(schema.FieldFileCompress, *f.Compress))
	}
	return encode(messageID, schema.MsgAppend, 0, fields)
}

func EncodeDelete(messageID uint64, path string) ([]byte, error) {
	return encode(messageID, schema.MsgDelete, 0, []tlv.Field{
		tlv.String(schema.FieldPath, path),
	})
}

func EncodeRename(messageID uint64, path, newPath string) ([]byte, error) {
	return encode(messageID, schema.MsgRename, 0, []tlv.Field{
		tlv.String(schema.FieldPath, path),
		tlv.String(schema.FieldNewPath, newPath),
	})
}

func EncodeGet(messageID uint64, path string) ([]byte, error) {
	return encode(messageID, schema.MsgGet, 0, []tlv.Field{
		tlv.String(schema.FieldPath, path),
	})
}

func EncodePing(messageID uint64) ([]byte, error) {
	return encode(messageID, schema.MsgPing, 0, nil)
}

func EncodeAck(messageID uint64, ack Ack) ([]byte, error) {
	fields := []tlv.Field{tlv.Bool(schema.FieldOK, ack.OK)}
	flags := frame.FlagIsResponse
	if ack.Err != nil {
		fields = append(fields,
			tlv.I32(schema.FieldErrCode, ack.Err.Code),
			tlv.String(schema.FieldErrMessage, ack.Err.Message),
		)
	}
	if !ack.OK {
		flags |= frame.FlagIsError
	}
	return encode(messageID, schema.MsgAck, flags, fields)
}

func EncodeData(messageID uint64, d Data) ([]byte, error) {
	var fields []tlv.Field
	if d.Data != nil {
		fields = append(fields, tlv.Bytes(schema.FieldData, d.Data))
	}
	return encode(messageID, schema.MsgData, frame.FlagIsResponse, fields)
}

func EncodePong(messageID uint64, code uint8) ([]byte, error) {
	return encode(messageID, schema.MsgPong, frame.FlagIsResponse, []tlv.Field{
		tlv.U8(schema.FieldPingCode, code),
	})
}

// DecodeRequest decodes any client request frame.
func DecodeRequest(f frame.Frame) (Request, error) {
	fields, err := decodeFields(f)
	if err != nil {
		return Request{}, err
	}
	req := Request{ID: f.Header.MessageID, Type: f.Header.MessageType}
	switch f.Header.MessageType {
	case schema.MsgAuth:
		req.Credentials = Credentials{
			Name:   getString(fields, schema.FieldName),
			Secret: getString(fields, schema.FieldSecret),
		}
	case schema.MsgAppend:
		req.File.Name = getString(fields, schema.FieldFileName)
		req.File.Data = getBytes(fields, schema.FieldFileData)
		if cf, ok := tlv.GetField(fields, schema.FieldFileCompress); ok {
			v, err := cf.AsI8()
			if err != nil {
				return Request{}, err
			}
			req.File.Compress = &v
		}
	case schema.MsgDelete, schema.MsgGet:
		req.Path = getString(fields, schema.FieldPath)
	case schema.MsgRename:
		req.Path = getString(fields, schema.FieldPath)
		req.NewPath = getString(fields, schema.FieldNewPath)
	case schema.MsgPing:
	default:
		return Request{}, fmt.Errorf("%w: %d is not a request", ErrUnexpectedType, f.Header.MessageType)
	}
	return req, nil
}

func DecodeAck(f frame.Frame) (Ack, error) {
	if err := expectType(f, schema.MsgAck); err != nil {
		return Ack{}, err
	}
	fields, err := decodeFields(f)
	if err != nil {
		return Ack{}, err
	}
	okField, _ := tlv.GetField(fields, schema.FieldOK)
	ok, err := okField.AsBool()
	if err != nil {
		return Ack{}, err
	}
	ack := Ack{OK: ok}
	codeField, hasCode := tlv.GetField(fields, schema.FieldErrCode)
	_, hasMsg := tlv.GetField(fields, schema.FieldErrMessage)
	if hasCode || hasMsg {
		ack.Err = &Error{Message: getString(fields, schema.FieldErrMessage)}
		if hasCode {
			code, err := codeField.AsI32()
			if err != nil {
				return Ack{}, err
			}
			ack.Err.Code = code
		}
	}
	return ack, nil
}

func DecodeData(f frame.Frame) (Data, error) {
	if err := expectType(f, schema.MsgData); err != nil {
		return Data{}, err
	}
	fields, err := decodeFields(f)
	if err != nil {
		return Data{}, err
	}
	return Data{Data: getBytes(fields, schema.FieldData)}, nil
}

func DecodePong(f frame.Frame) (uint8, error) {
	if err := expectType(f, schema.MsgPong); err != nil {
		return 0, err
	}
	fields, err := decodeFields(f)
	if err != nil {
		return 0, err
	}
	codeField, _ := tlv.GetField(fields, schema.FieldPingCode)
	return codeField.AsU8()
}

func encode(messageID uint64, messageType uint32, flags uint32, fields []tlv.Field) ([]byte, error) {
	if err := schema.Validate(messageType, fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	var buf bytes.Buffer
	err := frame.WriteFrame(&buf, frame.Frame{
		Header: frame.Header{
			MessageID:   messageID,
			MessageType: messageType,
			Flags:       flags,
		},
		Payload: tlv.EncodeFields(fields),
	}, frame.DefaultLimits())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return buf.Bytes(), nil
}

func expectType(f frame.Frame, want uint32) error {
	if f.Header.MessageType != want {
		return fmt.Errorf("%w: got %d want %d", ErrUnexpectedType, f.Header.MessageType, want)
	}
	return nil
}

func decodeFields(f frame.Frame) ([]tlv.Field, error) {
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(f.Header.MessageType, fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// getString and getBytes read fields whose presence and type were already
// checked by schema.Validate, or that are optional.
func getString(fields []tlv.Field, id uint16) string {
	f, ok := tlv.GetField(fields, id)
	if !ok {
		return ""
	}
	return string(f.Value)
}

func getBytes(fields []tlv.Field, id uint16) []byte {
	f, ok := tlv.GetField(fields, id)
	if !ok {
		return nil
	}
	return f.Value
}
