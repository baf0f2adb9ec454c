package schema

import (
	"fmt"

	"github.com/danmuck/wfsctl/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message type IDs. Requests are < 100, responses >= 100.
const (
	MsgAuth   uint32 = 1
	MsgAppend uint32 = 2
	MsgDelete uint32 = 3
	MsgRename uint32 = 4
	MsgGet    uint32 = 5
	MsgPing   uint32 = 6

	MsgAck  uint32 = 101
	MsgData uint32 = 102
	MsgPong uint32 = 103
)

// Field IDs.
const (
	FieldName   uint16 = 1
	FieldSecret uint16 = 2

	FieldPath    uint16 = 10
	FieldNewPath uint16 = 11

	FieldFileName     uint16 = 20
	FieldFileData     uint16 = 21
	FieldFileCompress uint16 = 22

	FieldOK         uint16 = 30
	FieldErrCode    uint16 = 31
	FieldErrMessage uint16 = 32

	FieldData uint16 = 40

	FieldPingCode uint16 = 50
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgAuth: {
		{FieldName, tlv.TypeString},
		{FieldSecret, tlv.TypeString},
	},
	MsgAppend: {
		{FieldFileName, tlv.TypeString},
		{FieldFileData, tlv.TypeBytes},
	},
	MsgDelete: {
		{FieldPath, tlv.TypeString},
	},
	MsgRename: {
		{FieldPath, tlv.TypeString},
		{FieldNewPath, tlv.TypeString},
	},
	MsgGet: {
		{FieldPath, tlv.TypeString},
	},
	MsgPing: {},
	MsgAck: {
		{FieldOK, tlv.TypeBool},
	},
	MsgData: {},
	MsgPong: {
		{FieldPingCode, tlv.TypeU8},
	},
}

// optional lists typed-but-not-required fields; a present field must match.
var optional = map[uint32][]Requirement{
	MsgAppend: {{FieldFileCompress, tlv.TypeI8}},
	MsgAck: {
		{FieldErrCode, tlv.TypeI32},
		{FieldErrMessage, tlv.TypeString},
	},
	MsgData: {{FieldData, tlv.TypeBytes}},
}

// Known reports whether messageType belongs to the contract.
func Known(messageType uint32) bool {
	_, ok := requirements[messageType]
	return ok
}

// Validate enforces required fields and field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			return typeMismatch(messageType, req, f)
		}
	}
	for _, opt := range optional[messageType] {
		if f, found := tlv.GetField(fields, opt.ID); found && f.Type != opt.Type {
			return typeMismatch(messageType, opt, f)
		}
	}
	return nil
}

func typeMismatch(messageType uint32, req Requirement, f tlv.Field) error {
	log.Error().
		Uint32("message_type", messageType).
		Uint16("field_id", req.ID).
		Uint8("got", f.Type).
		Uint8("want", req.Type).
		Msg("schema.Validate type mismatch")
	return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
}
