package message

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/wfsctl/internal/protocol/frame"
	"github.com/danmuck/wfsctl/internal/protocol/schema"
	"github.com/danmuck/wfsctl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFrame(t *testing.T, raw []byte) frame.Frame {
	t.Helper()
	fr, err := frame.ReadFrame(bytes.NewReader(raw), frame.DefaultLimits())
	require.NoError(t, err)
	return fr
}

func TestAppendRequestCarriesCompressMarker(t *testing.T) {
	testlog.Start(t)
	level := int8(3)
	raw, err := EncodeAppend(7, File{Name: "12345.toml", Data: []byte("[package]"), Compress: &level})
	require.NoError(t, err)

	req, err := DecodeRequest(readFrame(t, raw))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), req.ID)
	assert.Equal(t, schema.MsgAppend, req.Type)
	assert.Equal(t, "12345.toml", req.File.Name)
	assert.Equal(t, []byte("[package]"), req.File.Data)
	require.NotNil(t, req.File.Compress)
	assert.Equal(t, int8(3), *req.File.Compress)
}

func TestAppendRequiresName(t *testing.T) {
	testlog.Start(t)
	_, err := EncodeAppend(1, File{Data: []byte("x")})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestOversizeAppendIsInvalid(t *testing.T) {
	testlog.Start(t)
	data := make([]byte, frame.DefaultLimits().MaxPayloadBytes)
	_, err := EncodeAppend(1, File{Name: "big.bin", Data: data})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorIs(t, err, frame.ErrPayloadTooLarge)
}

func TestRequestsDecodePerType(t *testing.T) {
	testlog.Start(t)

	auth, err := EncodeAuth(1, Credentials{Name: "admin", Secret: "123"})
	require.NoError(t, err)
	req, err := DecodeRequest(readFrame(t, auth))
	require.NoError(t, err)
	assert.Equal(t, Credentials{Name: "admin", Secret: "123"}, req.Credentials)

	rename, err := EncodeRename(2, "README.md", "readme1.md")
	require.NoError(t, err)
	req, err = DecodeRequest(readFrame(t, rename))
	require.NoError(t, err)
	assert.Equal(t, "README.md", req.Path)
	assert.Equal(t, "readme1.md", req.NewPath)

	ping, err := EncodePing(3)
	require.NoError(t, err)
	req, err = DecodeRequest(readFrame(t, ping))
	require.NoError(t, err)
	assert.Equal(t, schema.MsgPing, req.Type)
}

func TestDecodeRequestRejectsResponses(t *testing.T) {
	testlog.Start(t)
	raw, err := EncodePong(9, 1)
	require.NoError(t, err)
	_, err = DecodeRequest(readFrame(t, raw))
	require.ErrorIs(t, err, ErrUnexpectedType)
}

func TestNegativeAckCarriesErrorDescriptor(t *testing.T) {
	testlog.Start(t)
	raw, err := EncodeAck(4, Ack{OK: false, Err: &Error{Code: 404, Message: "not found"}})
	require.NoError(t, err)

	fr := readFrame(t, raw)
	assert.True(t, fr.Header.IsResponse())
	assert.NotZero(t, fr.Header.Flags&frame.FlagIsError)

	ack, err := DecodeAck(fr)
	require.NoError(t, err)
	assert.False(t, ack.OK)
	require.NotNil(t, ack.Err)
	assert.Equal(t, int32(404), ack.Err.Code)
	assert.Equal(t, "not found", ack.Err.Message)
}

func TestPositiveAckHasNoError(t *testing.T) {
	testlog.Start(t)
	raw, err := EncodeAck(5, Ack{OK: true})
	require.NoError(t, err)
	ack, err := DecodeAck(readFrame(t, raw))
	require.NoError(t, err)
	assert.True(t, ack.OK)
	assert.Nil(t, ack.Err)
}

func TestDataNilVersusEmpty(t *testing.T) {
	testlog.Start(t)
	raw, err := EncodeData(6, Data{})
	require.NoError(t, err)
	d, err := DecodeData(readFrame(t, raw))
	require.NoError(t, err)
	assert.Nil(t, d.Data)

	raw, err = EncodeData(6, Data{Data: []byte("hello")})
	require.NoError(t, err)
	d, err = DecodeData(readFrame(t, raw))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), d.Data)
}

func TestDecodeResponseTypeMismatch(t *testing.T) {
	testlog.Start(t)
	raw, err := EncodePong(8, 1)
	require.NoError(t, err)
	_, err = DecodeAck(readFrame(t, raw))
	require.True(t, errors.Is(err, ErrUnexpectedType))

	code, err := DecodePong(readFrame(t, raw))
	require.NoError(t, err)
	assert.Equal(t, uint8(1), code)
}
