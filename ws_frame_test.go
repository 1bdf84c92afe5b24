package webcore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func maskedClientFrame(opcode Opcode, payload []byte, key [4]byte) []byte {
	masked := make([]byte, len(payload))
	for i, b := range payload {
		masked[i] = b ^ key[i%4]
	}
	var buf bytes.Buffer
	buf.WriteByte(0x80 | byte(opcode))
	buf.WriteByte(0x80 | byte(len(payload)))
	buf.Write(key[:])
	buf.Write(masked)
	return buf.Bytes()
}

func TestReadFrameUnmasksPayload(t *testing.T) {
	key := [4]byte{1, 2, 3, 4}
	raw := maskedClientFrame(OpcodeText, []byte("hello"), key)
	f, err := readFrame(bytes.NewReader(raw), 0)
	require.NoError(t, err)
	assert.True(t, f.fin)
	assert.Equal(t, OpcodeText, f.opcode)
	assert.Equal(t, "hello", string(f.payload))
}

func TestReadFrameRejectsUnmasked(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0x80 | byte(OpcodeText))
	buf.WriteByte(5) // no mask bit
	buf.WriteString("hello")
	_, err := readFrame(bytes.NewReader(buf.Bytes()), 0)
	require.Error(t, err)
}

func TestWriteFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, frame{fin: true, opcode: OpcodeBinary, payload: []byte("data")}))

	head, err := readServerFrameForTest(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, OpcodeBinary, head.opcode)
	assert.Equal(t, "data", string(head.payload))
}

// readServerFrameForTest decodes an unmasked server→client frame, which
// readFrame can't (it requires the client MASK bit), so tests parse the
// header directly.
func readServerFrameForTest(raw []byte) (frame, error) {
	f := frame{
		fin:    raw[0]&0x80 != 0,
		opcode: Opcode(raw[0] & 0x0F),
	}
	length := int(raw[1] & 0x7F)
	f.payload = raw[2 : 2+length]
	return f, nil
}

func TestWebsocketAcceptKeyMatchesRFCExample(t *testing.T) {
	// RFC 6455 §1.3 worked example.
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", websocketAccept("dGhlIHNhbXBsZSBub25jZQ=="))
}
