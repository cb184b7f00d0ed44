package codec

import (
	"encoding/binary"
	"errors"
	"testing"
)

// serverFrame builds a raw server frame the way the service emits it,
// including fields the client never encodes itself.
func serverFrame(t *testing.T, msgType MessageType, flags Flags, comp Compression, sequence int32, errorCode *int32, payload []byte) []byte {
	t.Helper()

	c, ok := compressors[comp]
	if !ok {
		t.Fatalf("unknown compression %#x", byte(comp))
	}
	body, err := c.Compress(payload)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}

	frame := []byte{
		ProtocolVersion<<4 | HeaderWords,
		byte(msgType)<<4 | byte(flags),
		byte(SerializationJSON)<<4 | byte(comp),
		0x00,
	}
	if flags&FlagPositiveSequence != 0 {
		frame = binary.BigEndian.AppendUint32(frame, uint32(sequence))
	}
	if errorCode != nil {
		frame = binary.BigEndian.AppendUint32(frame, uint32(*errorCode))
	}
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(body)))
	return append(frame, body...)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	payloads := [][]byte{
		[]byte(`{"result":{"text":"hello"}}`),
		[]byte("x"),
		make([]byte, 4096),
	}
	for _, comp := range []Compression{CompressionNone, CompressionGzip} {
		for _, flags := range []Flags{FlagNoSequence, FlagNegativeSequence} {
			for _, payload := range payloads {
				frame, err := Encode(TypeFullServerResponse, flags, SerializationJSON, comp, payload)
				if err != nil {
					t.Fatalf("encode failed: %v", err)
				}
				msg, err := Decode(frame)
				if err != nil {
					t.Fatalf("decode failed: %v", err)
				}
				if msg.Type != TypeFullServerResponse {
					t.Fatalf("unexpected type %#x", byte(msg.Type))
				}
				if msg.Flags != flags {
					t.Fatalf("unexpected flags %#x, want %#x", byte(msg.Flags), byte(flags))
				}
				if msg.HasSequence {
					t.Fatalf("client frames carry no sequence")
				}
				if string(msg.Payload) != string(payload) {
					t.Fatalf("payload mismatch: got %d bytes, want %d", len(msg.Payload), len(payload))
				}
			}
		}
	}
}

func TestEncodeHeaderLayout(t *testing.T) {
	t.Parallel()

	frame, err := Encode(TypeAudioOnlyRequest, FlagNegativeSequence, SerializationNone, CompressionNone, []byte("pcm"))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if frame[0] != 0x11 {
		t.Fatalf("byte0 = %#x, want version|headerWords = 0x11", frame[0])
	}
	if frame[1] != byte(TypeAudioOnlyRequest)<<4|byte(FlagNegativeSequence) {
		t.Fatalf("byte1 = %#x", frame[1])
	}
	if frame[2] != 0x00 {
		t.Fatalf("byte2 = %#x, want no serialization, no compression", frame[2])
	}
	if frame[3] != 0x00 {
		t.Fatalf("reserved byte = %#x", frame[3])
	}
	if size := binary.BigEndian.Uint32(frame[4:8]); size != 3 {
		t.Fatalf("payload size = %d, want 3", size)
	}
	if string(frame[8:]) != "pcm" {
		t.Fatalf("payload = %q", frame[8:])
	}
}

func TestDecodeTooShort(t *testing.T) {
	t.Parallel()

	for _, data := range [][]byte{nil, {0x11}, {0x11, 0x91, 0x11}} {
		if _, err := Decode(data); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("Decode(%v) error = %v, want ErrMalformedFrame", data, err)
		}
	}
}

func TestDecodeServerResponseWithSequence(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"result":{"text":"done"}}`)
	frame := serverFrame(t, TypeFullServerResponse, FlagLastWithSequence, CompressionGzip, -42, nil, payload)

	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !msg.HasSequence || msg.Sequence != -42 {
		t.Fatalf("sequence = %d (present=%t), want -42", msg.Sequence, msg.HasSequence)
	}
	if !msg.IsLast() {
		t.Fatalf("expected last-packet flag")
	}
	if string(msg.Payload) != string(payload) {
		t.Fatalf("payload = %q", msg.Payload)
	}
}

func TestDecodeEmptyResponsePayload(t *testing.T) {
	t.Parallel()

	frame := serverFrame(t, TypeFullServerResponse, FlagPositiveSequence, CompressionGzip, 1, nil, nil)
	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("empty payload must decode cleanly: %v", err)
	}
	if msg.Payload != nil {
		t.Fatalf("payload = %v, want nil", msg.Payload)
	}
}

func TestDecodeErrorFrame(t *testing.T) {
	t.Parallel()

	code := int32(45000000)
	frame := serverFrame(t, TypeServerError, FlagPositiveSequence, CompressionGzip, 3, &code, []byte("bad request"))

	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Type != TypeServerError {
		t.Fatalf("type = %#x", byte(msg.Type))
	}
	if msg.ErrorCode != 45000000 {
		t.Fatalf("error code = %d", msg.ErrorCode)
	}
	if msg.ErrorText != "bad request" {
		t.Fatalf("error text = %q", msg.ErrorText)
	}
}

func TestDecodeUncompressedErrorFrame(t *testing.T) {
	t.Parallel()

	code := int32(55000001)
	frame := serverFrame(t, TypeServerError, FlagPositiveSequence, CompressionNone, 1, &code, []byte("server busy"))

	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.ErrorText != "server busy" {
		t.Fatalf("error text = %q", msg.ErrorText)
	}
}

func TestDecodeCorruptGzipPayload(t *testing.T) {
	t.Parallel()

	frame := []byte{
		ProtocolVersion<<4 | HeaderWords,
		byte(TypeFullServerResponse)<<4 | byte(FlagNoSequence),
		byte(SerializationJSON)<<4 | byte(CompressionGzip),
		0x00,
	}
	frame = binary.BigEndian.AppendUint32(frame, 4)
	frame = append(frame, 0xDE, 0xAD, 0xBE, 0xEF)

	if _, err := Decode(frame); !errors.Is(err, ErrDecode) {
		t.Fatalf("error = %v, want ErrDecode", err)
	}
}

func TestDecodeUnknownTypeIgnored(t *testing.T) {
	t.Parallel()

	frame := []byte{
		ProtocolVersion<<4 | HeaderWords,
		0b0111<<4 | byte(FlagNoSequence),
		0x00,
		0x00,
	}
	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("unknown types must not fail decode: %v", err)
	}
	if msg.Type != 0b0111 {
		t.Fatalf("type = %#x", byte(msg.Type))
	}
	if msg.Payload != nil || msg.ErrorText != "" {
		t.Fatalf("unknown type must carry no payload")
	}
}

func TestDecodeTruncatedPayloadLength(t *testing.T) {
	t.Parallel()

	frame := serverFrame(t, TypeFullServerResponse, FlagNoSequence, CompressionNone, 0, nil, []byte("abcdef"))
	if _, err := Decode(frame[:len(frame)-3]); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("error = %v, want ErrMalformedFrame", err)
	}
}
