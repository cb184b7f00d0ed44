// Package codec implements the binary wire format of the recognition
// service: a 4-byte header, an optional big-endian sequence number, a
// big-endian payload length, and a payload that may be gzip-compressed.
package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Protocol version and header length in 4-byte words, fixed for this profile.
const (
	ProtocolVersion = 0b0001
	HeaderWords     = 0b0001
)

// MessageType identifies the frame kind on the wire.
type MessageType byte

const (
	TypeFullClientRequest  MessageType = 0b0001
	TypeAudioOnlyRequest   MessageType = 0b0010
	TypeFullServerResponse MessageType = 0b1001
	TypeServerError        MessageType = 0b1111
)

// Flags qualify sequencing on a frame. Bit 0 marks a sequence field present,
// bit 1 marks the last packet of a stream.
type Flags byte

const (
	FlagNoSequence       Flags = 0b0000
	FlagPositiveSequence Flags = 0b0001
	FlagNegativeSequence Flags = 0b0010
	FlagLastWithSequence Flags = 0b0011
)

// Serialization identifies how a payload is encoded.
type Serialization byte

const (
	SerializationNone Serialization = 0b0000
	SerializationJSON Serialization = 0b0001
)

// Compression identifies how a payload is compressed.
type Compression byte

const (
	CompressionNone Compression = 0b0000
	CompressionGzip Compression = 0b0001
)

var (
	// ErrMalformedFrame reports wire data too short for its own structure.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrDecode reports a payload that failed mandatory decompression.
	ErrDecode = errors.New("frame decode failed")
)

// compressor is one payload compression strategy, keyed by the header nibble.
type compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

var compressors = map[Compression]compressor{
	CompressionNone: passthroughCompressor{},
	CompressionGzip: gzipCompressor{},
}

type passthroughCompressor struct{}

func (passthroughCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (passthroughCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

type gzipCompressor struct{}

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Message is one decoded frame. Payload holds decompressed bytes for
// full-server-response frames; ErrorCode and ErrorText are set for error
// frames. Unrecognized message types decode to a Message carrying only the
// header fields so callers can skip them.
type Message struct {
	Type        MessageType
	Flags       Flags
	Sequence    int32
	HasSequence bool
	ErrorCode   int32
	ErrorText   string
	Payload     []byte
}

// IsLast reports whether the frame is marked as the last packet of a stream.
func (m Message) IsLast() bool {
	return m.Flags&FlagNegativeSequence != 0
}

// Encode builds one client frame: header, big-endian uint32 payload length,
// payload bytes compressed per comp. Client frames carry no sequence field.
func Encode(msgType MessageType, flags Flags, ser Serialization, comp Compression, payload []byte) ([]byte, error) {
	c, ok := compressors[comp]
	if !ok {
		return nil, fmt.Errorf("unsupported compression %#x", byte(comp))
	}
	body, err := c.Compress(payload)
	if err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}

	frame := make([]byte, 0, 8+len(body))
	frame = append(frame,
		ProtocolVersion<<4|HeaderWords,
		byte(msgType)<<4|byte(flags),
		byte(ser)<<4|byte(comp),
		0x00,
	)
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(body)))
	return append(frame, body...), nil
}

// Decode parses one inbound frame. Server full-responses and error frames
// carry a leading sequence number when flag bit 0 is set. An empty
// full-response payload is valid and decodes to a nil Payload.
func Decode(data []byte) (Message, error) {
	if len(data) < 4 {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(data))
	}
	headerSize := int(data[0]&0x0F) * 4
	if headerSize < 4 || len(data) < headerSize {
		return Message{}, fmt.Errorf("%w: header truncated", ErrMalformedFrame)
	}

	msg := Message{
		Type:  MessageType(data[1] >> 4),
		Flags: Flags(data[1] & 0x0F),
	}
	comp := Compression(data[2] & 0x0F)
	rest := data[headerSize:]

	if msg.Flags&FlagPositiveSequence != 0 {
		if len(rest) < 4 {
			return Message{}, fmt.Errorf("%w: sequence truncated", ErrMalformedFrame)
		}
		msg.Sequence = int32(binary.BigEndian.Uint32(rest[:4]))
		msg.HasSequence = true
		rest = rest[4:]
	}

	switch msg.Type {
	case TypeServerError:
		if len(rest) < 8 {
			return Message{}, fmt.Errorf("%w: error frame truncated", ErrMalformedFrame)
		}
		msg.ErrorCode = int32(binary.BigEndian.Uint32(rest[:4]))
		size := binary.BigEndian.Uint32(rest[4:8])
		body := rest[8:]
		if uint32(len(body)) < size {
			return Message{}, fmt.Errorf("%w: error message truncated", ErrMalformedFrame)
		}
		text, err := decompress(comp, body[:size])
		if err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		msg.ErrorText = string(text)

	case TypeFullServerResponse:
		if len(rest) < 4 {
			return Message{}, fmt.Errorf("%w: payload length truncated", ErrMalformedFrame)
		}
		size := binary.BigEndian.Uint32(rest[:4])
		body := rest[4:]
		if uint32(len(body)) < size {
			return Message{}, fmt.Errorf("%w: payload truncated", ErrMalformedFrame)
		}
		if size > 0 {
			payload, err := decompress(comp, body[:size])
			if err != nil {
				return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
			}
			if len(payload) > 0 {
				msg.Payload = payload
			}
		}

	default:
		// Unknown message types are skipped by callers, not an error.
	}

	return msg, nil
}

func decompress(comp Compression, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	c, ok := compressors[comp]
	if !ok {
		return nil, fmt.Errorf("unsupported compression %#x", byte(comp))
	}
	return c.Decompress(data)
}
