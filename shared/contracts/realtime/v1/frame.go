package v1

import (
	"encoding/binary"
	"errors"
	"strconv"
)

const (
	// ServerAddress is the destination of frames the server must open itself.
	ServerAddress uint32 = 0

	// AddressSize is the length of the little-endian destination prefix.
	AddressSize = 4

	// MinFrameSize is the shortest binary frame that is not dropped as malformed.
	MinFrameSize = AddressSize + 1

	// InnerHeaderSize is [2B message id][1B command].
	InnerHeaderSize = 3
)

// Command bytes carried in the inner payload.
const (
	CommandJSON   byte = 0x00 // action dispatch; also server push
	CommandReply  byte = 0x01 // every server reply
	CommandIngest byte = 0x10 // time-series ingestion
)

// Text notices sent in clear on the authenticated loop.
const (
	RouteFailedText      = "Failed to route"
	TimestampErrorPrefix = "timestamp_error:"
)

var ErrShortFrame = errors.New("frame too short")

// Destination reads the address prefix.
func Destination(frame []byte) (uint32, error) {
	if len(frame) < MinFrameSize {
		return 0, ErrShortFrame
	}
	return binary.LittleEndian.Uint32(frame[:AddressSize]), nil
}

// Readdress returns a copy of frame whose prefix is replaced with addr.
func Readdress(frame []byte, addr uint32) []byte {
	out := make([]byte, len(frame))
	copy(out, frame)
	binary.LittleEndian.PutUint32(out[:AddressSize], addr)
	return out
}

// Frame prepends the address prefix to body.
func Frame(addr uint32, body []byte) []byte {
	out := make([]byte, AddressSize, AddressSize+len(body))
	binary.LittleEndian.PutUint32(out, addr)
	return append(out, body...)
}

// Inner is the decrypted content of a server-directed envelope.
type Inner struct {
	MessageID uint16
	Command   byte
	Body      []byte
}

// ParseInner splits a decrypted payload.
func ParseInner(plain []byte) (Inner, error) {
	if len(plain) < InnerHeaderSize {
		return Inner{}, ErrShortFrame
	}
	return Inner{
		MessageID: binary.LittleEndian.Uint16(plain[0:2]),
		Command:   plain[2],
		Body:      plain[InnerHeaderSize:],
	}, nil
}

// Bytes encodes the inner payload.
func (in Inner) Bytes() []byte {
	out := make([]byte, InnerHeaderSize, InnerHeaderSize+len(in.Body))
	binary.LittleEndian.PutUint16(out[0:2], in.MessageID)
	out[2] = in.Command
	return append(out, in.Body...)
}

// TimestampError renders the clock resync hint.
func TimestampError(unix int64) string {
	return TimestampErrorPrefix + strconv.FormatInt(unix, 10)
}
