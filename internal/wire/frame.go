// Package wire implements the byte-exact framing protocol spoken between
// the tracing engine and a connected collector: a 12-byte header followed
// by a command-specific body.
package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderLen is the size in bytes of the fixed frame header.
const HeaderLen = 12

// MagicNumber identifies a libtracy frame on the wire: ASCII "RuSt".
var MagicNumber = [4]byte{0x52, 0x75, 0x53, 0x74}

// Command identifies the body format that follows a frame header.
type Command uint16

const (
	TracepointListRequest    Command = 1
	TracepointListReply      Command = 2
	TracepointEnableRequest  Command = 3
	TracepointDisableRequest Command = 4
	TracePush                Command = 5
)

// MaxTracepointNameLen is the maximum normalized tracepoint name length,
// in bytes, accepted anywhere a name crosses the wire.
const MaxTracepointNameLen = 32

// MaxSubmitLen is the largest payload a single trace event may carry.
const MaxSubmitLen = 2048

// Header is the decoded form of the 12-byte frame header.
type Header struct {
	Flags  uint16
	Cmd    Command
	Length uint32
}

// EncodeHeader writes a valid frame header for cmd/length into buf, which
// must be at least HeaderLen bytes.
func EncodeHeader(buf []byte, cmd Command, length uint32) {
	copy(buf[0:4], MagicNumber[:])
	binary.BigEndian.PutUint16(buf[4:6], 0) // flags, always zero
	binary.BigEndian.PutUint16(buf[6:8], uint16(cmd))
	binary.BigEndian.PutUint32(buf[8:12], length)
}

// DecodeHeader parses a 12-byte header previously read off the wire. It
// validates the magic number, the (always-zero) flags field, that the
// command is one a collector is permitted to send, and that the declared
// body length is consistent with that command. Any violation is reported
// as an error and the connection must be torn down by the caller.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, fmt.Errorf("wire: short header: %d bytes", len(buf))
	}
	if buf[0] != MagicNumber[0] || buf[1] != MagicNumber[1] || buf[2] != MagicNumber[2] || buf[3] != MagicNumber[3] {
		return Header{}, fmt.Errorf("wire: bad magic number %x", buf[0:4])
	}
	flags := binary.BigEndian.Uint16(buf[4:6])
	if flags != 0 {
		return Header{}, fmt.Errorf("wire: non-zero flags %#x", flags)
	}
	cmd := Command(binary.BigEndian.Uint16(buf[6:8]))
	length := binary.BigEndian.Uint32(buf[8:12])

	switch cmd {
	case TracepointListRequest:
		if length != 0 {
			return Header{}, fmt.Errorf("wire: TracepointListRequest must have zero length, got %d", length)
		}
	case TracepointEnableRequest, TracepointDisableRequest:
		if length == 0 {
			return Header{}, fmt.Errorf("wire: command %d requires non-zero length", cmd)
		}
	default:
		return Header{}, fmt.Errorf("wire: command %d is not valid from a collector", cmd)
	}

	return Header{Flags: flags, Cmd: cmd, Length: length}, nil
}
