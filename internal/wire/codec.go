package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"
	"unicode/utf8"
)

// Event is the wire form of one trace event record inside a TracePush
// body: u16 name_len | name_bytes | u64 timestamp_ns | u16 data_len | data_bytes.
type Event struct {
	Name      string
	TimestampNs uint64
	Data      []byte
}

// EncodedLen returns the number of bytes Event occupies on the wire.
func (e Event) EncodedLen() int {
	return 2 + len(e.Name) + 8 + 2 + len(e.Data)
}

// TimestampNs converts a wall-clock time to the wire timestamp, clamping
// to zero for instants before the Unix epoch (the original's behavior on
// SystemTimeError, see SPEC_FULL.md §12.2).
func TimestampNs(t time.Time) uint64 {
	ns := t.UnixNano()
	if ns < 0 {
		return 0
	}
	return uint64(ns)
}

// AppendEvent encodes ev onto the end of buf and returns the grown slice.
func AppendEvent(buf []byte, ev Event) []byte {
	var tmp [8]byte

	binary.BigEndian.PutUint16(tmp[0:2], uint16(len(ev.Name)))
	buf = append(buf, tmp[0:2]...)
	buf = append(buf, ev.Name...)

	binary.BigEndian.PutUint64(tmp[0:8], ev.TimestampNs)
	buf = append(buf, tmp[0:8]...)

	binary.BigEndian.PutUint16(tmp[0:2], uint16(len(ev.Data)))
	buf = append(buf, tmp[0:2]...)
	buf = append(buf, ev.Data...)

	return buf
}

// DecodeEvents decodes every Event record packed into a TracePush body.
// Used by tests exercising the round-trip property (§8 property 1) rather
// than by the agent itself, which never receives TracePush frames.
func DecodeEvents(body []byte) ([]Event, error) {
	var events []Event
	r := bytes.NewReader(body)
	for r.Len() > 0 {
		var nameLen uint16
		if err := binary.Read(r, binary.BigEndian, &nameLen); err != nil {
			return nil, fmt.Errorf("wire: reading name length: %w", err)
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("wire: reading name: %w", err)
		}
		var ts uint64
		if err := binary.Read(r, binary.BigEndian, &ts); err != nil {
			return nil, fmt.Errorf("wire: reading timestamp: %w", err)
		}
		var dataLen uint16
		if err := binary.Read(r, binary.BigEndian, &dataLen); err != nil {
			return nil, fmt.Errorf("wire: reading data length: %w", err)
		}
		data := make([]byte, dataLen)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("wire: reading data: %w", err)
		}
		events = append(events, Event{Name: string(name), TimestampNs: ts, Data: data})
	}
	return events, nil
}

// EncodeTracepointList builds the body of a TracepointListReply frame: a
// concatenation of (u16 len, name bytes) pairs, one per registered
// tracepoint.
func EncodeTracepointList(names []string) []byte {
	var buf []byte
	var tmp [2]byte
	for _, name := range names {
		binary.BigEndian.PutUint16(tmp[:], uint16(len(name)))
		buf = append(buf, tmp[:]...)
		buf = append(buf, name...)
	}
	return buf
}

// DecodeTracepointNames parses the shared body format of
// TracepointEnableRequest/TracepointDisableRequest/TracepointListReply:
// a run of (u16 len, name bytes) pairs consuming exactly len(body) bytes.
// A name longer than MaxTracepointNameLen is a protocol violation.
func DecodeTracepointNames(body []byte) ([]string, error) {
	var names []string
	r := bytes.NewReader(body)
	for r.Len() > 0 {
		var nameLen uint16
		if err := binary.Read(r, binary.BigEndian, &nameLen); err != nil {
			return nil, fmt.Errorf("wire: reading name length: %w", err)
		}
		if nameLen > MaxTracepointNameLen {
			return nil, fmt.Errorf("wire: name length %d exceeds maximum %d", nameLen, MaxTracepointNameLen)
		}
		raw := make([]byte, nameLen)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("wire: reading name: %w", err)
		}
		// Invalid UTF-8 becomes the empty string (§4.4): the registry
		// lookup will simply miss, which is not a protocol error.
		name := ""
		if utf8.Valid(raw) {
			name = string(raw)
		}
		names = append(names, name)
	}
	return names, nil
}
