// Package beacon implements the UDP announcement of SPEC_FULL.md §4.6: a
// periodic, best-effort multicast datagram advertising this agent's
// identity and listening port to any collector that cares to discover it.
package beacon

import (
	"net"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/Rohde-Schwarz/libtracy/internal/wire"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ServerVersion and ProtocolVersion are the literal wire-compatibility
// strings advertised in every announcement (SPEC_FULL.md §6). Note the
// doubled 'l' in the JSON field name is preserved deliberately, not a typo.
const (
	ServerVersion   = "1.1.0"
	ProtocolVersion = "1.1.0"
)

// announcement is the literal JSON schema of SPEC_FULL.md §4.6.
type announcement struct {
	SequenceNr          uint64 `json:"sequence_nr"`
	ServerVersion       string `json:"server_version"`
	ProtocollVersion    string `json:"protocoll_version"`
	UpdateIntervalMsecs uint64 `json:"update_interval_msecs"`
	Hostname            string `json:"hostname"`
	ProcessName         string `json:"process_name"`
	Port                uint16 `json:"port"`
}

// Beacon owns the UDP socket used for announcements and the monotonically
// increasing sequence number.
type Beacon struct {
	conn       *net.UDPConn
	dst        *net.UDPAddr
	hostname   string
	processName string
	interval   time.Duration
	sequenceNo uint64
}

// Bind opens the UDP socket the beacon sends from: on iface if non-empty,
// otherwise on 0.0.0.0, always an ephemeral port (SPEC_FULL.md §4.6). dst
// is the configured multicast announce address.
func Bind(iface string, dst *net.UDPAddr, hostname, processName string, interval time.Duration) (*Beacon, error) {
	addr := "0.0.0.0:0"
	if iface != "" {
		addr = net.JoinHostPort(iface, "0")
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &Beacon{
		conn:        conn,
		dst:         dst,
		hostname:    hostname,
		processName: processName,
		interval:    interval,
	}, nil
}

// Close releases the UDP socket.
func (b *Beacon) Close() error {
	return b.conn.Close()
}

// Send emits one announcement datagram advertising port as the agent's
// TCP listener port. Send failures are swallowed, per SPEC_FULL.md §7;
// the sequence number still advances.
func (b *Beacon) Send(port uint16) {
	defer func() { b.sequenceNo++ }()

	msg := announcement{
		SequenceNr:          b.sequenceNo,
		ServerVersion:       ServerVersion,
		ProtocollVersion:    ProtocolVersion,
		UpdateIntervalMsecs: updateIntervalMsecs(b.interval),
		Hostname:            b.hostname,
		ProcessName:         b.processName,
		Port:                port,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return
	}

	datagram := make([]byte, 0, len(wire.MagicNumber)+len(body))
	datagram = append(datagram, wire.MagicNumber[:]...)
	datagram = append(datagram, body...)

	_, _ = b.conn.WriteToUDP(datagram, b.dst)
}

// updateIntervalMsecs reproduces the original's wire-compatible (and
// slightly odd) encoding: whole seconds plus sub-second milliseconds,
// added together rather than converted to a single millisecond count
// (SPEC_FULL.md §12.3). Preserved for wire compatibility.
func updateIntervalMsecs(d time.Duration) uint64 {
	secs := uint64(d / time.Second)
	subsecMillis := uint64((d % time.Second) / time.Millisecond)
	return secs + subsecMillis
}
