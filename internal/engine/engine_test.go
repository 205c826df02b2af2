package engine

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rohde-Schwarz/libtracy/internal/ingress"
	"github.com/Rohde-Schwarz/libtracy/internal/registry"
	"github.com/Rohde-Schwarz/libtracy/internal/wire"
)

func newTestEngine(t *testing.T, flushInterval time.Duration) *Engine {
	t.Helper()
	e, err := New(Params{
		FlushInterval: flushInterval,
		Hostname:      "test",
		ProcessName:   "test",
		Registerer:    prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	require.NoError(t, services.StartAndAwaitRunning(context.Background(), e))
	t.Cleanup(func() {
		_ = services.StopAndAwaitTerminated(context.Background(), e)
	})
	return e
}

func dial(t *testing.T, e *Engine) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", e.Port()), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeEnableFrame(t *testing.T, conn net.Conn, names ...string) {
	t.Helper()
	body := wire.EncodeTracepointList(names)
	header := make([]byte, wire.HeaderLen)
	wire.EncodeHeader(header, wire.TracepointEnableRequest, uint32(len(body)))
	_, err := conn.Write(header)
	require.NoError(t, err)
	_, err = conn.Write(body)
	require.NoError(t, err)
}

func readFrame(t *testing.T, conn net.Conn, deadline time.Duration) (wire.Header, []byte) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(deadline)))
	header := make([]byte, wire.HeaderLen)
	_, err := readFull(conn, header)
	require.NoError(t, err)
	hdr, err := decodeOutboundHeader(header)
	require.NoError(t, err)
	body := make([]byte, hdr.Length)
	if hdr.Length > 0 {
		_, err = readFull(conn, body)
		require.NoError(t, err)
	}
	return hdr, body
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// decodeOutboundHeader decodes a header the agent sent (cmd 2 or 5),
// which wire.DecodeHeader rejects since it only accepts collector-origin
// commands.
func decodeOutboundHeader(buf []byte) (wire.Header, error) {
	if buf[0] != wire.MagicNumber[0] || buf[1] != wire.MagicNumber[1] || buf[2] != wire.MagicNumber[2] || buf[3] != wire.MagicNumber[3] {
		return wire.Header{}, fmt.Errorf("bad magic")
	}
	cmd := wire.Command(uint16(buf[6])<<8 | uint16(buf[7]))
	length := uint32(buf[8])<<24 | uint32(buf[9])<<16 | uint32(buf[10])<<8 | uint32(buf[11])
	return wire.Header{Cmd: cmd, Length: length}, nil
}

func registerTracepoint(e *Engine, name string) *registry.Flag {
	normalized, _ := registry.NormalizeName(name)
	flag := registry.NewFlag(false)
	e.Ingress().Send(ingress.NewTracepoint{Name: normalized, Flag: flag})
	return flag
}

// Scenario A: round-trip encode.
func TestScenarioA_RoundTripEncode(t *testing.T) {
	e := newTestEngine(t, 50*time.Millisecond)
	registerTracepoint(e, "tp_a")

	conn := dial(t, e)
	writeEnableFrame(t, conn, "tp_a")

	e.Ingress().Send(ingress.Payload{
		Tracepoint:  "tp_a",
		TimestampNs: 0xAABBCCDD,
		Data:        []byte{0xDE, 0xAD, 0xBE, 0xEF},
	})

	hdr, body := readFrame(t, conn, 2*time.Second)
	assert.Equal(t, wire.TracePush, hdr.Cmd)

	events, err := wire.DecodeEvents(body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "tp_a", events[0].Name)
	assert.Equal(t, uint64(0xAABBCCDD), events[0].TimestampNs)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, events[0].Data)
}

// Scenario D: protocol violation tears the connection down and forces
// every tracepoint flag false.
func TestScenarioD_ProtocolViolationTearsDownConnection(t *testing.T) {
	e := newTestEngine(t, time.Minute)
	flag := registerTracepoint(e, "tp_a")
	flag.Store(true)

	conn := dial(t, e)
	_, err := conn.Write([]byte{0x00, 0x00, 0x00, 0x00, 0, 0, 0, 1, 0, 0, 0, 0})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	assert.Error(t, err, "connection must be torn down")

	assert.Eventually(t, func() bool {
		return !flag.Load()
	}, 2*time.Second, 10*time.Millisecond)
}

// Scenario E: name normalization collisions at the protocol layer.
func TestScenarioE_NameNormalizationAtProtocolLayer(t *testing.T) {
	e := newTestEngine(t, time.Minute)
	flag := registerTracepoint(e, "ab")

	conn := dial(t, e)
	writeEnableFrame(t, conn, "AB")

	time.Sleep(100 * time.Millisecond)
	assert.False(t, flag.Load(), "enabling the un-normalized name must not affect the registered flag")

	writeEnableFrame(t, conn, "ab")
	assert.Eventually(t, func() bool {
		return flag.Load()
	}, time.Second, 10*time.Millisecond)
}

// Scenario: TracepointListRequest synthesizes a reply from the registry.
func TestTracepointListRequestReply(t *testing.T) {
	e := newTestEngine(t, time.Minute)
	registerTracepoint(e, "tp_a")
	registerTracepoint(e, "tp_b")

	conn := dial(t, e)
	header := make([]byte, wire.HeaderLen)
	wire.EncodeHeader(header, wire.TracepointListRequest, 0)
	_, err := conn.Write(header)
	require.NoError(t, err)

	hdr, body := readFrame(t, conn, time.Second)
	assert.Equal(t, wire.TracepointListReply, hdr.Cmd)

	names, err := wire.DecodeTracepointNames(body)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tp_a", "tp_b"}, names)
}

// Property 4/invariant: disconnecting a collector disables every flag.
func TestConnectionCloseDisablesAllFlags(t *testing.T) {
	e := newTestEngine(t, time.Minute)
	flag := registerTracepoint(e, "tp_a")
	flag.Store(true)

	conn := dial(t, e)
	writeEnableFrame(t, conn, "tp_a")
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return !flag.Load()
	}, time.Second, 10*time.Millisecond)
}

// The engine itself forwards every Payload it receives regardless of the
// tracepoint's enabled state while a connection exists: per
// SPEC_FULL.md §4.3 the enabled-flag gate (scenario C) is enforced by
// the producer-facing Agent.Submit, not the engine's ingress handler.
// That scenario is covered at the package root (TestScenarioC... in
// agent_test.go) where both layers are wired together.
func TestEngineForwardsPayloadsRegardlessOfEnabledFlag(t *testing.T) {
	e := newTestEngine(t, 30*time.Millisecond)
	registerTracepoint(e, "t") // left disabled

	conn := dial(t, e)

	e.Ingress().Send(ingress.Payload{Tracepoint: "t", TimestampNs: 1, Data: []byte{0x01}})

	hdr, body := readFrame(t, conn, time.Second)
	assert.Equal(t, wire.TracePush, hdr.Cmd)
	events, err := wire.DecodeEvents(body)
	require.NoError(t, err)
	require.Len(t, events, 1)
}
