package beacon

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rohde-Schwarz/libtracy/internal/wire"
)

func TestUpdateIntervalMsecsAddsRatherThanConverts(t *testing.T) {
	// 1500ms = 1 whole second + 500ms of sub-second remainder; the
	// original adds these two numbers together instead of normalizing
	// to a single millisecond count.
	assert.Equal(t, uint64(1+500), updateIntervalMsecs(1500*time.Millisecond))
	assert.Equal(t, uint64(0), updateIntervalMsecs(0))
	assert.Equal(t, uint64(5), updateIntervalMsecs(5*time.Second))
}

// Scenario F: datagram schema and monotonically increasing sequence
// numbers. Send is called directly; the announce cadence is driven by the
// engine's timer and is not exercised here.
func TestSendEmitsSchemaCompliantDatagrams(t *testing.T) {
	listenAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	listener, err := net.ListenUDP("udp", listenAddr)
	require.NoError(t, err)
	defer listener.Close()

	b, err := Bind("", listener.LocalAddr().(*net.UDPAddr), "myhost", "myproc", 100*time.Millisecond)
	require.NoError(t, err)
	defer b.Close()

	const sends = 5
	for i := 0; i < sends; i++ {
		b.Send(61455)
	}

	buf := make([]byte, 2048)
	var sequenceNumbers []uint64
	for i := 0; i < sends; i++ {
		require.NoError(t, listener.SetReadDeadline(time.Now().Add(time.Second)))
		n, _, err := listener.ReadFromUDP(buf)
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, 4)
		assert.Equal(t, wire.MagicNumber[:], buf[0:4])

		var payload struct {
			SequenceNr          uint64 `json:"sequence_nr"`
			ServerVersion       string `json:"server_version"`
			ProtocollVersion    string `json:"protocoll_version"`
			UpdateIntervalMsecs uint64 `json:"update_interval_msecs"`
			Hostname            string `json:"hostname"`
			ProcessName         string `json:"process_name"`
			Port                uint16 `json:"port"`
		}
		require.NoError(t, json.Unmarshal(buf[4:n], &payload))
		assert.Equal(t, "1.1.0", payload.ServerVersion)
		assert.Equal(t, "1.1.0", payload.ProtocollVersion)
		assert.Equal(t, "myhost", payload.Hostname)
		assert.Equal(t, "myproc", payload.ProcessName)
		assert.Equal(t, uint16(61455), payload.Port)
		sequenceNumbers = append(sequenceNumbers, payload.SequenceNr)
	}

	for i := 1; i < len(sequenceNumbers); i++ {
		assert.Greater(t, sequenceNumbers[i], sequenceNumbers[i-1])
	}
}
