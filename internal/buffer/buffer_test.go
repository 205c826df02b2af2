package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rohde-Schwarz/libtracy/internal/wire"
)

func TestBufferOccupancyInvariant(t *testing.T) {
	b := New()
	assert.True(t, b.Empty())
	assert.Equal(t, 0, b.Occupancy())

	el := Element{Tracepoint: "tp_a", TimestampNs: 1, Data: []byte{1, 2, 3}}
	b.Append(el)
	assert.Equal(t, el.Len(), b.Occupancy())
	assert.False(t, b.Empty())

	b.Append(el)
	assert.Equal(t, 2*el.Len(), b.Occupancy())

	window := b.PackWindow()
	require.Len(t, window, 2)
	assert.Equal(t, 0, b.Occupancy())
	assert.True(t, b.Empty())
}

func TestPackWindowRespectsTotalSizeIncludingHeader(t *testing.T) {
	b := New()

	// Each element contributes len(name)+8+len(data) = 4+8+50 = 62 bytes.
	// wire.HeaderLen (12) + n*62 <= 4096 => n <= 65.
	const elLen = 4 + 8 + 50
	n := (TotalSize - wire.HeaderLen) / elLen
	for i := 0; i < n+5; i++ {
		b.Append(Element{Tracepoint: "x000", TimestampNs: uint64(i), Data: make([]byte, 50)})
	}

	window := b.PackWindow()
	total := wire.HeaderLen
	for _, e := range window {
		total += e.Len()
	}
	assert.LessOrEqual(t, total, TotalSize)
	assert.NotEmpty(t, window)
}

func TestPackWindowAlwaysRemovesAtLeastOneElement(t *testing.T) {
	b := New()
	huge := Element{Tracepoint: "x", TimestampNs: 0, Data: make([]byte, TotalSize)}
	b.Append(huge)

	window := b.PackWindow()
	require.Len(t, window, 1)
	assert.True(t, b.Empty())
}

func TestPackWindowPreservesFIFOOrder(t *testing.T) {
	b := New()
	for i := 0; i < 3; i++ {
		b.Append(Element{Tracepoint: "tp", TimestampNs: uint64(i)})
	}

	window := b.PackWindow()
	require.Len(t, window, 3)
	for i, e := range window {
		assert.Equal(t, uint64(i), e.TimestampNs)
	}
}

func TestBufferClear(t *testing.T) {
	b := New()
	b.Append(Element{Tracepoint: "a", Data: []byte{1}})
	b.Clear()
	assert.True(t, b.Empty())
	assert.Equal(t, 0, b.Occupancy())
}
