// Package buffer implements the batching buffer of SPEC_FULL.md §4.3: an
// ordered, engine-owned queue of pending trace events with a running
// byte-occupancy counter.
package buffer

import "github.com/Rohde-Schwarz/libtracy/internal/wire"

// TotalSize is the hard occupancy threshold (QUEUE_TOTAL_SIZE) that
// triggers an immediate flush, in bytes.
const TotalSize = 4096

// Element is one pending trace event. Len is its contribution to the
// buffer's occupancy counter: name length + 8-byte timestamp + payload
// length (SPEC_FULL.md §3).
type Element struct {
	Tracepoint string
	TimestampNs uint64
	Data       []byte
}

// Len returns the buffer-occupancy contribution of e.
func (e Element) Len() int {
	return len(e.Tracepoint) + 8 + len(e.Data)
}

// Buffer is an enqueue-at-tail, drain-at-head ordered sequence of
// Elements plus the occupancy counter that must always equal the sum of
// each element's Len (SPEC_FULL.md §8 property 6).
type Buffer struct {
	elements  []Element
	occupancy int
}

// New returns an empty buffer.
func New() *Buffer {
	return &Buffer{}
}

// Append adds e to the tail of the buffer and updates occupancy.
func (b *Buffer) Append(e Element) {
	b.elements = append(b.elements, e)
	b.occupancy += e.Len()
}

// Occupancy returns the current sum of all elements' Len().
func (b *Buffer) Occupancy() int {
	return b.occupancy
}

// Empty reports whether the buffer holds no elements.
func (b *Buffer) Empty() bool {
	return len(b.elements) == 0
}

// Clear discards every element and resets occupancy, used when the final
// best-effort flush on Terminate fails and there is no further chance to
// drain the buffer.
func (b *Buffer) Clear() {
	b.elements = nil
	b.occupancy = 0
}

// PackWindow removes and returns a prefix of the buffer's head whose
// total Len() plus wire.HeaderLen does not exceed TotalSize, implementing
// the greedy packing rule of SPEC_FULL.md §4.3. It always removes at
// least one element if the buffer is non-empty, even if that single
// element alone would overflow TotalSize (an oversized element is never
// split: SPEC_FULL.md caps submissions at wire.MaxSubmitLen, so a single
// element's encoded length never actually exceeds TotalSize).
func (b *Buffer) PackWindow() []Element {
	if len(b.elements) == 0 {
		return nil
	}

	windowLen := wire.HeaderLen
	n := 0
	for n < len(b.elements) {
		next := windowLen + b.elements[n].Len()
		if n > 0 && next > TotalSize {
			break
		}
		windowLen = next
		n++
	}

	window := b.elements[:n]
	b.elements = b.elements[n:]
	for _, e := range window {
		b.occupancy -= e.Len()
	}
	return window
}
