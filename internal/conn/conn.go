package conn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/Rohde-Schwarz/libtracy/internal/wire"
)

// WriteTimeout bounds every flush write. A timeout is treated as the
// moral equivalent of a would-block: whatever the kernel already
// accepted into its send buffer stays sent, the remainder is dropped for
// this flush, and the connection is not torn down (SPEC_FULL.md §4.5,
// §7). Declared as a var, not a const, so tests can shrink it instead of
// running real flush scenarios against a multi-hundred-millisecond clock.
var WriteTimeout = 200 * time.Millisecond

// Frame is a fully received, header-validated frame from the collector.
type Frame struct {
	Header wire.Header
	Body   []byte
}

// Closed is delivered exactly once, when the read loop stops for any
// reason (collector disconnect, protocol violation, Close call). Err is
// nil for a clean EOF.
type Closed struct {
	Err error
}

// Event is either a Frame or a Closed.
type Event interface{}

// Conn is the single active collector connection. Only one exists at a
// time; the engine owns its lifetime.
type Conn struct {
	nc     net.Conn
	events chan Event
}

// Accept takes ownership of an already-accepted net.Conn and starts the
// dedicated goroutine that decodes frames off it. The goroutine never
// touches the registry or buffer directly: it only turns bytes into
// Frame/Closed events for the engine to apply.
func Accept(nc net.Conn) *Conn {
	c := &Conn{
		nc:     nc,
		events: make(chan Event, 4),
	}
	go c.readLoop()
	return c
}

// Events returns the channel the engine selects on for this connection.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// RemoteAddr returns the collector's address, for logging.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

// Close tears down the underlying socket. The read loop's blocked Read
// unblocks with an error and reports its own Closed event; callers
// should not wait on it.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// WriteFrame sends a complete header+body frame. A write-deadline
// timeout is swallowed (partial data already handed to the kernel
// stays sent); any other error is returned so the engine tears the
// connection down.
func (c *Conn) WriteFrame(cmd wire.Command, body []byte) error {
	buf := make([]byte, wire.HeaderLen+len(body))
	wire.EncodeHeader(buf, cmd, uint32(len(body)))
	copy(buf[wire.HeaderLen:], body)

	_ = c.nc.SetWriteDeadline(time.Now().Add(WriteTimeout))
	_, err := c.nc.Write(buf)
	_ = c.nc.SetWriteDeadline(time.Time{})

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return nil
	}
	return err
}

func (c *Conn) readLoop() {
	header := make([]byte, wire.HeaderLen)
	for {
		if _, err := io.ReadFull(c.nc, header); err != nil {
			c.closeWith(eofOrErr(err))
			return
		}
		hdr, err := wire.DecodeHeader(header)
		if err != nil {
			c.closeWith(err)
			return
		}
		body := make([]byte, hdr.Length)
		if hdr.Length > 0 {
			if _, err := io.ReadFull(c.nc, body); err != nil {
				c.closeWith(eofOrErr(err))
				return
			}
		}
		c.events <- Frame{Header: hdr, Body: body}
	}
}

func (c *Conn) closeWith(err error) {
	c.events <- Closed{Err: err}
}

func eofOrErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil
	}
	return fmt.Errorf("conn: read: %w", err)
}
