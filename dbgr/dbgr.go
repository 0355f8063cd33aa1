// package dbgr reaches a controller channel's register window through
// the EC debug adapter, a serial bridge exposing single-register reads
// and writes. Latency makes it useless for production traffic; it
// exists for bring-up and for capturing traces from a live system.
package dbgr

import (
	"fmt"
	"io"
	"sync"

	"github.com/tarm/serial"
)

// Wire format: 'R' off -> one value byte back, 'W' off val -> the value
// echoed back. The echo keeps the stream in lockstep.
const (
	cmdRead  = 'R'
	cmdWrite = 'W'
)

const baudRate = 115200

// Conn is a register window tunneled over a byte stream. Transport
// failures are sticky: after the first one, reads return zero and
// writes do nothing, and Err reports the cause.
type Conn struct {
	mu  sync.Mutex
	rw  io.ReadWriter
	err error
}

// Open connects to the debug adapter on a serial device.
func Open(dev string) (*Conn, error) {
	s, err := serial.OpenPort(&serial.Config{Name: dev, Baud: baudRate})
	if err != nil {
		return nil, fmt.Errorf("dbgr: open %s: %w", dev, err)
	}
	return New(s), nil
}

// New wraps an established byte stream, mostly for tests.
func New(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw}
}

func (c *Conn) Read8(off uint8) uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := c.roundTrip([]byte{cmdRead, off})
	if err != nil {
		c.fail("read", off, err)
		return 0
	}
	return v
}

func (c *Conn) Write8(off, v uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	echo, err := c.roundTrip([]byte{cmdWrite, off, v})
	if err != nil {
		c.fail("write", off, err)
		return
	}
	if echo != v {
		c.fail("write", off, fmt.Errorf("echo 0x%02x for 0x%02x", echo, v))
	}
}

func (c *Conn) roundTrip(cmd []byte) (uint8, error) {
	if c.err != nil {
		return 0, c.err
	}
	if _, err := c.rw.Write(cmd); err != nil {
		return 0, err
	}
	var resp [1]byte
	if _, err := io.ReadFull(c.rw, resp[:]); err != nil {
		return 0, err
	}
	return resp[0], nil
}

func (c *Conn) fail(op string, off uint8, err error) {
	if c.err != nil {
		return
	}
	c.err = fmt.Errorf("dbgr: %s 0x%02x: %w", op, off, err)
}

// Err reports the first transport failure.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
