package i2c

import (
	"fmt"
	"time"

	conni2c "periph.io/x/conn/v3/i2c"
)

var _ conni2c.Bus = (*Controller)(nil)

// Per-message wait budget for the completion signal.
const msgTimeout = 100 * time.Millisecond

// Synthetic error marker: the wait budget expired without a completion
// signal. Kept outside the low byte so it can never collide with a raw
// status pattern.
const errTimeoutMark = 1 << 8

// resetCause distinguishes the register-level resets for diagnostics.
type resetCause uint8

const (
	resetNoIdleForStart resetCause = iota + 1
	resetTimeout
)

func (r resetCause) String() string {
	switch r {
	case resetNoIdleForStart:
		return "bus not idle"
	case resetTimeout:
		return "transfer timeout"
	}
	return fmt.Sprintf("cause(%d)", uint8(r))
}

// Transfer runs the ordered messages as one transaction against the
// device at addr. Messages without Stop chain into their successor on
// the same electrical transaction. The first classified error aborts the
// remaining messages; bytes already moved stay in the caller's buffers.
func (c *Controller) Transfer(msgs []Msg, addr uint16) error {
	if len(msgs) == 0 {
		return fmt.Errorf("i2c: transfer: no messages: %w", ErrInvalidArgument)
	}
	// One lock for the whole transaction: chained messages must not
	// interleave with another caller.
	c.mu.Lock()
	defer c.mu.Unlock()

	// A write-to-read transaction split across two Transfer calls
	// leaves a continuation pending; only a fresh transaction checks
	// the bus and forces a start condition.
	fresh := c.status == chNormal
	if fresh {
		if !c.busFree() {
			c.recoverBusLocked()
			// No external pull-up leaves the lines stuck even after
			// recovery. Drop the transaction.
			if !c.busFree() {
				return fmt.Errorf("i2c: transfer: %w", ErrBusNotAvailable)
			}
		}
	}

	for i := range msgs {
		m := &msgs[i]
		flags := m.Flags
		if i == 0 && fresh {
			flags |= Start
		}
		c.widx, c.ridx, c.err = 0, 0, 0
		c.addr = addr
		c.cur = message{buf: m.Buf, read: m.Read, flags: flags}
		// Drop a stale completion so the wait below consumes exactly
		// the signal belonging to this message.
		select {
		case <-c.done:
		default:
		}
		if flags&Start != 0 {
			c.status = chNormal
			c.cfg.IRQ.Enable()
		}
		// Prime the transaction: enabling the interrupt alone does not
		// make the hardware move.
		c.transaction()
		ok := c.waitDone()
		// The interrupt was enabled at start or repeat start. If the
		// wait expired without it ever firing, it must not fire later
		// against state no longer being serviced.
		c.cfg.IRQ.Disable()
		if c.err != 0 {
			break
		}
		if !ok {
			c.err = errTimeoutMark
			c.reset(resetTimeout)
			break
		}
	}

	// Continuation state must not leak past a failed or completed
	// transaction.
	if c.err != 0 || msgs[len(msgs)-1].Flags&Stop != 0 {
		c.status = chNormal
	}
	return c.result()
}

// ServiceInterrupt steps the transaction forward. Wire it to the
// channel's interrupt vector.
func (c *Controller) ServiceInterrupt() {
	if c.transaction() {
		return
	}
	// Done doing work; wake the caller.
	select {
	case c.done <- struct{}{}:
	default:
	}
	c.cfg.IRQ.Disable()
}

// Pending reports whether the channel shows a serviceable interrupt
// condition. Poll-driven register backends, which cannot see the EC's
// interrupt line, call this to decide when to run ServiceInterrupt.
func (c *Controller) Pending() bool {
	r := c.cfg.Regs
	if c.cfg.Port.enhanced() {
		return r.Read8(regSTR)&(staByteDone|staAnyError) != 0
	}
	return r.Read8(regHOSTA)&(hostaFINTR|hostaBDS|hostaAnyError) != 0
}

// transaction is the pump: classify errors, dispatch one protocol step to
// the active variant, detect final completion. It reports whether another
// interrupt is still expected.
func (c *Controller) transaction() bool {
	if c.cfg.Port.enhanced() {
		return c.enhancedTransaction()
	}
	return c.standardTransaction()
}

func (c *Controller) waitDone() bool {
	if !c.timer.Stop() {
		select {
		case <-c.timer.C:
		default:
		}
	}
	c.timer.Reset(msgTimeout)
	select {
	case <-c.done:
		return true
	case <-c.timer.C:
		return false
	}
}

// reset clears the channel at the register level. It never touches the
// bus lines; a timeout is handled as a lighter failure than a wedged bus.
func (c *Controller) reset(cause resetCause) {
	r := c.cfg.Regs
	if c.cfg.Port.enhanced() {
		r.Write8(regCTR, ctlStsAndHWRst)
	} else {
		r.Write8(regHOCTL, hoctlKILL)
		r.Write8(regHOCTL, 0)
		r.Write8(regHOSTA, hostaAllWC)
	}
	// Only the cause: a reset before a fresh transaction (or from a
	// direct RecoverBus call) has no current address to blame.
	c.logf("i2c: channel %v: reset: %v", c.cfg.Port, cause)
}

func (c *Controller) lineLevels() uint8 {
	r := c.cfg.Regs
	if !c.cfg.Port.enhanced() {
		return r.Read8(regSMBPCTL) & (smbpctlSCL | smbpctlSDA)
	}
	var lines uint8
	tos := r.Read8(regTOS)
	if tos&tosSCLIn != 0 {
		lines |= lineSCLHigh
	}
	if tos&tosSDAIn != 0 {
		lines |= lineSDAHigh
	}
	return lines
}

func (c *Controller) busy() bool {
	r := c.cfg.Regs
	if c.cfg.Port.enhanced() {
		return r.Read8(regSTR)&staBusBusy != 0
	}
	return r.Read8(regHOSTA)&(hostaHOBY|hostaAllWC) != 0
}

func (c *Controller) busFree() bool {
	return !c.busy() && c.lineLevels() == lineIdle
}

// result translates the recorded error code into the public taxonomy.
// Everything below this point treated the code as opaque.
func (c *Controller) result() error {
	switch {
	case c.err == 0:
		return nil
	case c.err&errTimeoutMark != 0:
		return fmt.Errorf("i2c: transfer to 0x%x: %w", c.addr, ErrTimeout)
	}
	nack := false
	if c.cfg.Port.enhanced() {
		nack = c.err == staAck
	} else {
		nack = c.err == hostaNACK
	}
	if nack {
		return fmt.Errorf("i2c: transfer to 0x%x: %w", c.addr, ErrNotAcknowledged)
	}
	return fmt.Errorf("i2c: transfer to 0x%x: status 0x%02x: %w", c.addr, c.err, ErrHardwareFault)
}
