package i2c

// Protocol engine for the standard SMBus host interface (channels A-C).
// The hardware raises one interrupt per completed byte; every step below
// runs once per interrupt, plus once synchronously when the message is
// primed.

func (c *Controller) standardTransaction() bool {
	r := c.cfg.Regs
	if sta := r.Read8(regHOSTA); sta&hostaAnyError != 0 {
		c.err = uint16(sta & hostaAnyError)
	} else {
		if !c.stop {
			if c.cur.read {
				return c.standardRead()
			}
			return c.standardWrite()
		}
		// Stop already issued; wait for the finish interrupt.
		if r.Read8(regHOSTA)&hostaFINTR == 0 {
			return true
		}
	}
	// Finished or errored: clear the write-1-clear status bits and
	// disable the host interface.
	r.Write8(regHOSTA, hostaAllWC)
	r.Write8(regHOCTL2, 0)
	c.stop = false
	return false
}

func (c *Controller) standardWrite() bool {
	r := c.cfg.Regs
	if c.cur.flags&Start != 0 {
		c.cur.flags &^= Start
		r.Write8(regHOCTL2, hoctl2HostEn|hoctl2I2CEn|hoctl2SMHEn)
		// Bit 0 is the transfer direction, bits 1-7 the target address.
		r.Write8(regTRASLA, uint8(c.addr<<1))
		// A zero-length write (quick command) leaves the data register
		// alone; the byte-done interrupt then lands on the done path.
		if c.widx < len(c.cur.buf) {
			r.Write8(regHOBDB, c.cur.buf[c.widx])
			c.widx++
		}
		r.Write8(regHOCTL, hoctlINTREN|hoctlExtCmd|hoctlStart)
		return true
	}
	if r.Read8(regHOSTA)&hostaBDS == 0 {
		return true
	}
	// The host has completed the transmission of a byte.
	if c.widx < len(c.cur.buf) {
		r.Write8(regHOBDB, c.cur.buf[c.widx])
		c.widx++
		r.Write8(regHOSTA, hostaNextByte)
		if c.status == chRepeatStart {
			c.status = chNormal
			c.cfg.IRQ.Enable()
		}
		return true
	}
	// Done.
	if c.cur.flags&Stop != 0 {
		// Drop I2C-compatible mode so acknowledging the last byte
		// releases the bus with a stop condition.
		r.Write8(regHOCTL2, hoctl2HostEn|hoctl2SMHEn)
		r.Write8(regHOSTA, hostaNextByte)
		c.stop = true
		return true
	}
	c.status = chRepeatStart
	return false
}

func (c *Controller) standardRead() bool {
	r := c.cfg.Regs
	if c.cur.flags&Start != 0 {
		c.cur.flags &^= Start
		r.Write8(regHOCTL2, hoctl2HostEn|hoctl2I2CEn|hoctl2SMHEn)
		r.Write8(regTRASLA, uint8(c.addr<<1)|1)
		ctl := uint8(hoctlINTREN | hoctlExtCmd | hoctlStart)
		if len(c.cur.buf) == 1 && c.cur.flags&Stop != 0 {
			// The very first byte is already the last one.
			ctl |= hoctlLastByte
		}
		r.Write8(regHOCTL, ctl)
		return true
	}
	switch {
	case c.status == chRepeatStart || c.status == chWaitRead:
		if c.status == chRepeatStart {
			c.switchDirection()
		} else {
			c.armLastByte()
			r.Write8(regHOSTA, hostaNextByte)
		}
		c.status = chNormal
		// Turn the interrupt back on: this path runs from the priming
		// call, not from the interrupt handler.
		c.cfg.IRQ.Enable()
	case r.Read8(regHOSTA)&hostaBDS != 0:
		if c.ridx < len(c.cur.buf) {
			c.cur.buf[c.ridx] = r.Read8(regHOBDB)
			c.ridx++
			c.armLastByte()
			if c.ridx == len(c.cur.buf) {
				if c.cur.flags&Stop != 0 {
					r.Write8(regHOSTA, hostaNextByte)
					c.stop = true
				} else {
					c.status = chWaitRead
					return false
				}
			} else {
				r.Write8(regHOSTA, hostaNextByte)
			}
		}
	}
	return true
}

// armLastByte sets the last-byte control bit when the byte after the one
// just handled will be the final one. The hardware needs the hint one
// interrupt ahead: arming it on the final byte's own interrupt is too
// late and leaves the read unterminated.
func (c *Controller) armLastByte() {
	if c.cur.flags&Stop != 0 && c.ridx == len(c.cur.buf)-1 {
		r := c.cfg.Regs
		r.Write8(regHOCTL, r.Read8(regHOCTL)|hoctlLastByte)
	}
}

// switchDirection turns a finished write segment into a read without
// releasing the bus. The switch-enable bit is polled: until the hardware
// shows it, the engine only requests the switch and acknowledges the
// pending byte, deliberately not advancing. Collapsing the two phases
// into one breaks on real silicon.
func (c *Controller) switchDirection() {
	r := c.cfg.Regs
	if r.Read8(regHOCTL2)&hoctl2SwEn != 0 {
		c.armLastByte()
		r.Write8(regHOSTA, hostaNextByte)
	} else {
		r.Write8(regHOCTL2, r.Read8(regHOCTL2)|hoctl2SwEn|hoctl2SwWait)
		r.Write8(regHOSTA, hostaNextByte)
		c.armLastByte()
		r.Write8(regHOCTL2, r.Read8(regHOCTL2)&^hoctl2SwWait)
	}
}
