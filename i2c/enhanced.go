package i2c

// Protocol engine for the enhanced raw I2C interface (channels D-F).
// Unlike the SMBus host, this personality has no byte-done handshake
// register: every byte is one data-register write plus one control-register
// write, and the acknowledge for the byte after the current one is chosen
// on the control write itself.

func (c *Controller) enhancedTransaction() bool {
	r := c.cfg.Regs
	if c.enhancedError() == 0 {
		if !c.stop {
			if c.cur.read {
				return c.enhancedRead()
			}
			return c.enhancedWrite()
		}
	}
	// Errored, or the stop condition completed: reset state and
	// hardware and disable the module until the next start.
	r.Write8(regCTR, ctlStsAndHWRst)
	r.Write8(regCTR1, 0)
	c.stop = false
	return false
}

// enhancedError records direct error bits, and infers a NACK when a byte
// finished without the acknowledge bit even though the control register
// asked for one.
func (c *Controller) enhancedError() uint16 {
	r := c.cfg.Regs
	str := r.Read8(regSTR)
	if str&staAnyError != 0 {
		c.err = uint16(str & staAnyError)
	} else if str&staByteDoneAndAck == staByteDone {
		if r.Read8(regCTR)&ctlAck != 0 {
			c.err = staAck
		}
	}
	return c.err
}

// enhancedStart resets the controller, restores the prescale backup and
// the clock-low timeout, and enables the module.
func (c *Controller) enhancedStart() {
	r := c.cfg.Regs
	r.Write8(regCTR, ctlStsAndHWRst)
	r.Write8(regPSR, c.psr)
	r.Write8(regHSPR, c.psr)
	r.Write8(regTOR, clkLowTimeout)
	r.Write8(regCTR1, ctr1ModuleEn)
}

// enhancedSend moves one byte. The first byte of a transaction is the
// target address with the direction folded into bit 0, sent together with
// the start condition. For reads, the acknowledge is withheld on the
// control write preceding the final byte so the device sees the NACK
// ending the read cycle.
func (c *Controller) enhancedSend(read bool, data uint8, first bool) {
	r := c.cfg.Regs
	if first {
		if read {
			data |= 1
		}
		r.Write8(regDTR, data)
		r.Write8(regCTR, ctlStartID)
		return
	}
	ack := true
	if read {
		if c.ridx+1 == len(c.cur.buf) && c.cur.flags&Stop != 0 {
			ack = false
		}
	} else {
		r.Write8(regDTR, data)
	}
	ctl := uint8(ctlIntEn | ctlModeSel | ctlHWRst)
	if ack {
		ctl |= ctlAck
	}
	r.Write8(regCTR, ctl)
}

func (c *Controller) enhancedRead() bool {
	r := c.cfg.Regs
	if c.cur.flags&Start != 0 {
		c.cur.flags &^= Start
		c.enhancedStart()
		// Direct read: the address interrupt arrives before any data.
		c.status = chWaitRead
		c.enhancedSend(true, uint8(c.addr<<1), true)
		return true
	}
	if c.status != chNormal {
		if c.status == chWaitRead {
			c.status = chNormal
			c.enhancedSend(true, 0, false)
		} else {
			// Write-to-read: repeat start with the address resent for
			// reading.
			c.status = chWaitRead
			c.enhancedSend(true, uint8(c.addr<<1), true)
		}
		// This path runs from the priming call; re-arm the interrupt
		// before the next byte completes.
		c.cfg.IRQ.Enable()
		return true
	}
	if c.ridx < len(c.cur.buf) {
		c.cur.buf[c.ridx] = r.Read8(regDRR)
		c.ridx++
		if c.ridx == len(c.cur.buf) {
			if c.cur.flags&Stop != 0 {
				c.status = chNormal
				r.Write8(regCTR, ctlFinish)
				// Wait for the stop condition's interrupt.
				c.stop = true
				return true
			}
			// End of this message; the next one continues the read.
			c.status = chWaitRead
			return false
		}
		c.enhancedSend(true, 0, false)
	}
	return true
}

func (c *Controller) enhancedWrite() bool {
	if c.cur.flags&Start != 0 {
		c.cur.flags &^= Start
		c.enhancedStart()
		c.enhancedSend(false, uint8(c.addr<<1), true)
		return true
	}
	if c.widx < len(c.cur.buf) {
		out := c.cur.buf[c.widx]
		c.widx++
		c.enhancedSend(false, out, false)
		if c.status == chWaitNextXfer {
			c.status = chNormal
			c.cfg.IRQ.Enable()
		}
		return true
	}
	// Done.
	if c.cur.flags&Stop != 0 {
		c.cfg.Regs.Write8(regCTR, ctlFinish)
		c.stop = true
		return true
	}
	// Direct write chained into a following read.
	c.status = chWaitNextXfer
	return false
}
