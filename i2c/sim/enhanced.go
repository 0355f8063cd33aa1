package sim

import (
	"sync"

	"periph.io/x/conn/v3/gpio"
)

// Register offsets and bits of the enhanced raw I2C window.
const (
	enhSTR  = 0x00
	enhDHTR = 0x01
	enhTOR  = 0x02
	enhDTR  = 0x03
	enhCTR  = 0x04
	enhCTR1 = 0x05
	enhPSR  = 0x08
	enhHSPR = 0x09
	enhDRR  = 0x10
	enhTOS  = 0x12
)

const (
	enhCtlHWRst       = 1 << 0
	enhCtlStop        = 1 << 1
	enhCtlStart       = 1 << 2
	enhCtlAck         = 1 << 3
	enhCtlStsRst      = 1 << 4
	enhCtlStsAndHWRst = enhCtlStsRst | enhCtlHWRst
)

const (
	enhStaAck      = 1 << 0
	enhStaTMOE     = 1 << 3
	enhStaArbLost  = 1 << 4
	enhStaBusy     = 1 << 5
	enhStaByteDone = 1 << 7
)

const (
	enhTosSDA = 1 << 0
	enhTosSCL = 1 << 2
)

// Enhanced models one raw I2C channel. Every control-register write with
// the hardware-reset bit clocks the next byte; the acknowledge for that
// byte is whatever the control write asked for.
type Enhanced struct {
	mu  sync.Mutex
	irq *IRQ

	str  uint8
	dhtr uint8
	tor  uint8
	dtr  uint8
	ctr  uint8
	ctr1 uint8
	psr  uint8
	hspr uint8
	drr  uint8
	tos  uint8

	slaves   map[uint16]Slave
	target   Slave
	active   bool
	read     bool
	wedged   bool
	failWith uint8

	stats    Stats
	readAcks []bool
}

func NewEnhanced(irq *IRQ) *Enhanced {
	return &Enhanced{
		irq:    irq,
		tos:    enhTosSCL | enhTosSDA,
		slaves: make(map[uint16]Slave),
	}
}

// AddSlave attaches a device at a 7-bit address.
func (e *Enhanced) AddSlave(addr uint16, sl Slave) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.slaves[addr] = sl
}

// SetLines forces the electrical line levels, simulating a stuck bus.
func (e *Enhanced) SetLines(scl, sda bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setLines(scl, sda)
}

func (e *Enhanced) setLines(scl, sda bool) {
	e.tos = 0
	if scl {
		e.tos |= enhTosSCL
	}
	if sda {
		e.tos |= enhTosSDA
	}
}

// PinSCL and PinSDA expose the bus lines as recovery pins.
func (e *Enhanced) PinSCL() *LinePin {
	return &LinePin{set: func(l gpio.Level) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.setLines(bool(l), e.tos&enhTosSDA != 0)
	}}
}

func (e *Enhanced) PinSDA() *LinePin {
	return &LinePin{set: func(l gpio.Level) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.setLines(e.tos&enhTosSCL != 0, bool(l))
	}}
}

// SetWedged makes start conditions vanish without a trace.
func (e *Enhanced) SetWedged(w bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wedged = w
}

// FailWith injects the given status bits on the next byte event.
func (e *Enhanced) FailWith(bits uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failWith = bits
}

func (e *Enhanced) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Enhanced) ResetStats() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats = Stats{}
	e.readAcks = nil
}

// ReadAcks reports, per byte clocked out of the device, whether the
// controller acknowledged it.
func (e *Enhanced) ReadAcks() []bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]bool(nil), e.readAcks...)
}

func (e *Enhanced) Read8(off uint8) uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch off {
	case enhSTR:
		return e.str
	case enhDHTR:
		return e.dhtr
	case enhTOR:
		return e.tor
	case enhDTR:
		return e.dtr
	case enhCTR:
		return e.ctr
	case enhCTR1:
		return e.ctr1
	case enhPSR:
		return e.psr
	case enhHSPR:
		return e.hspr
	case enhDRR:
		return e.drr
	case enhTOS:
		return e.tos
	}
	return 0
}

func (e *Enhanced) Write8(off, v uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch off {
	case enhDHTR:
		e.dhtr = v
	case enhTOR:
		e.tor = v
	case enhDTR:
		e.dtr = v
	case enhCTR1:
		e.ctr1 = v
	case enhPSR:
		e.psr = v
	case enhHSPR:
		e.hspr = v
	case enhCTR:
		e.ctr = v
		switch {
		case v == enhCtlStsAndHWRst:
			e.abort()
		case v&enhCtlStop != 0:
			e.finish()
		case v&enhCtlStart != 0:
			e.startTxn()
		case v&enhCtlHWRst != 0 && e.active:
			e.step()
		}
	}
}

// abort is the register-level reset: drop the transaction on the floor,
// no stop condition reaches the device.
func (e *Enhanced) abort() {
	if e.active {
		e.stats.Kills++
	}
	e.active = false
	e.read = false
	e.target = nil
	e.str = 0
}

func (e *Enhanced) inject() bool {
	if e.failWith == 0 {
		return false
	}
	e.str = e.failWith
	e.failWith = 0
	e.active = false
	e.irq.Assert()
	return true
}

func (e *Enhanced) startTxn() {
	if e.wedged {
		return
	}
	if e.inject() {
		return
	}
	e.stats.Starts++
	read := e.dtr&1 != 0
	tgt := e.slaves[uint16(e.dtr>>1)]
	if tgt == nil || !tgt.Start(read) {
		// Address byte done, no acknowledge seen.
		e.str = enhStaByteDone
		e.active = false
		e.irq.Assert()
		return
	}
	e.target, e.read, e.active = tgt, read, true
	e.str = enhStaBusy | enhStaByteDone | enhStaAck
	e.irq.Assert()
}

// step clocks one data byte in the direction of the running transaction.
func (e *Enhanced) step() {
	if e.inject() {
		return
	}
	if e.read {
		e.drr = e.target.Read()
		ack := e.ctr&enhCtlAck != 0
		e.readAcks = append(e.readAcks, ack)
		e.str = enhStaBusy | enhStaByteDone
		if ack {
			e.str |= enhStaAck
		}
	} else {
		ok := e.target.Write(e.dtr)
		e.str = enhStaBusy | enhStaByteDone
		if ok {
			e.str |= enhStaAck
		}
	}
	e.irq.Assert()
}

func (e *Enhanced) finish() {
	e.stats.Stops++
	if e.target != nil {
		e.target.Stop()
	}
	e.target = nil
	e.active = false
	e.read = false
	e.str = 0
	e.irq.Assert()
}
