package sim

import (
	"sync"

	"periph.io/x/conn/v3/gpio"
)

// Register offsets and bits of the standard SMBus host window, mirrored
// here so the model stays independent of the driver.
const (
	stdHOSTA   = 0x00
	stdHOCTL   = 0x01
	stdTRASLA  = 0x03
	stdHOBDB   = 0x06
	stdSMBPCTL = 0x0a
	stdHOCTL2  = 0x10
)

const (
	stdStaHOBY  = 1 << 0
	stdStaFINTR = 1 << 1
	stdStaNACK  = 1 << 5
	stdStaBDS   = 1 << 7
	stdStaWC    = 0xfe
)

const (
	stdCtlKill     = 1 << 1
	stdCtlLastByte = 1 << 5
	stdCtlStart    = 1 << 6
)

const (
	stdCtl2I2CEn  = 1 << 1
	stdCtl2SwWait = 1 << 2
	stdCtl2SwEn   = 1 << 3
)

const (
	stdLineSCL = 1 << 0
	stdLineSDA = 1 << 1
)

// Standard models one SMBus host channel. It raises one interrupt per
// completed byte and advances when the byte-done status bit is cleared,
// the same handshake the silicon uses.
type Standard struct {
	mu  sync.Mutex
	irq *IRQ

	hosta  uint8
	hoctl  uint8 // stored without the self-clearing start bit
	hoctl2 uint8
	trasla uint8
	hobdb  uint8
	lines  uint8

	slaves map[uint16]Slave
	target Slave
	active bool
	read   bool
	// nackSent records that the byte most recently clocked in carried
	// the closing NACK, so the next acknowledge ends with a stop.
	nackSent      bool
	switchPending bool
	wedged        bool
	failWith      uint8

	stats        Stats
	lastByteArms []bool
}

func NewStandard(irq *IRQ) *Standard {
	return &Standard{
		irq:    irq,
		lines:  stdLineSCL | stdLineSDA,
		slaves: make(map[uint16]Slave),
	}
}

// AddSlave attaches a device at a 7-bit address.
func (s *Standard) AddSlave(addr uint16, sl Slave) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slaves[addr] = sl
}

// SetLines forces the electrical line levels, simulating a stuck bus.
func (s *Standard) SetLines(scl, sda bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLines(scl, sda)
}

func (s *Standard) setLines(scl, sda bool) {
	s.lines = 0
	if scl {
		s.lines |= stdLineSCL
	}
	if sda {
		s.lines |= stdLineSDA
	}
}

// PinSCL and PinSDA expose the bus lines as recovery pins.
func (s *Standard) PinSCL() *LinePin {
	return &LinePin{set: func(l gpio.Level) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.setLines(bool(l), s.lines&stdLineSDA != 0)
	}}
}

func (s *Standard) PinSDA() *LinePin {
	return &LinePin{set: func(l gpio.Level) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.setLines(s.lines&stdLineSCL != 0, bool(l))
	}}
}

// SetWedged makes start conditions vanish without a trace, the way a
// held-low clock line eats them.
func (s *Standard) SetWedged(w bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wedged = w
}

// FailWith injects the given status bits on the next start condition.
func (s *Standard) FailWith(bits uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = bits
}

func (s *Standard) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Standard) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = Stats{}
	s.lastByteArms = nil
}

// LastByteArms reports, per received byte, whether the last-byte control
// bit was armed when the byte was clocked in.
func (s *Standard) LastByteArms() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.lastByteArms...)
}

func (s *Standard) Read8(off uint8) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch off {
	case stdHOSTA:
		return s.hosta
	case stdHOCTL:
		return s.hoctl
	case stdHOCTL2:
		return s.hoctl2
	case stdTRASLA:
		return s.trasla
	case stdHOBDB:
		return s.hobdb
	case stdSMBPCTL:
		return s.lines
	}
	return 0
}

func (s *Standard) Write8(off, v uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch off {
	case stdHOSTA:
		cleared := s.hosta & v & stdStaWC
		s.hosta &^= v & stdStaWC
		if cleared&stdStaBDS != 0 && s.active {
			s.advance()
		}
	case stdHOCTL:
		s.hoctl = v &^ stdCtlStart
		if v&stdCtlKill != 0 {
			s.kill()
		}
		if v&stdCtlStart != 0 {
			s.startTxn()
		}
	case stdHOCTL2:
		old := s.hoctl2
		s.hoctl2 = v
		if s.switchPending && old&stdCtl2SwWait != 0 && v&stdCtl2SwWait == 0 {
			s.switchPending = false
			s.doSwitch()
		}
	case stdTRASLA:
		s.trasla = v
	case stdHOBDB:
		s.hobdb = v
	}
}

func (s *Standard) kill() {
	s.stats.Kills++
	s.active = false
	s.read = false
	s.nackSent = false
	s.switchPending = false
	s.target = nil
	s.hosta &^= stdStaHOBY
}

func (s *Standard) startTxn() {
	if s.wedged {
		return
	}
	if s.failWith != 0 {
		bits := s.failWith
		s.failWith = 0
		s.raiseError(bits)
		return
	}
	s.stats.Starts++
	s.read = s.trasla&1 != 0
	s.target = s.slaves[uint16(s.trasla>>1)]
	if s.target == nil || !s.target.Start(s.read) {
		s.raiseError(stdStaNACK)
		return
	}
	s.active = true
	s.hosta |= stdStaHOBY
	if s.read {
		s.clockIn()
	} else {
		s.clockOut(s.hobdb)
	}
}

// advance runs when the driver acknowledges a completed byte.
func (s *Standard) advance() {
	switch {
	case s.read:
		if s.nackSent {
			s.finish()
		} else {
			s.clockIn()
		}
	case s.hoctl2&stdCtl2SwEn != 0:
		// Direction switch requested. While the wait bit is held the
		// hardware sits on its hands; the repeat start happens when the
		// driver releases it.
		if s.hoctl2&stdCtl2SwWait != 0 {
			s.switchPending = true
		} else {
			s.doSwitch()
		}
	case s.hoctl2&stdCtl2I2CEn == 0:
		// I2C-compatible mode was dropped: release with a stop.
		s.finish()
	default:
		s.clockOut(s.hobdb)
	}
}

func (s *Standard) doSwitch() {
	s.stats.Starts++
	s.stats.DirectionSwitches++
	s.read = true
	if !s.target.Start(true) {
		s.raiseError(stdStaNACK)
		return
	}
	s.clockIn()
}

func (s *Standard) clockOut(b uint8) {
	if !s.target.Write(b) {
		s.raiseError(stdStaNACK)
		return
	}
	s.hosta |= stdStaBDS
	s.irq.Assert()
}

func (s *Standard) clockIn() {
	s.hobdb = s.target.Read()
	arm := s.hoctl&stdCtlLastByte != 0
	s.lastByteArms = append(s.lastByteArms, arm)
	if arm {
		s.nackSent = true
	}
	s.hosta |= stdStaBDS
	s.irq.Assert()
}

func (s *Standard) finish() {
	s.stats.Stops++
	if s.target != nil {
		s.target.Stop()
	}
	s.target = nil
	s.active = false
	s.read = false
	s.nackSent = false
	s.hosta = (s.hosta &^ stdStaHOBY) | stdStaFINTR
	s.irq.Assert()
}

func (s *Standard) raiseError(bits uint8) {
	if s.target != nil {
		s.target.Stop()
		s.target = nil
	}
	s.active = false
	s.read = false
	s.nackSent = false
	s.hosta = (s.hosta &^ stdStaHOBY) | bits
	s.irq.Assert()
}
