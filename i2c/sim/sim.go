// package sim implements software models of the IT8xxx2 I2C controller
// personalities. The models live behind the same 8-bit register windows
// as the silicon and raise interrupts through a latching interrupt line,
// so the driver runs against them unchanged. Devices attach to the
// simulated bus through the Slave interface.
package sim

import (
	"sync"

	"periph.io/x/conn/v3/gpio"
)

// Slave is a device on the simulated bus.
type Slave interface {
	// Start begins a transaction addressed to the device. It reports
	// whether the device acknowledges its address.
	Start(read bool) bool
	// Write delivers one byte to the device and reports the acknowledge.
	Write(b byte) bool
	// Read clocks one byte out of the device.
	Read() byte
	// Stop ends the transaction.
	Stop()
}

// Stats counts the electrical events of a simulated channel.
type Stats struct {
	// Starts counts start conditions, repeated starts included.
	Starts int
	// Stops counts clean stop conditions.
	Stops int
	// Kills counts register-level transaction kills (resets).
	Kills int
	// DirectionSwitches counts write-to-read switches without a stop.
	DirectionSwitches int
}

// IRQ models the latching interrupt line of one channel: asserts arriving
// while the line is disabled are held pending and delivered on enable.
// Delivery runs on a dedicated goroutine, never on the goroutine that
// triggered the assert, mirroring real interrupt context.
type IRQ struct {
	mu      sync.Mutex
	enabled bool
	pending bool
	isr     func()
	kick    chan struct{}
}

func NewIRQ() *IRQ {
	l := &IRQ{kick: make(chan struct{}, 1)}
	go l.run()
	return l
}

// Attach connects the interrupt service routine. Attach before the first
// transfer.
func (l *IRQ) Attach(isr func()) {
	l.mu.Lock()
	l.isr = isr
	l.mu.Unlock()
}

func (l *IRQ) Enable() {
	l.mu.Lock()
	l.enabled = true
	l.mu.Unlock()
	l.poke()
}

func (l *IRQ) Disable() {
	l.mu.Lock()
	l.enabled = false
	l.mu.Unlock()
}

// Assert raises the line. If the line is disabled the assert stays
// pending.
func (l *IRQ) Assert() {
	l.mu.Lock()
	l.pending = true
	l.mu.Unlock()
	l.poke()
}

func (l *IRQ) poke() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

func (l *IRQ) run() {
	for range l.kick {
		for {
			l.mu.Lock()
			fire := l.enabled && l.pending && l.isr != nil
			if fire {
				l.pending = false
			}
			isr := l.isr
			l.mu.Unlock()
			if !fire {
				break
			}
			isr()
		}
	}
}

// Close stops the delivery goroutine.
func (l *IRQ) Close() {
	close(l.kick)
}

// Block is a plain register block with no behavior behind it, used for
// the shared SMBus timing window.
type Block struct {
	mu   sync.Mutex
	regs [32]uint8
}

func (b *Block) Read8(off uint8) uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[off%uint8(len(b.regs))]
}

func (b *Block) Write8(off, v uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs[off%uint8(len(b.regs))] = v
}

// LinePin exposes one simulated bus line as a recovery pin: driving the
// pin changes the line level seen by the controller model.
type LinePin struct {
	set func(gpio.Level)
}

func (p *LinePin) Out(l gpio.Level) error {
	p.set(l)
	return nil
}

// Mux is a pin-multiplexing fake that records its calls.
type Mux struct {
	mu    sync.Mutex
	calls []MuxCall
}

type MuxCall struct {
	Pin    uint8
	Alt    uint8
	Output bool
}

func (m *Mux) SetAlt(pin, alt uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MuxCall{Pin: pin, Alt: alt})
	return nil
}

func (m *Mux) SetOutput(pin uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MuxCall{Pin: pin, Output: true})
	return nil
}

// Calls returns the recorded calls, oldest first.
func (m *Mux) Calls() []MuxCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MuxCall(nil), m.calls...)
}

// Mem is a register-file device with an 8-bit address pointer: the first
// byte written in a transaction selects the pointer, further writes store
// through it and reads stream from it. The pointer survives a repeated
// start, which is what makes the write-then-read combined format work.
type Mem struct {
	Regs [256]byte
	// WriteLimit, when non-zero, refuses data writes beyond the limit,
	// simulating a device that NACKs mid-message.
	WriteLimit int

	ptr     uint8
	havePtr bool
	written int
}

func (m *Mem) Start(read bool) bool {
	if !read {
		m.havePtr = false
		m.written = 0
	}
	return true
}

func (m *Mem) Write(b byte) bool {
	if !m.havePtr {
		m.ptr = b
		m.havePtr = true
		return true
	}
	if m.WriteLimit > 0 && m.written >= m.WriteLimit {
		return false
	}
	m.Regs[m.ptr] = b
	m.ptr++
	m.written++
	return true
}

func (m *Mem) Read() byte {
	b := m.Regs[m.ptr]
	m.ptr++
	return b
}

func (m *Mem) Stop() {}
