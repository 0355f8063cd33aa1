package i2c

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"periph.io/x/conn/v3/gpio"

	"it8xxx2.dev/i2c/sim"
)

// lineRecorder tracks the bit-banged line levels and counts SCL rising
// edges that happen while SDA is released.
type lineRecorder struct {
	mu     sync.Mutex
	scl    bool
	sda    bool
	pulses int
}

type recordedPin struct {
	rec *lineRecorder
	scl bool
	fwd Pin
}

func (p *recordedPin) Out(l gpio.Level) error {
	p.rec.mu.Lock()
	if p.scl {
		if !p.rec.scl && bool(l) && p.rec.sda {
			p.rec.pulses++
		}
		p.rec.scl = bool(l)
	} else {
		p.rec.sda = bool(l)
	}
	p.rec.mu.Unlock()
	if p.fwd != nil {
		return p.fwd.Out(l)
	}
	return nil
}

func newRecoverable(t *testing.T) (*Controller, *sim.Standard, *lineRecorder, *sim.Mux, *sim.Mux) {
	t.Helper()
	irq := sim.NewIRQ()
	t.Cleanup(irq.Close)
	sd := sim.NewStandard(irq)
	rec := new(lineRecorder)
	sclMux, sdaMux := new(sim.Mux), new(sim.Mux)
	c, err := New(Config{
		Port:   PortA,
		Regs:   sd,
		Timing: new(sim.Block),
		IRQ:    irq,
		SCL:    Line{Mux: sclMux, Pin: 22, Alt: 1, GPIO: &recordedPin{rec: rec, scl: true, fwd: sd.PinSCL()}},
		SDA:    Line{Mux: sdaMux, Pin: 23, Alt: 1, GPIO: &recordedPin{rec: rec, fwd: sd.PinSDA()}},
	})
	if err != nil {
		t.Fatal(err)
	}
	irq.Attach(c.ServiceInterrupt)
	sd.ResetStats()
	return c, sd, rec, sclMux, sdaMux
}

func TestRecoverBusPulses(t *testing.T) {
	c, _, rec, sclMux, sdaMux := newRecoverable(t)

	if err := c.RecoverBus(); err != nil {
		t.Fatal(err)
	}
	rec.mu.Lock()
	pulses := rec.pulses
	rec.mu.Unlock()
	if pulses != 9 {
		t.Errorf("SCL pulses with SDA released = %d, want 9", pulses)
	}
	// Both pins must be handed back to the I2C function: first taken as
	// outputs, finally remuxed.
	for _, m := range []*sim.Mux{sclMux, sdaMux} {
		calls := m.Calls()
		if len(calls) < 2 {
			t.Fatalf("mux calls = %v", calls)
		}
		if last := calls[len(calls)-1]; last.Output || last.Alt != 1 {
			t.Errorf("last mux call = %+v, want alternate function 1", last)
		}
	}
}

func TestTransferRecoversStuckBus(t *testing.T) {
	c, sd, rec, _, _ := newRecoverable(t)
	mem := new(sim.Mem)
	sd.AddSlave(0x50, mem)

	// Wedge the lines; the recovery pins are wired to the simulated
	// bus, so the sequence unsticks it.
	sd.SetLines(false, false)
	if err := c.Tx(0x50, []byte{0x05, 0xee}, nil); err != nil {
		t.Fatal(err)
	}
	if mem.Regs[5] != 0xee {
		t.Errorf("device got 0x%02x, want 0xee", mem.Regs[5])
	}
	rec.mu.Lock()
	pulses := rec.pulses
	rec.mu.Unlock()
	if pulses != 9 {
		t.Errorf("SCL pulses = %d, want 9", pulses)
	}
	st := sd.Stats()
	if st.Starts != 1 || st.Stops != 1 {
		t.Errorf("starts/stops = %d/%d, want 1/1", st.Starts, st.Stops)
	}
}

func TestTransferStuckBusUnrecoverable(t *testing.T) {
	irq := sim.NewIRQ()
	t.Cleanup(irq.Close)
	sd := sim.NewStandard(irq)
	// Recovery pins that are not wired to anything: the lines stay
	// stuck no matter what the sequence does.
	c, err := New(Config{
		Port:   PortA,
		Regs:   sd,
		Timing: new(sim.Block),
		IRQ:    irq,
		SCL:    Line{Mux: new(sim.Mux), Pin: 22, Alt: 1, GPIO: nopPin{}},
		SDA:    Line{Mux: new(sim.Mux), Pin: 23, Alt: 1, GPIO: nopPin{}},
	})
	if err != nil {
		t.Fatal(err)
	}
	irq.Attach(c.ServiceInterrupt)
	sd.ResetStats()
	sd.AddSlave(0x50, new(sim.Mem))

	sd.SetLines(true, false)
	if err := c.Tx(0x50, []byte{0x00}, nil); !errors.Is(err, ErrBusNotAvailable) {
		t.Fatalf("err = %v, want ErrBusNotAvailable", err)
	}
	if st := sd.Stats(); st.Starts != 0 {
		t.Errorf("starts = %d on a stuck bus, want 0", st.Starts)
	}
}

type nopPin struct{}

func (nopPin) Out(gpio.Level) error { return nil }

func TestRecoverBusWithoutPins(t *testing.T) {
	irq := sim.NewIRQ()
	t.Cleanup(irq.Close)
	sd := sim.NewStandard(irq)
	c, err := New(Config{Port: PortA, Regs: sd, Timing: new(sim.Block), IRQ: irq})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.RecoverBus(); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestRecoverBusLogsCauseOnly(t *testing.T) {
	irq := sim.NewIRQ()
	t.Cleanup(irq.Close)
	sd := sim.NewStandard(irq)
	var logs []string
	c, err := New(Config{
		Port:   PortA,
		Regs:   sd,
		Timing: new(sim.Block),
		IRQ:    irq,
		SCL:    Line{Mux: new(sim.Mux), Pin: 22, Alt: 1, GPIO: sd.PinSCL()},
		SDA:    Line{Mux: new(sim.Mux), Pin: 23, Alt: 1, GPIO: sd.PinSDA()},
		Logf: func(format string, args ...any) {
			logs = append(logs, fmt.Sprintf(format, args...))
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	irq.Attach(c.ServiceInterrupt)
	sd.AddSlave(0x50, new(sim.Mem))

	// Leave a stale transfer address behind, then recover directly:
	// the diagnostic must not blame the previous transaction.
	if err := c.Tx(0x50, []byte{0x00, 0x01}, nil); err != nil {
		t.Fatal(err)
	}
	logs = nil
	if err := c.RecoverBus(); err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Fatalf("logs = %q, want one reset diagnostic", logs)
	}
	if strings.Contains(logs[0], "0x50") {
		t.Errorf("reset diagnostic %q names a stale address", logs[0])
	}
	if !strings.Contains(logs[0], "bus not idle") {
		t.Errorf("reset diagnostic %q does not name the cause", logs[0])
	}
}

func TestRecoverBusEnhanced(t *testing.T) {
	c, en := newEnhanced(t)
	mem := new(sim.Mem)
	en.AddSlave(0x2c, mem)

	en.SetLines(false, true)
	if err := c.Tx(0x2c, []byte{0x01, 0x99}, nil); err != nil {
		t.Fatal(err)
	}
	if mem.Regs[1] != 0x99 {
		t.Errorf("device got 0x%02x, want 0x99", mem.Regs[1])
	}
}
