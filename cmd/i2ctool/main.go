// Command i2ctool pokes devices on an IT8xxx2 I2C channel from the
// command line. The channel's register window is reached through one of
// three backends: the memory-mapped window on the EC itself, the serial
// debug adapter, or the built-in simulator with a 256-byte memory device
// at address 0x50.
//
//	i2ctool -backend sim scan
//	i2ctool -backend sim read 0x50 0x00 8
//	i2ctool -backend mem -port B -base 0xf01c80 write 0x3c 0x01 0xae
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"it8xxx2.dev/dbgr"
	"it8xxx2.dev/i2c"
	"it8xxx2.dev/i2c/sim"
	"it8xxx2.dev/mmio"
	"it8xxx2.dev/trace"
)

var (
	backend    = flag.String("backend", "sim", "register backend: sim, mem or serial")
	portName   = flag.String("port", "A", "controller channel, A through F")
	base       = flag.Uint64("base", 0xf01c40, "channel window physical address (mem backend)")
	timingBase = flag.Uint64("timing-base", 0xf01c00, "shared timing window physical address (mem backend)")
	dev        = flag.String("dev", "/dev/ttyUSB0", "debug adapter device (serial backend)")
	speed      = flag.String("speed", "100k", "bus speed: 100k, 400k or 1m")
	traceFile  = flag.String("trace", "", "record register traffic to this file")
	sclName    = flag.String("scl", "", "SCL recovery pin, by periph.io gpio name")
	sdaName    = flag.String("sda", "", "SDA recovery pin, by periph.io gpio name")
)

func main() {
	flag.Parse()
	log.SetFlags(0)
	if err := run(flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "i2ctool: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return errors.New("no command; want scan, read, write or recover")
	}
	port, err := parsePort(*portName)
	if err != nil {
		return err
	}
	freq, err := parseSpeed(*speed)
	if err != nil {
		return err
	}

	cfg := i2c.Config{Port: port, Bitrate: freq, Logf: log.Printf}

	var poll *pollIRQ
	var simIRQ *sim.IRQ
	switch *backend {
	case "sim":
		simIRQ = sim.NewIRQ()
		defer simIRQ.Close()
		cfg.IRQ = simIRQ
		var regs interface {
			i2c.RegBlock
			AddSlave(addr uint16, sl sim.Slave)
		}
		if port >= i2c.PortD {
			regs = sim.NewEnhanced(simIRQ)
		} else {
			regs = sim.NewStandard(simIRQ)
		}
		regs.AddSlave(0x50, new(sim.Mem))
		cfg.Regs = regs
		cfg.Timing = new(sim.Block)
	case "mem":
		regs, err := mmio.Map(uintptr(*base), 0x20)
		if err != nil {
			return err
		}
		defer regs.Close()
		cfg.Regs = regs
		if port < i2c.PortD {
			timing, err := mmio.Map(uintptr(*timingBase), 0x10)
			if err != nil {
				return err
			}
			defer timing.Close()
			cfg.Timing = timing
		}
		poll = newPollIRQ()
		defer poll.Close()
		cfg.IRQ = poll
	case "serial":
		conn, err := dbgr.Open(*dev)
		if err != nil {
			return err
		}
		cfg.Regs = conn
		if port < i2c.PortD {
			cfg.Timing = conn
		}
		poll = newPollIRQ()
		defer poll.Close()
		cfg.IRQ = poll
		defer func() {
			if err := conn.Err(); err != nil {
				log.Printf("i2ctool: %v", err)
			}
		}()
	default:
		return fmt.Errorf("unknown backend %q", *backend)
	}

	var rec *trace.Recorder
	if *traceFile != "" {
		f, err := os.Create(*traceFile)
		if err != nil {
			return err
		}
		defer f.Close()
		rec = trace.NewRecorder(cfg.Regs, f)
		cfg.Regs = rec
		defer func() {
			if err := rec.Err(); err != nil {
				log.Printf("i2ctool: %v", err)
			}
		}()
	}

	if *sclName != "" || *sdaName != "" {
		if _, err := host.Init(); err != nil {
			return fmt.Errorf("gpio: %w", err)
		}
		for _, p := range []struct {
			name string
			line *i2c.Line
		}{{*sclName, &cfg.SCL}, {*sdaName, &cfg.SDA}} {
			if p.name == "" {
				continue
			}
			pin := gpioreg.ByName(p.name)
			if pin == nil {
				return fmt.Errorf("gpio: no pin %q", p.name)
			}
			p.line.GPIO = pin
			p.line.Mux = &hostMux{pin: pin}
		}
	}

	ctrl, err := i2c.New(cfg)
	if err != nil {
		return err
	}
	if simIRQ != nil {
		simIRQ.Attach(ctrl.ServiceInterrupt)
	}
	if poll != nil {
		poll.Attach(ctrl.ServiceInterrupt, ctrl.Pending)
	}

	switch args[0] {
	case "scan":
		return scan(ctrl)
	case "read":
		return readCmd(ctrl, args[1:])
	case "write":
		return writeCmd(ctrl, args[1:])
	case "recover":
		return ctrl.RecoverBus()
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func scan(ctrl *i2c.Controller) error {
	found := 0
	for addr := uint16(0x08); addr <= 0x77; addr++ {
		var b [1]byte
		err := ctrl.Transfer([]i2c.Msg{{Buf: b[:], Read: true, Flags: i2c.Stop}}, addr)
		switch {
		case err == nil:
			fmt.Printf("0x%02x\n", addr)
			found++
		case errors.Is(err, i2c.ErrNotAcknowledged):
		default:
			return err
		}
	}
	if found == 0 {
		log.Printf("no devices")
	}
	return nil
}

func readCmd(ctrl *i2c.Controller, args []string) error {
	if len(args) != 3 {
		return errors.New("usage: read addr reg count")
	}
	addr, err := parseByte(args[0])
	if err != nil {
		return err
	}
	reg, err := parseByte(args[1])
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(args[2])
	if err != nil || n <= 0 || n > 256 {
		return fmt.Errorf("bad count %q", args[2])
	}
	buf := make([]byte, n)
	if err := ctrl.Tx(uint16(addr), []byte{reg}, buf); err != nil {
		return err
	}
	for i, b := range buf {
		if i > 0 {
			fmt.Print(" ")
		}
		fmt.Printf("%02x", b)
	}
	fmt.Println()
	return nil
}

func writeCmd(ctrl *i2c.Controller, args []string) error {
	if len(args) < 3 {
		return errors.New("usage: write addr reg byte...")
	}
	addr, err := parseByte(args[0])
	if err != nil {
		return err
	}
	out := make([]byte, 0, len(args)-1)
	for _, a := range args[1:] {
		b, err := parseByte(a)
		if err != nil {
			return err
		}
		out = append(out, b)
	}
	return ctrl.Tx(uint16(addr), out, nil)
}

func parsePort(s string) (i2c.Port, error) {
	if len(s) == 1 {
		if c := strings.ToUpper(s)[0]; c >= 'A' && c <= 'F' {
			return i2c.Port(c - 'A'), nil
		}
	}
	return 0, fmt.Errorf("bad port %q, want A through F", s)
}

func parseSpeed(s string) (physic.Frequency, error) {
	switch strings.ToLower(s) {
	case "100k":
		return 100 * physic.KiloHertz, nil
	case "400k":
		return 400 * physic.KiloHertz, nil
	case "1m":
		return physic.MegaHertz, nil
	}
	return 0, fmt.Errorf("bad speed %q, want 100k, 400k or 1m", s)
}

func parseByte(s string) (uint8, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("bad hex byte %q", s)
	}
	return uint8(v), nil
}

// hostMux adapts a host GPIO wired onto the bus line to the pin-mux
// interface: the pin's "alternate function" is simply not driving the
// line, so recovery can bit-bang it and then let go.
type hostMux struct {
	pin gpio.PinIO
}

func (m *hostMux) SetAlt(pin, alt uint8) error {
	return m.pin.In(gpio.PullUp, gpio.NoEdge)
}

func (m *hostMux) SetOutput(pin uint8) error {
	return m.pin.Out(gpio.High)
}

// pollIRQ approximates the channel interrupt for backends that cannot
// see the EC's interrupt line: while enabled, it polls the pending
// condition and services it.
type pollIRQ struct {
	mu      sync.Mutex
	enabled bool
	isr     func()
	pending func() bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func newPollIRQ() *pollIRQ {
	p := &pollIRQ{stop: make(chan struct{})}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *pollIRQ) Attach(isr func(), pending func() bool) {
	p.mu.Lock()
	p.isr = isr
	p.pending = pending
	p.mu.Unlock()
}

func (p *pollIRQ) Enable() {
	p.mu.Lock()
	p.enabled = true
	p.mu.Unlock()
}

func (p *pollIRQ) Disable() {
	p.mu.Lock()
	p.enabled = false
	p.mu.Unlock()
}

func (p *pollIRQ) run() {
	defer p.wg.Done()
	tick := time.NewTicker(200 * time.Microsecond)
	defer tick.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-tick.C:
		}
		p.mu.Lock()
		isr, pending, on := p.isr, p.pending, p.enabled
		p.mu.Unlock()
		if on && isr != nil && pending != nil && pending() {
			isr()
		}
	}
}

func (p *pollIRQ) Close() {
	close(p.stop)
	p.wg.Wait()
}
