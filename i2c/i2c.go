// package i2c implements a bus-master driver for the I2C controllers of
// the [ITE IT8xxx2] embedded controller family. The chip carries two
// register-incompatible controller personalities: channels A-C are SMBus
// host interfaces driven byte by byte through the host status register,
// while channels D-F are raw I2C controllers programmed through a combined
// data/control register pair. Both are interrupt driven; the caller blocks
// on a completion signal while the interrupt path steps the transaction
// forward one byte at a time.
//
// [ITE IT8xxx2]: https://www.ite.com.tw/en/product/cate1/IT8XXX2
package i2c

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Default PLL frequency feeding the SMBus clock tree.
const pllClock = 48000000

// Port identifies one of the six controller channels. Channels A-C are
// the standard SMBus host interface, D-F the enhanced raw I2C interface.
type Port uint8

const (
	PortA Port = iota
	PortB
	PortC
	PortD
	PortE
	PortF

	standardPortCount = 3
)

func (p Port) enhanced() bool {
	return p >= standardPortCount
}

func (p Port) String() string {
	if p > PortF {
		return fmt.Sprintf("port(%d)", uint8(p))
	}
	return string('A' + rune(p))
}

// Flag marks the electrical bracketing of a message.
type Flag uint8

const (
	// Start issues a start condition before the message. The first
	// message of a fresh transaction is implicitly started.
	Start Flag = 1 << 0
	// Stop issues a stop condition after the message, releasing the
	// bus. Messages without Stop chain into the next message of the
	// transaction: a write followed by a read becomes the SMBus
	// combined format.
	Stop Flag = 1 << 1
)

// Msg is one segment of a transaction. Buf is owned by the caller and is
// consumed (writes) or filled (reads) in place.
type Msg struct {
	Buf   []byte
	Read  bool
	Flags Flag
}

// RegBlock is the 8-bit register window of one channel. Implementations
// include the memory-mapped window on the EC itself, the serial debug
// adapter, recorded traces and the software simulator.
type RegBlock interface {
	Read8(off uint8) uint8
	Write8(off, v uint8)
}

// PinMux switches a pin between its I2C alternate function and plain
// GPIO output mode.
type PinMux interface {
	SetAlt(pin, alt uint8) error
	SetOutput(pin uint8) error
}

// Pin drives the level of one bus line while it is detached from the
// I2C function. Any periph.io gpio.PinOut satisfies it.
type Pin interface {
	Out(l gpio.Level) error
}

// IRQ controls the channel's interrupt line at the interrupt controller.
type IRQ interface {
	Enable()
	Disable()
}

// ClockGate ungates the channel's clock domain.
type ClockGate interface {
	Enable()
}

// Line describes one bus line: its pin-multiplexing handle, pin number,
// I2C alternate function and the GPIO used to bit-bang it during bus
// recovery.
type Line struct {
	Mux  PinMux
	Pin  uint8
	Alt  uint8
	GPIO Pin
}

// Config carries the static, devicetree-derived description of one
// channel.
type Config struct {
	Port Port
	Regs RegBlock
	// Timing is the shared SMBus timing window. Standard ports only.
	Timing RegBlock
	IRQ    IRQ
	// SCL and SDA describe the bus lines for recovery.
	SCL, SDA Line
	// Bitrate is the initial bus speed. Zero defaults to 100 kHz.
	Bitrate physic.Frequency
	// ClockDivisor is the SMBus clock divide value of the clock tree
	// (enhanced ports). Zero defaults to 1.
	ClockDivisor uint8
	// Clock, if set, is enabled once during construction.
	Clock ClockGate
	// Logf, if set, receives reset-cause diagnostics.
	Logf func(format string, args ...any)
}

// BusConfig is the runtime bus configuration negotiated by Configure.
type BusConfig struct {
	// Master must be set; target mode is not supported.
	Master bool
	// AddrBits must be 7; 10-bit addressing is not supported.
	AddrBits int
	// Speed is one of 100 kHz, 400 kHz or 1 MHz.
	Speed physic.Frequency
}

// Errors returned from the public entry points. Transfer wraps exactly
// one of these; use errors.Is to classify.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrBusNotAvailable = errors.New("bus not available")
	ErrTimeout         = errors.New("transfer timed out")
	ErrNotAcknowledged = errors.New("not acknowledged")
	ErrHardwareFault   = errors.New("hardware fault")
)

// chStatus is the cross-interrupt continuation state of a channel.
//
// Standard ports move NORMAL -> REPEAT_START -> NORMAL on a write-to-read
// direction change. Enhanced ports move NORMAL -> WAIT_READ -> NORMAL
// around a direct read and NORMAL -> WAIT_NEXT_XFER -> NORMAL between a
// chained write and the read following it. Any error and any message
// carrying Stop force the status back to NORMAL.
type chStatus uint8

const (
	chNormal chStatus = iota
	chRepeatStart
	chWaitRead
	chWaitNextXfer
)

// message is the working copy of the message in flight. The start flag
// is cleared in place once the start condition has been issued.
type message struct {
	buf   []byte
	read  bool
	flags Flag
}

// Controller drives one channel. The zero value is not usable; construct
// with New.
//
// The mutable transaction state is owned by whichever context is running
// the pump: the caller while priming, the interrupt path afterwards. The
// mutex only serializes callers; it is never taken from interrupt
// context.
type Controller struct {
	cfg   Config
	mu    sync.Mutex
	done  chan struct{}
	timer *time.Timer

	status chStatus
	cur    message
	widx   int
	ridx   int
	addr   uint16
	// err holds the raw status bit pattern of the failure, or the
	// synthetic timeout marker. Interpreted only at the Transfer
	// boundary.
	err  uint16
	psr  uint8 // enhanced prescale backup, reprogrammed on every start
	stop bool  // stop issued, waiting for the final interrupt

	speed physic.Frequency
}

// New initializes the channel hardware and attaches the bus pins to
// their I2C alternate function.
func New(cfg Config) (*Controller, error) {
	if cfg.Regs == nil || cfg.IRQ == nil {
		return nil, fmt.Errorf("i2c: missing register window or interrupt line: %w", ErrInvalidArgument)
	}
	if cfg.Port > PortF {
		return nil, fmt.Errorf("i2c: no such port %d: %w", uint8(cfg.Port), ErrInvalidArgument)
	}
	if !cfg.Port.enhanced() && cfg.Timing == nil {
		return nil, fmt.Errorf("i2c: standard port without timing window: %w", ErrInvalidArgument)
	}
	if cfg.Bitrate == 0 {
		cfg.Bitrate = 100 * physic.KiloHertz
	}
	c := &Controller{
		cfg:   cfg,
		done:  make(chan struct{}, 1),
		timer: time.NewTimer(0),
	}
	if cfg.Clock != nil {
		cfg.Clock.Enable()
	}
	r := cfg.Regs
	if cfg.Port.enhanced() {
		// Software reset, then state and hardware reset with the
		// module disabled. Start re-enables it per transaction.
		r.Write8(regDHTR, r.Read8(regDHTR)|dhtrSoftRst)
		r.Write8(regDHTR, r.Read8(regDHTR)&^dhtrSoftRst)
		r.Write8(regCTR, ctlStsAndHWRst)
		r.Write8(regCTR1, 0)
	} else {
		// Kill any transaction a previous life left behind and clear
		// the write-1-clear status bits, interface off.
		r.Write8(regHOCTL2, hoctl2HostEn|hoctl2SMHEn)
		r.Write8(regHOCTL, hoctlKILL|hoctlINTREN)
		r.Write8(regHOCTL, hoctlINTREN)
		r.Write8(regHOSTA, hostaAllWC)
		r.Write8(regHOCTL2, 0)
	}
	c.status = chNormal
	if err := c.Configure(BusConfig{Master: true, AddrBits: 7, Speed: cfg.Bitrate}); err != nil {
		return nil, err
	}
	for _, l := range []*Line{&c.cfg.SCL, &c.cfg.SDA} {
		if l.Mux == nil {
			continue
		}
		if err := l.Mux.SetAlt(l.Pin, l.Alt); err != nil {
			return nil, fmt.Errorf("i2c: attach pins: %w", err)
		}
	}
	return c, nil
}

// Configure negotiates the bus speed. Only master mode with 7-bit
// addressing is supported; anything else is rejected without touching
// the current configuration.
func (c *Controller) Configure(cfg BusConfig) error {
	if !cfg.Master {
		return fmt.Errorf("i2c: target mode not supported: %w", ErrInvalidArgument)
	}
	if cfg.AddrBits != 7 {
		return fmt.Errorf("i2c: %d-bit addressing not supported: %w", cfg.AddrBits, ErrInvalidArgument)
	}
	var khz, sel uint32
	switch cfg.Speed {
	case 100 * physic.KiloHertz:
		khz, sel = 100, 2
	case 400 * physic.KiloHertz:
		khz, sel = 400, 3
	case physic.MegaHertz:
		khz, sel = 1000, 4
	default:
		return fmt.Errorf("i2c: unsupported bus speed %v: %w", cfg.Speed, ErrInvalidArgument)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.Port.enhanced() {
		c.enhancedSetFrequency(khz)
	} else {
		c.standardSetFrequency(khz, sel)
	}
	c.speed = cfg.Speed
	return nil
}

// GetConfig reports the configuration negotiated by the last successful
// Configure call.
func (c *Controller) GetConfig() (BusConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.speed == 0 {
		return BusConfig{}, errors.New("i2c: bus speed not configured")
	}
	return BusConfig{Master: true, AddrBits: 7, Speed: c.speed}, nil
}

// standardSetFrequency programs the shared timing window for a standard
// port. 400 kHz uses the dedicated timing registers so tlow can be
// stretched to meet the SMBus spec; the other speeds use the basic
// timing select.
func (c *Controller) standardSetFrequency(khz, sel uint32) {
	t := c.cfg.Timing
	if khz == 400 {
		t.Write8(timSCLKTS+uint8(c.cfg.Port), 0)
		t.Write8(tim4P7USL, 0x06)
		t.Write8(tim4P0USL, 0x00)
		t.Write8(tim300NS, 0x01)
		t.Write8(tim250NS, 0x02)
		t.Write8(tim45P3USL, 0x6a)
		t.Write8(tim45P3USH, 0x01)
		t.Write8(tim4P7A4P0H, 0x00)
	} else {
		t.Write8(timSCLKTS+uint8(c.cfg.Port), uint8(sel))
	}
	t.Write8(tim25MS, clkLowTimeout)
}

// enhancedSetFrequency computes the prescale value for an enhanced port:
// one SCL cycle is 2*(psr+2) SMBus clock cycles, and the SMBus clock is
// the PLL divided by the clock-tree divisor.
func (c *Controller) enhancedSetFrequency(khz uint32) {
	div := uint32(c.cfg.ClockDivisor)
	if div == 0 {
		div = 1
	}
	psr := pllClock/(div*2*1000*khz) - 2
	if psr > 0xfd {
		psr = 0xfd
	}
	r := c.cfg.Regs
	r.Write8(regPSR, uint8(psr))
	r.Write8(regHSPR, uint8(psr))
	// Backup: start reprograms the prescale after every hardware reset.
	c.psr = uint8(psr)
}

// Tx sends w to the device at addr, then reads into r without releasing
// the bus in between (combined format). Tx, SetSpeed and String make a
// Controller a periph.io i2c.Bus, so existing device drivers can sit on
// top of it.
func (c *Controller) Tx(addr uint16, w, r []byte) error {
	var msgs []Msg
	if len(w) > 0 {
		f := Start
		if len(r) == 0 {
			f |= Stop
		}
		msgs = append(msgs, Msg{Buf: w, Flags: f})
	}
	if len(r) > 0 {
		f := Stop
		if len(w) == 0 {
			f |= Start
		}
		msgs = append(msgs, Msg{Buf: r, Read: true, Flags: f})
	}
	return c.Transfer(msgs, addr)
}

// SetSpeed reconfigures the bus speed.
func (c *Controller) SetSpeed(f physic.Frequency) error {
	return c.Configure(BusConfig{Master: true, AddrBits: 7, Speed: f})
}

func (c *Controller) String() string {
	return "it8xxx2-i2c-" + c.cfg.Port.String()
}

func (c *Controller) logf(format string, args ...any) {
	if c.cfg.Logf != nil {
		c.cfg.Logf(format, args...)
	}
}
