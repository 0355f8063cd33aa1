package i2c

import (
	"errors"
	"testing"

	"it8xxx2.dev/i2c/sim"
)

func newEnhanced(t *testing.T) (*Controller, *sim.Enhanced) {
	t.Helper()
	irq := sim.NewIRQ()
	t.Cleanup(irq.Close)
	en := sim.NewEnhanced(irq)
	c, err := New(Config{
		Port: PortE,
		Regs: en,
		IRQ:  irq,
		SCL:  Line{Mux: new(sim.Mux), Pin: 6, Alt: 3, GPIO: en.PinSCL()},
		SDA:  Line{Mux: new(sim.Mux), Pin: 7, Alt: 3, GPIO: en.PinSDA()},
	})
	if err != nil {
		t.Fatal(err)
	}
	irq.Attach(c.ServiceInterrupt)
	en.ResetStats()
	return c, en
}

func TestEnhancedWrite(t *testing.T) {
	c, en := newEnhanced(t)
	mem := new(sim.Mem)
	en.AddSlave(0x2c, mem)

	if err := c.Tx(0x2c, []byte{0x30, 0x11, 0x22}, nil); err != nil {
		t.Fatal(err)
	}
	if mem.Regs[0x30] != 0x11 || mem.Regs[0x31] != 0x22 {
		t.Errorf("device got % x, want 11 22", mem.Regs[0x30:0x32])
	}
	st := en.Stats()
	if st.Starts != 1 || st.Stops != 1 {
		t.Errorf("starts/stops = %d/%d, want 1/1", st.Starts, st.Stops)
	}
	if c.status != chNormal {
		t.Errorf("status = %d after transfer, want normal", c.status)
	}
}

func TestEnhancedQuickCommand(t *testing.T) {
	c, en := newEnhanced(t)
	en.AddSlave(0x2c, new(sim.Mem))

	if err := c.Transfer([]Msg{{Flags: Stop}}, 0x2c); err != nil {
		t.Fatal(err)
	}
	st := en.Stats()
	if st.Starts != 1 || st.Stops != 1 {
		t.Errorf("starts/stops = %d/%d, want 1/1", st.Starts, st.Stops)
	}
	if err := c.Transfer([]Msg{{Flags: Stop}}, 0x19); !errors.Is(err, ErrNotAcknowledged) {
		t.Fatalf("err = %v probing an absent device, want ErrNotAcknowledged", err)
	}
}

func TestEnhancedReadSingleByte(t *testing.T) {
	c, en := newEnhanced(t)
	mem := new(sim.Mem)
	mem.Regs[0] = 0x5a
	en.AddSlave(0x2c, mem)

	var b [1]byte
	if err := c.Transfer([]Msg{{Buf: b[:], Read: true, Flags: Stop}}, 0x2c); err != nil {
		t.Fatal(err)
	}
	if b[0] != 0x5a {
		t.Errorf("read 0x%02x, want 0x5a", b[0])
	}
	// The only byte is the final byte: it must not be acknowledged.
	if acks := en.ReadAcks(); len(acks) != 1 || acks[0] {
		t.Errorf("read acks = %v, want [false]", acks)
	}
}

func TestEnhancedReadMulti(t *testing.T) {
	c, en := newEnhanced(t)
	mem := new(sim.Mem)
	copy(mem.Regs[:], []byte{9, 8, 7})
	en.AddSlave(0x2c, mem)

	b := make([]byte, 3)
	if err := c.Transfer([]Msg{{Buf: b, Read: true, Flags: Stop}}, 0x2c); err != nil {
		t.Fatal(err)
	}
	if string(b) != "\x09\x08\x07" {
		t.Errorf("read % x, want 09 08 07", b)
	}
	want := []bool{true, true, false}
	acks := en.ReadAcks()
	if len(acks) != len(want) {
		t.Fatalf("read acks = %v, want %v", acks, want)
	}
	for i := range want {
		if acks[i] != want[i] {
			t.Fatalf("read acks = %v, want %v", acks, want)
		}
	}
}

func TestEnhancedWriteThenRead(t *testing.T) {
	c, en := newEnhanced(t)
	mem := new(sim.Mem)
	copy(mem.Regs[0x40:], []byte{0xca, 0xfe})
	en.AddSlave(0x2c, mem)

	b := make([]byte, 2)
	if err := c.Tx(0x2c, []byte{0x40}, b); err != nil {
		t.Fatal(err)
	}
	if string(b) != "\xca\xfe" {
		t.Errorf("read % x, want ca fe", b)
	}
	// The read reissues the address, so two starts and one stop.
	st := en.Stats()
	if st.Starts != 2 || st.Stops != 1 {
		t.Errorf("starts/stops = %d/%d, want 2/1", st.Starts, st.Stops)
	}
	if c.status != chNormal {
		t.Errorf("status = %d after combined transfer, want normal", c.status)
	}
}

func TestEnhancedChainedRead(t *testing.T) {
	c, en := newEnhanced(t)
	mem := new(sim.Mem)
	copy(mem.Regs[:], []byte{1, 2, 3, 4})
	en.AddSlave(0x2c, mem)

	b := make([]byte, 4)
	msgs := []Msg{
		{Buf: b[:2], Read: true},
		{Buf: b[2:], Read: true, Flags: Stop},
	}
	if err := c.Transfer(msgs, 0x2c); err != nil {
		t.Fatal(err)
	}
	if string(b) != "\x01\x02\x03\x04" {
		t.Errorf("read % x, want 01 02 03 04", b)
	}
	// One electrical transaction: the message boundary must not NACK
	// or restart anything.
	st := en.Stats()
	if st.Starts != 1 || st.Stops != 1 {
		t.Errorf("starts/stops = %d/%d, want 1/1", st.Starts, st.Stops)
	}
	want := []bool{true, true, true, false}
	acks := en.ReadAcks()
	if len(acks) != len(want) {
		t.Fatalf("read acks = %v, want %v", acks, want)
	}
	for i := range want {
		if acks[i] != want[i] {
			t.Fatalf("read acks = %v, want %v", acks, want)
		}
	}
}

func TestEnhancedAddressNACK(t *testing.T) {
	c, en := newEnhanced(t)

	err := c.Tx(0x11, []byte{0x00}, nil)
	if !errors.Is(err, ErrNotAcknowledged) {
		t.Fatalf("err = %v, want ErrNotAcknowledged", err)
	}
	if c.status != chNormal {
		t.Errorf("status = %d after NACK, want normal", c.status)
	}
	mem := new(sim.Mem)
	en.AddSlave(0x11, mem)
	if err := c.Tx(0x11, []byte{0x00, 0x77}, nil); err != nil {
		t.Fatal(err)
	}
	if mem.Regs[0] != 0x77 {
		t.Errorf("device got 0x%02x, want 0x77", mem.Regs[0])
	}
}

func TestEnhancedDataNACK(t *testing.T) {
	c, en := newEnhanced(t)
	en.AddSlave(0x2c, &sim.Mem{WriteLimit: 1})

	err := c.Tx(0x2c, []byte{0x00, 0x01, 0x02}, nil)
	if !errors.Is(err, ErrNotAcknowledged) {
		t.Fatalf("err = %v, want ErrNotAcknowledged", err)
	}
}

func TestEnhancedHardwareFault(t *testing.T) {
	for _, tc := range []struct {
		name string
		bits uint8
	}{
		{"timeout", staTMOE},
		{"arbitration", staArbLost},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, en := newEnhanced(t)
			en.AddSlave(0x2c, new(sim.Mem))
			en.FailWith(tc.bits)

			err := c.Tx(0x2c, []byte{0x00}, nil)
			if !errors.Is(err, ErrHardwareFault) {
				t.Fatalf("err = %v, want ErrHardwareFault", err)
			}
			if errors.Is(err, ErrNotAcknowledged) {
				t.Error("fault classified as NACK")
			}
		})
	}
}

func TestEnhancedTimeout(t *testing.T) {
	c, en := newEnhanced(t)
	en.AddSlave(0x2c, new(sim.Mem))
	en.SetWedged(true)

	err := c.Tx(0x2c, []byte{0x00}, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if c.status != chNormal {
		t.Errorf("status = %d after timeout, want normal", c.status)
	}

	en.SetWedged(false)
	if err := c.Tx(0x2c, []byte{0x00, 0x33}, nil); err != nil {
		t.Fatal(err)
	}
}
