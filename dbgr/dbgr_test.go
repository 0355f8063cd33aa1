package dbgr

import (
	"bytes"
	"testing"
)

// fakeAdapter speaks the adapter protocol over an in-memory stream.
type fakeAdapter struct {
	regs [256]byte
	out  bytes.Buffer
	mute bool
}

func (a *fakeAdapter) Write(p []byte) (int, error) {
	if a.mute {
		return len(p), nil
	}
	switch p[0] {
	case cmdRead:
		a.out.WriteByte(a.regs[p[1]])
	case cmdWrite:
		a.regs[p[1]] = p[2]
		a.out.WriteByte(p[2])
	}
	return len(p), nil
}

func (a *fakeAdapter) Read(p []byte) (int, error) {
	return a.out.Read(p)
}

func TestConnRoundTrip(t *testing.T) {
	a := new(fakeAdapter)
	c := New(a)

	c.Write8(0x03, 0xab)
	if err := c.Err(); err != nil {
		t.Fatal(err)
	}
	if a.regs[0x03] != 0xab {
		t.Fatalf("adapter register = 0x%02x, want 0xab", a.regs[0x03])
	}
	if v := c.Read8(0x03); v != 0xab {
		t.Fatalf("read = 0x%02x, want 0xab", v)
	}
	if err := c.Err(); err != nil {
		t.Fatal(err)
	}
}

func TestConnStickyFailure(t *testing.T) {
	a := &fakeAdapter{mute: true}
	c := New(a)

	if v := c.Read8(0x00); v != 0 {
		t.Fatalf("read on dead adapter = 0x%02x, want 0", v)
	}
	if c.Err() == nil {
		t.Fatal("missing response not detected")
	}

	// Once failed, nothing reaches the adapter anymore.
	a.mute = false
	c.Write8(0x05, 0x11)
	if a.regs[0x05] != 0 {
		t.Error("write went through after a transport failure")
	}
	if c.Err() == nil {
		t.Error("error cleared")
	}
}
