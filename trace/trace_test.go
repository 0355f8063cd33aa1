package trace

import (
	"bytes"
	"testing"
)

type regFile [256]uint8

func (r *regFile) Read8(off uint8) uint8 {
	return r[off]
}

func (r *regFile) Write8(off, v uint8) {
	r[off] = v
}

func TestRecordReplay(t *testing.T) {
	var buf bytes.Buffer
	regs := new(regFile)
	regs[0x04] = 0x5a

	rec := NewRecorder(regs, &buf)
	rec.Write8(0x01, 0x40)
	if v := rec.Read8(0x04); v != 0x5a {
		t.Fatalf("recorded read = 0x%02x, want 0x5a", v)
	}
	rec.Write8(0x00, 0xfe)
	if err := rec.Err(); err != nil {
		t.Fatal(err)
	}

	// The same access sequence replays cleanly.
	rep := NewReplayer(bytes.NewReader(buf.Bytes()))
	rep.Write8(0x01, 0x40)
	if v := rep.Read8(0x04); v != 0x5a {
		t.Errorf("replayed read = 0x%02x, want 0x5a", v)
	}
	rep.Write8(0x00, 0xfe)
	if err := rep.Err(); err != nil {
		t.Fatal(err)
	}
}

func TestReplayDivergence(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(new(regFile), &buf)
	rec.Write8(0x01, 0x40)

	// Wrong offset.
	rep := NewReplayer(bytes.NewReader(buf.Bytes()))
	rep.Write8(0x02, 0x40)
	if rep.Err() == nil {
		t.Error("divergent offset not detected")
	}

	// Wrong value.
	rep = NewReplayer(bytes.NewReader(buf.Bytes()))
	rep.Write8(0x01, 0x41)
	if rep.Err() == nil {
		t.Error("divergent value not detected")
	}

	// Wrong direction.
	rep = NewReplayer(bytes.NewReader(buf.Bytes()))
	rep.Read8(0x01)
	if rep.Err() == nil {
		t.Error("divergent direction not detected")
	}
}

func TestReplayPastEnd(t *testing.T) {
	rep := NewReplayer(bytes.NewReader(nil))
	if v := rep.Read8(0x00); v != 0 {
		t.Errorf("read past end = 0x%02x, want 0", v)
	}
	if rep.Err() == nil {
		t.Error("read past the recording not detected")
	}
}
