// package trace records register-level traffic of a controller channel
// as a CBOR event stream and replays recordings as a register backend.
// A replayed trace turns a bug report captured on real hardware into a
// deterministic register window the driver can be run against.
package trace

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Op is the direction of one register access.
type Op uint8

const (
	OpRead Op = iota
	OpWrite
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Event is one register access. Integer keys keep recordings of long
// transactions small.
type Event struct {
	Op  Op    `cbor:"1,keyasint"`
	Off uint8 `cbor:"2,keyasint"`
	Val uint8 `cbor:"3,keyasint"`
}

// Regs is the register window being traced.
type Regs interface {
	Read8(off uint8) uint8
	Write8(off, v uint8)
}

// Recorder passes register accesses through to a backing window and
// streams them to w. Encoding failures are sticky; check Err once the
// session is over.
type Recorder struct {
	regs Regs

	mu  sync.Mutex
	enc *cbor.Encoder
	err error
}

func NewRecorder(regs Regs, w io.Writer) *Recorder {
	return &Recorder{regs: regs, enc: cbor.NewEncoder(w)}
}

func (r *Recorder) Read8(off uint8) uint8 {
	v := r.regs.Read8(off)
	r.record(Event{Op: OpRead, Off: off, Val: v})
	return v
}

func (r *Recorder) Write8(off, v uint8) {
	r.regs.Write8(off, v)
	r.record(Event{Op: OpWrite, Off: off, Val: v})
}

func (r *Recorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	if err := r.enc.Encode(e); err != nil {
		r.err = fmt.Errorf("trace: record: %w", err)
	}
}

// Err reports the first encoding failure.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Replayer serves a recording back as a register window. Reads return
// the recorded values; writes are checked against the recording. The
// first divergence from the recording is sticky and every access after
// it is a no-op.
type Replayer struct {
	mu  sync.Mutex
	dec *cbor.Decoder
	err error
}

func NewReplayer(rd io.Reader) *Replayer {
	return &Replayer{dec: cbor.NewDecoder(rd)}
}

func (p *Replayer) Read8(off uint8) uint8 {
	e, ok := p.next(OpRead, off)
	if !ok {
		return 0
	}
	return e.Val
}

func (p *Replayer) Write8(off, v uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.nextLocked(OpWrite, off)
	if ok && e.Val != v {
		p.err = fmt.Errorf("trace: write 0x%02x=0x%02x, recording has 0x%02x", off, v, e.Val)
	}
}

func (p *Replayer) next(op Op, off uint8) (Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextLocked(op, off)
}

func (p *Replayer) nextLocked(op Op, off uint8) (Event, bool) {
	if p.err != nil {
		return Event{}, false
	}
	var e Event
	if err := p.dec.Decode(&e); err != nil {
		if errors.Is(err, io.EOF) {
			p.err = fmt.Errorf("trace: %v 0x%02x past the end of the recording", op, off)
		} else {
			p.err = fmt.Errorf("trace: decode: %w", err)
		}
		return Event{}, false
	}
	if e.Op != op || e.Off != off {
		p.err = fmt.Errorf("trace: %v 0x%02x diverges from recording (%v 0x%02x)", op, off, e.Op, e.Off)
		return Event{}, false
	}
	return e, true
}

// Err reports the first divergence between the replayed accesses and
// the recording.
func (p *Replayer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
