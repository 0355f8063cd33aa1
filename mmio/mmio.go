// package mmio exposes a physical register window of the embedded
// controller as an 8-bit register block, mapped through /dev/mem. It is
// the backend used when the driver runs on the EC's application core.
package mmio

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Range is a register window backed by a shared memory mapping.
type Range struct {
	mu   sync.Mutex
	mem  []byte
	off  int
	size int
}

// Map maps size bytes of physical address space starting at base.
func Map(base uintptr, size int) (*Range, error) {
	return MapFile("/dev/mem", base, size)
}

// MapFile maps the window from an arbitrary file, mostly for tests.
// base does not have to be page aligned; the mapping is widened to the
// containing pages and accesses are offset accordingly.
func MapFile(path string, base uintptr, size int) (*Range, error) {
	if size <= 0 || size > 0x100 {
		return nil, fmt.Errorf("mmio: window size %d out of range", size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mmio: %w", err)
	}
	defer f.Close()
	page := uintptr(unix.Getpagesize())
	aligned := base &^ (page - 1)
	shift := int(base - aligned)
	mem, err := unix.Mmap(int(f.Fd()), int64(aligned), shift+size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmio: map 0x%x+0x%x: %w", base, size, err)
	}
	return &Range{mem: mem, off: shift, size: size}, nil
}

// Read8 reads the register at off. off must lie inside the window.
// Plain loads and stores are good enough here: the EC register file has
// no ordering requirements between distinct registers.
func (r *Range) Read8(off uint8) uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mem[r.off+int(off)]
}

// Write8 writes the register at off. off must lie inside the window.
func (r *Range) Write8(off, v uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mem[r.off+int(off)] = v
}

// Size reports the window size in bytes.
func (r *Range) Size() int {
	return r.size
}

// Close unmaps the window.
func (r *Range) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return nil
	}
	mem := r.mem
	r.mem = nil
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("mmio: unmap: %w", err)
	}
	return nil
}
