package vm

import (
	"fmt"

	"go.uber.org/zap"
)

// Virtual base addresses of the built-in regions. Each region gets its own
// 4 GiB window so addresses never alias between regions.
const (
	VaddrData    = uint64(0x1_0000_0000)
	VaddrRodata  = uint64(0x2_0000_0000)
	VaddrStack   = uint64(0x3_0000_0000)
	VaddrContext = uint64(0x4_0000_0000)
)

// MaxExtensionRegions is the number of host regions an instance can map on
// top of the built-in ones.
const MaxExtensionRegions = 4

// Perm is a set of access flags on a region.
type Perm uint8

const (
	PermRead  Perm = 1 << 0
	PermWrite Perm = 1 << 1
	PermExec  Perm = 1 << 2

	PermRW = PermRead | PermWrite
)

func (p Perm) String() string {
	b := []byte("---")
	if p&PermRead != 0 {
		b[0] = 'r'
	}
	if p&PermWrite != 0 {
		b[1] = 'w'
	}
	if p&PermExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// Region maps the virtual range [Start, Start+len(Mem)) onto Mem.
type Region struct {
	Name  string
	Start uint64
	Mem   []byte
	Perm  Perm
}

// End returns the first virtual address past the region.
func (r *Region) End() uint64 {
	return r.Start + uint64(len(r.Mem))
}

// contains reports whether [addr, addr+size) lies inside the region.
// Written so that no intermediate sum can wrap.
func (r *Region) contains(addr, size uint64) bool {
	if addr < r.Start {
		return false
	}
	off := addr - r.Start
	n := uint64(len(r.Mem))
	return off <= n && size <= n-off
}

// RegionTable is the ordered set of regions consulted by address
// translation: stack, data, rodata, extensions (newest first), then the
// argument region. The first region containing the whole range decides.
type RegionTable struct {
	builtin [3]Region
	ext     [MaxExtensionRegions]Region
	nExt    int
	arg     Region
}

const (
	slotStack = iota
	slotData
	slotRodata
)

// Len returns the number of regions in lookup order.
func (t *RegionTable) Len() int {
	return len(t.builtin) + t.nExt + 1
}

// At returns the i-th region in lookup order.
func (t *RegionTable) At(i int) *Region {
	switch {
	case i < len(t.builtin):
		return &t.builtin[i]
	case i < len(t.builtin)+t.nExt:
		return &t.ext[t.nExt-1-(i-len(t.builtin))]
	case i == len(t.builtin)+t.nExt:
		return &t.arg
	}
	return nil
}

func (t *RegionTable) add(r Region) error {
	if uint64(len(r.Mem)) > ^uint64(0)-r.Start {
		return fmt.Errorf("%w: %s at 0x%x (len %d)", ErrRegionOverflow, r.Name, r.Start, len(r.Mem))
	}
	if t.nExt == len(t.ext) {
		return ErrTooManyRegions
	}
	t.ext[t.nExt] = r
	t.nExt++
	return nil
}

func (t *RegionTable) reset() {
	*t = RegionTable{}
}

// Translate resolves [addr, addr+size) to host memory, requiring every bit of
// access on the containing region.
func (t *RegionTable) Translate(addr, size uint64, access Perm) ([]byte, error) {
	if size > ^uint64(0)-addr {
		return nil, fmt.Errorf("%w: range overflow at 0x%x (size %d)", IllegalMemory, addr, size)
	}
	for i := 0; i < t.Len(); i++ {
		r := t.At(i)
		if !r.contains(addr, size) {
			continue
		}
		if r.Perm&access != access {
			Logger().Debug("memory access denied",
				zap.String("region", r.Name),
				zap.Uint64("addr", addr),
				zap.Uint64("size", size),
				zap.Stringer("want", access),
				zap.Stringer("have", r.Perm))
			return nil, fmt.Errorf("%w: %s access to %s region at 0x%x (size %d)", IllegalMemory, access, r.Name, addr, size)
		}
		off := addr - r.Start
		return r.Mem[off : off+size : off+size], nil
	}
	Logger().Debug("unmapped memory access", zap.Uint64("addr", addr), zap.Uint64("size", size))
	return nil, fmt.Errorf("%w: unmapped address 0x%x (size %d)", IllegalMemory, addr, size)
}
