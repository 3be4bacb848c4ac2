package vm

import "encoding/binary"

// Memory access methods for the interpreter and syscalls.

// Translate converts a virtual address range to host memory.
func (in *Instance) Translate(addr uint64, size uint64, access Perm) ([]byte, error) {
	return in.regions.Translate(addr, size, access)
}

// Read reads bytes from virtual memory.
func (in *Instance) Read(addr uint64, p []byte) error {
	mem, err := in.Translate(addr, uint64(len(p)), PermRead)
	if err != nil {
		return err
	}
	copy(p, mem)
	return nil
}

// Read8 reads a byte from virtual memory.
func (in *Instance) Read8(addr uint64) (uint8, error) {
	mem, err := in.Translate(addr, 1, PermRead)
	if err != nil {
		return 0, err
	}
	return mem[0], nil
}

// Read16 reads a little-endian uint16 from virtual memory.
func (in *Instance) Read16(addr uint64) (uint16, error) {
	mem, err := in.Translate(addr, 2, PermRead)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(mem), nil
}

// Read32 reads a little-endian uint32 from virtual memory.
func (in *Instance) Read32(addr uint64) (uint32, error) {
	mem, err := in.Translate(addr, 4, PermRead)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(mem), nil
}

// Read64 reads a little-endian uint64 from virtual memory.
func (in *Instance) Read64(addr uint64) (uint64, error) {
	mem, err := in.Translate(addr, 8, PermRead)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(mem), nil
}

// Write writes bytes to virtual memory.
func (in *Instance) Write(addr uint64, p []byte) error {
	mem, err := in.Translate(addr, uint64(len(p)), PermWrite)
	if err != nil {
		return err
	}
	copy(mem, p)
	return nil
}

// Write8 writes a byte to virtual memory.
func (in *Instance) Write8(addr uint64, x uint8) error {
	mem, err := in.Translate(addr, 1, PermWrite)
	if err != nil {
		return err
	}
	mem[0] = x
	return nil
}

// Write16 writes a little-endian uint16 to virtual memory.
func (in *Instance) Write16(addr uint64, x uint16) error {
	mem, err := in.Translate(addr, 2, PermWrite)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(mem, x)
	return nil
}

// Write32 writes a little-endian uint32 to virtual memory.
func (in *Instance) Write32(addr uint64, x uint32) error {
	mem, err := in.Translate(addr, 4, PermWrite)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(mem, x)
	return nil
}

// Write64 writes a little-endian uint64 to virtual memory.
func (in *Instance) Write64(addr uint64, x uint64) error {
	mem, err := in.Translate(addr, 8, PermWrite)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(mem, x)
	return nil
}

// loadSized reads size bytes (1, 2, 4 or 8) zero-extended to 64 bits.
func (in *Instance) loadSized(addr uint64, size uint64) (uint64, error) {
	switch size {
	case 1:
		v, err := in.Read8(addr)
		return uint64(v), err
	case 2:
		v, err := in.Read16(addr)
		return uint64(v), err
	case 4:
		v, err := in.Read32(addr)
		return uint64(v), err
	default:
		return in.Read64(addr)
	}
}

// storeSized writes the low size bytes of x.
func (in *Instance) storeSized(addr uint64, size uint64, x uint64) error {
	switch size {
	case 1:
		return in.Write8(addr, uint8(x))
	case 2:
		return in.Write16(addr, uint16(x))
	case 4:
		return in.Write32(addr, uint32(x))
	default:
		return in.Write64(addr, x)
	}
}
