package vm

import "github.com/fortiblox/femtovm/pkg/store"

// VM is the view of an instance handed to syscalls.
type VM interface {
	// Memory access
	Read(addr uint64, p []byte) error
	Read8(addr uint64) (uint8, error)
	Read16(addr uint64) (uint16, error)
	Read32(addr uint64) (uint32, error)
	Read64(addr uint64) (uint64, error)

	Write(addr uint64, p []byte) error
	Write8(addr uint64, x uint8) error
	Write16(addr uint64, x uint16) error
	Write32(addr uint64, x uint32) error
	Write64(addr uint64, x uint64) error

	// Memory translation
	Translate(addr uint64, size uint64, access Perm) ([]byte, error)

	// LocalStore returns the per-instance key/value store.
	LocalStore() store.Store
}

// Syscall is the interface for host functions callable from programs.
type Syscall interface {
	// Invoke executes the syscall with the given arguments.
	// Arguments are passed in r1-r5, return value goes in r0.
	Invoke(vm VM, r1, r2, r3, r4, r5 uint64) (uint64, error)
}

// SyscallFunc is a function that implements Syscall.
type SyscallFunc func(vm VM, r1, r2, r3, r4, r5 uint64) (uint64, error)

// Invoke implements Syscall.
func (f SyscallFunc) Invoke(vm VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
	return f(vm, r1, r2, r3, r4, r5)
}

// SyscallRegistry resolves a call instruction's immediate to a syscall.
type SyscallRegistry func(code uint32) (Syscall, bool)

// NoSyscalls is a registry that resolves nothing.
func NoSyscalls(uint32) (Syscall, bool) { return nil, false }
