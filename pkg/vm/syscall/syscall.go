// Package syscall implements the host functions callable from programs.
//
// Syscalls are identified by a small integer code carried in the immediate
// of the call instruction. Arguments are passed in registers r1-r5, and the
// return value is placed in r0. Built-in syscalls report bad arguments by
// returning Failure in r0; only host-side errors abort the program.
package syscall

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fortiblox/femtovm/pkg/store"
	"github.com/fortiblox/femtovm/pkg/vm"
)

// Syscall codes.
const (
	CodePrintf      = uint32(0x01)
	CodeMemcpy      = uint32(0x02)
	CodeStoreGlobal = uint32(0x10)
	CodeStoreLocal  = uint32(0x11)
	CodeFetchGlobal = uint32(0x12)
	CodeFetchLocal  = uint32(0x13)
	CodeNowMs       = uint32(0x20)
	CodeBlake3      = uint32(0x30)
	CodeKeccak256   = uint32(0x31)
)

// Failure is the r0 value of a built-in syscall that rejected its arguments
// (-1 as a signed value).
const Failure = ^uint64(0)

// Syscall errors.
var (
	ErrDuplicateCode = errors.New("syscall code already registered")
	ErrNilHandler    = errors.New("nil syscall handler")
)

// Options configures the built-in syscalls.
type Options struct {
	// Output receives printf output. Defaults to os.Stdout.
	Output io.Writer

	// Globals is the store shared by all instances using this registry.
	// Defaults to a fresh memory store.
	Globals store.Store

	// Clock returns a monotonic duration; now_ms reports it in
	// milliseconds. Defaults to the time since the registry was created.
	Clock func() time.Duration

	// NoExtensions leaves out the hashing syscalls.
	NoExtensions bool
}

type entry struct {
	name string
	fn   vm.Syscall
}

// Registry holds all registered syscalls.
type Registry struct {
	mu       sync.RWMutex
	syscalls map[uint32]entry

	outMu   sync.Mutex
	out     io.Writer
	globals store.Store
	clock   func() time.Duration
}

// NewRegistry creates a new syscall registry with all standard syscalls.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		syscalls: make(map[uint32]entry),
		out:      opts.Output,
		globals:  opts.Globals,
		clock:    opts.Clock,
	}
	if r.out == nil {
		r.out = os.Stdout
	}
	if r.globals == nil {
		r.globals = store.NewMemory(store.DefaultCapacity)
	}
	if r.clock == nil {
		start := time.Now()
		r.clock = func() time.Duration { return time.Since(start) }
	}

	r.registerFormat()
	r.registerMemory()
	r.registerStore()
	r.registerTime()
	if !opts.NoExtensions {
		r.registerHash()
	}
	return r
}

// Register adds a syscall under code. Codes cannot be re-registered.
func (r *Registry) Register(code uint32, name string, fn vm.SyscallFunc) error {
	if fn == nil {
		return ErrNilHandler
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.syscalls[code]; ok {
		return fmt.Errorf("%w: 0x%x (%s)", ErrDuplicateCode, code, e.name)
	}
	r.syscalls[code] = entry{name: name, fn: fn}
	return nil
}

// register adds a built-in syscall.
func (r *Registry) register(code uint32, name string, fn vm.SyscallFunc) {
	if err := r.Register(code, name, fn); err != nil {
		panic(err)
	}
}

// Get returns a syscall by its code.
func (r *Registry) Get(code uint32) (vm.Syscall, bool) {
	r.mu.RLock()
	e, ok := r.syscalls[code]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.fn, true
}

// Lookup returns the registry lookup function.
func (r *Registry) Lookup() vm.SyscallRegistry {
	return func(code uint32) (vm.Syscall, bool) {
		return r.Get(code)
	}
}

// Name returns the name a syscall was registered under.
func (r *Registry) Name(code uint32) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.syscalls[code]
	return e.name, ok
}

// Codes returns the registered codes in ascending order.
func (r *Registry) Codes() []uint32 {
	r.mu.RLock()
	codes := make([]uint32, 0, len(r.syscalls))
	for c := range r.syscalls {
		codes = append(codes, c)
	}
	r.mu.RUnlock()
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// Globals returns the shared store.
func (r *Registry) Globals() store.Store {
	return r.globals
}

// reject logs a rejected call and returns Failure.
func reject(name string, err error) (uint64, error) {
	Logger().Debug("syscall rejected arguments", zap.String("syscall", name), zap.Error(err))
	return Failure, nil
}
