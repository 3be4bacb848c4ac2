// Package vm implements an eBPF-compatible interpreter for rBPF containers:
// a preflight verifier, a region-checked memory model and a bounded
// interpreter with host syscalls.
package vm

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fortiblox/femtovm/pkg/container"
	"github.com/fortiblox/femtovm/pkg/store"
)

// DefaultStackSize is the stack size used when none is configured.
const DefaultStackSize = 512

// DefaultMaxDataSize bounds the mutable data+bss section of an image.
const DefaultMaxDataSize = 64 << 10

// Flags records instance lifecycle and policy bits.
type Flags uint16

const (
	FlagSetupDone     Flags = 0x01
	FlagPreflightDone Flags = 0x02
	FlagNoReturn      Flags = 0x0100 // program need not end in exit
)

// State is the execution state of an instance.
type State uint8

const (
	StateInit State = iota
	StateRunning
	StateHalted
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateFaulted:
		return "faulted"
	}
	return "unknown"
}

// Config holds instance configuration.
type Config struct {
	StackSize     int
	BranchLimit   uint32
	NoReturn      bool
	MaxDataSize   uint64
	LocalCapacity int
	Syscalls      SyscallRegistry

	// Local overrides the per-instance store. When nil a memory store with
	// LocalCapacity slots is created at setup.
	Local store.Store
}

// DefaultConfig returns the default instance configuration.
func DefaultConfig() Config {
	return Config{
		StackSize:     DefaultStackSize,
		BranchLimit:   DefaultBranchLimit,
		MaxDataSize:   DefaultMaxDataSize,
		LocalCapacity: store.DefaultCapacity,
		Syscalls:      NoSyscalls,
	}
}

// Instance is one loaded program with its stack, data copy, regions and
// local store. An Instance is not safe for concurrent use.
type Instance struct {
	image    *container.Container
	stack    []byte
	data     []byte
	cfg      Config
	syscalls SyscallRegistry
	regions  RegionTable
	local    store.Store
	budget   *BranchBudget
	flags    Flags
	state    State
}

// New creates an instance over image. If stack is nil a stack of
// cfg.StackSize bytes is allocated; otherwise the caller's buffer is used.
func New(image *container.Container, stack []byte, cfg Config) *Instance {
	if cfg.StackSize <= 0 {
		cfg.StackSize = DefaultStackSize
	}
	if cfg.BranchLimit == 0 {
		cfg.BranchLimit = DefaultBranchLimit
	}
	if cfg.MaxDataSize == 0 {
		cfg.MaxDataSize = DefaultMaxDataSize
	}
	if cfg.Syscalls == nil {
		cfg.Syscalls = NoSyscalls
	}
	if stack == nil {
		stack = make([]byte, cfg.StackSize)
	}
	in := &Instance{
		image:    image,
		stack:    stack,
		cfg:      cfg,
		syscalls: cfg.Syscalls,
		budget:   NewBranchBudget(cfg.BranchLimit),
	}
	if cfg.NoReturn {
		in.flags |= FlagNoReturn
	}
	return in
}

// Setup copies the data section into a fresh zeroed buffer of
// data_len+bss_len (rounded up to 4 bytes) and builds the region table.
// Any extension regions added earlier are discarded.
func (in *Instance) Setup() error {
	if in.image == nil {
		return fmt.Errorf("%w: no image", ErrNoMemory)
	}
	hdr := in.image.Header()
	size := hdr.MutableLen()
	if size > in.cfg.MaxDataSize {
		return fmt.Errorf("%w: data+bss is %d bytes, limit %d", ErrNoMemory, size, in.cfg.MaxDataSize)
	}
	in.data = make([]byte, size)
	copy(in.data, in.image.Data())

	in.regions.reset()
	in.regions.builtin[slotStack] = Region{Name: "stack", Start: VaddrStack, Mem: in.stack, Perm: PermRW}
	in.regions.builtin[slotData] = Region{Name: "data", Start: VaddrData, Mem: in.data, Perm: PermRW}
	in.regions.builtin[slotRodata] = Region{Name: "rodata", Start: VaddrRodata, Mem: in.image.Rodata(), Perm: PermRead}
	in.regions.arg = Region{Name: "arg", Start: VaddrContext}

	if in.local == nil {
		in.local = in.cfg.Local
		if in.local == nil {
			in.local = store.NewMemory(in.cfg.LocalCapacity)
		}
	}

	in.flags |= FlagSetupDone
	in.state = StateInit
	Logger().Debug("instance set up",
		zap.Uint64("data", size),
		zap.Int("rodata", len(in.image.Rodata())),
		zap.Int("text", len(in.image.Text())),
		zap.Int("stack", len(in.stack)))
	return nil
}

// Destroy releases the data copy, regions and local store. The instance
// may be set up again afterwards.
func (in *Instance) Destroy() {
	in.data = nil
	in.regions.reset()
	in.local = nil
	in.flags &= FlagNoReturn
	in.state = StateInit
}

// AddRegion maps mem at virtual address start with the given permissions.
// Extension regions are consulted after the built-in sections and before
// the argument region; the most recently added wins on overlap.
func (in *Instance) AddRegion(name string, start uint64, mem []byte, perm Perm) error {
	if in.flags&FlagSetupDone == 0 {
		return ErrNotSetup
	}
	return in.regions.add(Region{Name: name, Start: start, Mem: mem, Perm: perm})
}

// Execute runs the program with r1 set to ctx and returns r0.
func (in *Instance) Execute(ctx uint64) (int64, error) {
	if in.flags&FlagSetupDone == 0 {
		return 0, ErrNotSetup
	}
	in.regions.arg.Mem = nil
	return in.run(ctx)
}

// ExecuteContext maps ctx read-write at VaddrContext and runs the program
// with r1 pointing at it. Writes by the program are visible in ctx.
func (in *Instance) ExecuteContext(ctx []byte) (int64, error) {
	if in.flags&FlagSetupDone == 0 {
		return 0, ErrNotSetup
	}
	in.regions.arg.Mem = ctx
	in.regions.arg.Perm = PermRW
	defer func() { in.regions.arg.Mem = nil }()
	return in.run(VaddrContext)
}

// State returns the execution state of the last run.
func (in *Instance) State() State { return in.state }

// Flags returns the lifecycle and policy flags.
func (in *Instance) Flags() Flags { return in.flags }

// LocalStore returns the per-instance store, or nil before setup.
func (in *Instance) LocalStore() store.Store { return in.local }

// Image returns the container the instance runs.
func (in *Instance) Image() *container.Container { return in.image }

// Stack returns the stack buffer.
func (in *Instance) Stack() []byte { return in.stack }

// DataSection returns the mutable data+bss copy.
func (in *Instance) DataSection() []byte { return in.data }

// Regions returns the region table.
func (in *Instance) Regions() *RegionTable { return &in.regions }

// Budget returns the branch budget.
func (in *Instance) Budget() *BranchBudget { return in.budget }

// IsFault reports whether err carries the given fault.
func IsFault(err error, f Fault) bool {
	var got Fault
	return errors.As(err, &got) && got == f
}
