// Package host wraps a vm.Instance into a reusable virtual machine: load a
// container, execute it any number of times, inspect the last error and the
// local and process-wide stores.
package host

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/fortiblox/femtovm/pkg/container"
	"github.com/fortiblox/femtovm/pkg/store"
	"github.com/fortiblox/femtovm/pkg/vm"
	"github.com/fortiblox/femtovm/pkg/vm/syscall"
)

// ErrNotLoaded is returned by the local store of an unloaded machine.
var ErrNotLoaded = errors.New("host: no container loaded")

// FailedResult is the value Execute returns when the program does not
// complete.
const FailedResult = int64(-1)

var (
	globalsMu sync.RWMutex
	globals   store.Store = store.NewMemory(store.DefaultCapacity)
)

// Globals returns the process-wide store shared by every machine.
func Globals() store.Store {
	globalsMu.RLock()
	defer globalsMu.RUnlock()
	return globals
}

// SetGlobals replaces the process-wide store, e.g. with a persistent one.
// Machines pick up the new store on their next syscall.
func SetGlobals(s store.Store) {
	if s == nil {
		s = store.NewMemory(store.DefaultCapacity)
	}
	globalsMu.Lock()
	globals = s
	globalsMu.Unlock()
}

// sharedGlobals forwards to whatever store Globals returns at call time.
type sharedGlobals struct{}

func (sharedGlobals) Update(key, value uint32) error   { return Globals().Update(key, value) }
func (sharedGlobals) Fetch(key uint32) (uint32, error) { return Globals().Fetch(key) }
func (sharedGlobals) Len() int                         { return Globals().Len() }
func (sharedGlobals) Range(fn func(key, value uint32) bool) error {
	return Globals().Range(fn)
}

// ErrorString returns the identifier for a result code, e.g. "ILLEGAL_MEM".
func ErrorString(code int) string {
	return vm.CodeName(code)
}

// Options configures a VirtualMachine.
type Options struct {
	// Config is the instance configuration. Its Syscalls field is replaced
	// by the machine's registry.
	Config vm.Config

	// Output receives printf output.
	Output io.Writer

	// Registry overrides the default syscall registry.
	Registry *syscall.Registry
}

// VirtualMachine runs one container at a time. It is not safe for
// concurrent use.
type VirtualMachine struct {
	cfg      vm.Config
	registry *syscall.Registry
	image    *container.Container
	stack    []byte
	inst     *vm.Instance
	lastErr  error
	locals   localStore
}

// New creates a machine with no container loaded.
func New(opts Options) *VirtualMachine {
	reg := opts.Registry
	if reg == nil {
		reg = syscall.NewRegistry(syscall.Options{
			Output:  opts.Output,
			Globals: sharedGlobals{},
		})
	}
	cfg := opts.Config
	cfg.Syscalls = reg.Lookup()
	m := &VirtualMachine{cfg: cfg, registry: reg}
	m.locals.m = m
	return m
}

// Load prepares image for execution with a stack of stackSize bytes,
// unloading any previous container. The stack buffer is reused when the
// size is unchanged.
func (m *VirtualMachine) Load(image *container.Container, stackSize int) error {
	m.Unload()
	if stackSize <= 0 {
		stackSize = vm.DefaultStackSize
	}
	if len(m.stack) != stackSize {
		m.stack = make([]byte, stackSize)
	} else {
		clear(m.stack)
	}

	cfg := m.cfg
	cfg.StackSize = stackSize
	inst := vm.New(image, m.stack, cfg)
	if err := inst.Setup(); err != nil {
		Logger().Error("init failed", zap.Error(err))
		return fmt.Errorf("load container: %w", err)
	}
	m.image = image
	m.inst = inst
	Logger().Debug("container loaded",
		zap.Stringer("digest", image.Digest()),
		zap.Int("size", image.Len()),
		zap.Int("stack", stackSize))
	return nil
}

// LoadBytes parses image and loads it.
func (m *VirtualMachine) LoadBytes(image []byte, stackSize int) error {
	c, err := container.Parse(image)
	if err != nil {
		return fmt.Errorf("load container: %w", err)
	}
	return m.Load(c, stackSize)
}

// Unload releases the loaded container and clears the last error.
func (m *VirtualMachine) Unload() {
	if m.inst != nil {
		m.inst.Destroy()
		m.inst = nil
	}
	m.image = nil
	m.lastErr = nil
}

// Loaded reports whether a container is loaded.
func (m *VirtualMachine) Loaded() bool {
	return m.inst != nil
}

// Execute runs the container with ctx mapped read-write as its argument and
// returns r0. A nil ctx passes a zero r1. On failure it returns
// FailedResult and LastError reports why; without a loaded container it
// returns vm.CodeNoMemory.
func (m *VirtualMachine) Execute(ctx []byte) int64 {
	if m.inst == nil {
		m.lastErr = vm.ErrNotSetup
		return vm.CodeNoMemory
	}
	if ctx == nil {
		return m.finish(m.inst.Execute(0))
	}
	return m.finish(m.inst.ExecuteContext(ctx))
}

// ExecuteValue runs the container with r1 set to ctx.
func (m *VirtualMachine) ExecuteValue(ctx uint64) int64 {
	if m.inst == nil {
		m.lastErr = vm.ErrNotSetup
		return vm.CodeNoMemory
	}
	return m.finish(m.inst.Execute(ctx))
}

func (m *VirtualMachine) finish(r0 int64, err error) int64 {
	m.lastErr = err
	if err != nil {
		code := vm.Code(err)
		Logger().Warn("VM call failed",
			zap.Int("code", code),
			zap.String("error", ErrorString(code)),
			zap.NamedError("cause", err))
		return FailedResult
	}
	return r0
}

// LastError returns the result code of the last Execute: 0 on success.
func (m *VirtualMachine) LastError() int {
	return vm.Code(m.lastErr)
}

// Err returns the full error of the last Execute.
func (m *VirtualMachine) Err() error {
	return m.lastErr
}

// Locals returns the local store of the loaded container. Its methods
// return ErrNotLoaded while nothing is loaded.
func (m *VirtualMachine) Locals() store.Store {
	return &m.locals
}

// Instance returns the underlying instance, or nil when unloaded.
func (m *VirtualMachine) Instance() *vm.Instance {
	return m.inst
}

// Registry returns the syscall registry.
func (m *VirtualMachine) Registry() *syscall.Registry {
	return m.registry
}

// Image returns the loaded container.
func (m *VirtualMachine) Image() *container.Container {
	return m.image
}

type localStore struct {
	m *VirtualMachine
}

func (l *localStore) get() (store.Store, error) {
	if l.m.inst == nil || l.m.inst.LocalStore() == nil {
		return nil, ErrNotLoaded
	}
	return l.m.inst.LocalStore(), nil
}

func (l *localStore) Update(key, value uint32) error {
	s, err := l.get()
	if err != nil {
		return err
	}
	return s.Update(key, value)
}

func (l *localStore) Fetch(key uint32) (uint32, error) {
	s, err := l.get()
	if err != nil {
		return 0, err
	}
	return s.Fetch(key)
}

func (l *localStore) Range(fn func(key, value uint32) bool) error {
	s, err := l.get()
	if err != nil {
		return err
	}
	return s.Range(fn)
}

func (l *localStore) Len() int {
	s, err := l.get()
	if err != nil {
		return 0
	}
	return s.Len()
}
