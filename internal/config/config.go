// Package config handles femtovm.toml runner configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fortiblox/femtovm/pkg/store"
	"github.com/fortiblox/femtovm/pkg/vm"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendBolt   = "bolt"
)

// File represents a femtovm.toml configuration.
type File struct {
	VM    VM    `toml:"vm"`
	Store Store `toml:"store"`
	Log   Log   `toml:"log"`
}

// VM configures instances.
type VM struct {
	StackSize     int    `toml:"stack_size"`
	BranchLimit   uint32 `toml:"branch_limit"`
	NoReturn      bool   `toml:"no_return"`
	MaxDataSize   uint64 `toml:"max_data_size"`
	LocalCapacity int    `toml:"local_capacity"`
	Extensions    bool   `toml:"extensions"`
}

// Store configures the global store.
type Store struct {
	Backend    string `toml:"backend"`
	Path       string `toml:"path"`
	Capacity   int    `toml:"capacity"`
	SyncWrites bool   `toml:"sync_writes"`
}

// Log configures logging.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the built-in configuration.
func Default() File {
	d := vm.DefaultConfig()
	return File{
		VM: VM{
			StackSize:     d.StackSize,
			BranchLimit:   d.BranchLimit,
			MaxDataSize:   d.MaxDataSize,
			LocalCapacity: d.LocalCapacity,
			Extensions:    true,
		},
		Store: Store{
			Backend:  BackendMemory,
			Capacity: store.DefaultCapacity,
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load parses a configuration file over the defaults. Unknown keys are an
// error.
func Load(path string) (File, error) {
	f := Default()
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return File{}, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return File{}, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	if err := f.Validate(); err != nil {
		return File{}, fmt.Errorf("invalid %s: %w", path, err)
	}
	return f, nil
}

// Validate checks value ranges.
func (f File) Validate() error {
	var errs []error
	if f.VM.StackSize <= 0 {
		errs = append(errs, fmt.Errorf("vm.stack_size must be positive, got %d", f.VM.StackSize))
	}
	if f.VM.BranchLimit == 0 {
		errs = append(errs, errors.New("vm.branch_limit must be positive"))
	}
	switch f.Store.Backend {
	case BackendMemory:
	case BackendBadger, BackendBolt:
		if f.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for the %s backend", f.Store.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", f.Store.Backend))
	}
	if _, err := zapcore.ParseLevel(f.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if f.Log.Format != "console" && f.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("unknown log.format %q", f.Log.Format))
	}
	return errors.Join(errs...)
}

// VMConfig returns the instance configuration. Syscalls are left unset.
func (f File) VMConfig() vm.Config {
	cfg := vm.DefaultConfig()
	cfg.StackSize = f.VM.StackSize
	cfg.BranchLimit = f.VM.BranchLimit
	cfg.NoReturn = f.VM.NoReturn
	cfg.MaxDataSize = f.VM.MaxDataSize
	cfg.LocalCapacity = f.VM.LocalCapacity
	cfg.Syscalls = nil
	return cfg
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenStore opens the configured global store. The closer releases it.
func (f File) OpenStore(log *zap.Logger) (store.Store, io.Closer, error) {
	switch f.Store.Backend {
	case BackendMemory, "":
		return store.NewMemory(f.Store.Capacity), nopCloser{}, nil
	case BackendBadger:
		cfg := store.DefaultBadgerConfig(f.Store.Path)
		cfg.SyncWrites = f.Store.SyncWrites
		cfg.Capacity = f.Store.Capacity
		if log != nil {
			cfg.Logger = store.BadgerLogger(log)
		}
		s, err := store.OpenBadger(cfg)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case BackendBolt:
		cfg := store.DefaultBoltConfig(f.Store.Path)
		cfg.NoSync = !f.Store.SyncWrites
		cfg.Capacity = f.Store.Capacity
		s, err := store.OpenBolt(cfg)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", f.Store.Backend)
}

// NewLogger builds a zap logger from the [log] table.
func (f File) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(f.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if f.Log.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
