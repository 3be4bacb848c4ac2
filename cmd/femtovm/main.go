// femtovm: run rBPF containers from the command line.
//
// femtovm loads a container image (optionally zstd-compressed), verifies it
// and executes it one or more times against a process-wide global store
// that can be kept in memory or persisted with badger or bolt.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fortiblox/femtovm/internal/config"
	"github.com/fortiblox/femtovm/pkg/container"
	"github.com/fortiblox/femtovm/pkg/host"
	"github.com/fortiblox/femtovm/pkg/vm"
	vmsyscall "github.com/fortiblox/femtovm/pkg/vm/syscall"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Configuration flags
var (
	configPath  = flag.String("config", "", "Path to a femtovm.toml configuration file")
	stackSize   = flag.Int("stack", vm.DefaultStackSize, "Stack size in bytes")
	branches    = flag.Uint("branches", vm.DefaultBranchLimit, "Taken-branch allowance per execution")
	noReturn    = flag.Bool("no-return", false, "Allow programs that do not end in exit")
	storeKind   = flag.String("store", config.BackendMemory, "Global store backend: memory, badger, bolt")
	storePath   = flag.String("store-path", "", "Database path for persistent store backends")
	ctxHex      = flag.String("ctx", "", "Context bytes passed to the program, hex encoded")
	runs        = flag.Int("runs", 1, "Number of times to execute the container")
	verifyOnly  = flag.Bool("verify", false, "Verify the container and exit")
	dump        = flag.Bool("dump", false, "Disassemble the text section and exit")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: femtovm [flags] <container>\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("femtovm %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "femtovm: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, if any, and applies the flags
// that were set explicitly on top of it.
func loadConfig() (config.File, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return cfg, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "stack":
			cfg.VM.StackSize = *stackSize
		case "branches":
			cfg.VM.BranchLimit = uint32(*branches)
		case "no-return":
			cfg.VM.NoReturn = *noReturn
		case "store":
			cfg.Store.Backend = *storeKind
		case "store-path":
			cfg.Store.Path = *storePath
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})
	return cfg, cfg.Validate()
}

func run(path string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()
	vm.SetLogger(logger.Named("vm"))
	vmsyscall.SetLogger(logger.Named("syscall"))
	host.SetLogger(logger.Named("host"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	image, err := container.ReadFile(path)
	if err != nil {
		return err
	}
	h := image.Header()
	logger.Info("container loaded",
		zap.String("path", path),
		zap.Stringer("digest", image.Digest()),
		zap.Uint32("version", h.Version),
		zap.Uint32("data", h.DataLen),
		zap.Uint32("bss", h.BssLen),
		zap.Uint32("rodata", h.RodataLen),
		zap.Uint32("text", h.TextLen))

	if *dump {
		for _, line := range vm.Disassemble(image.Text()) {
			fmt.Println(line)
		}
		return nil
	}

	globals, closer, err := cfg.OpenStore(logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	defer closer.Close()
	host.SetGlobals(globals)

	registry := vmsyscall.NewRegistry(vmsyscall.Options{
		Output:       os.Stdout,
		Globals:      globals,
		NoExtensions: !cfg.VM.Extensions,
	})
	machine := host.New(host.Options{Config: cfg.VMConfig(), Registry: registry})
	if err := machine.Load(image, cfg.VM.StackSize); err != nil {
		return err
	}
	defer machine.Unload()

	if err := machine.Instance().Verify(); err != nil {
		return fmt.Errorf("verify: %s: %w", host.ErrorString(vm.Code(err)), err)
	}
	if *verifyOnly {
		fmt.Printf("%s: %s\n", image.Digest(), host.ErrorString(0))
		return nil
	}

	var arg []byte
	if *ctxHex != "" {
		if arg, err = hex.DecodeString(*ctxHex); err != nil {
			return fmt.Errorf("decode -ctx: %w", err)
		}
	}

	var lastErr error
	for i := 1; i <= *runs; i++ {
		if ctx.Err() != nil {
			logger.Info("interrupted", zap.Int("completed", i-1))
			break
		}
		result := machine.Execute(arg)
		code := machine.LastError()
		fmt.Printf("run %d: result=%d error=%s\n", i, result, host.ErrorString(code))
		lastErr = machine.Err()
	}
	if len(arg) > 0 {
		fmt.Printf("ctx: %s\n", hex.EncodeToString(arg))
	}

	machine.Locals().Range(func(k, v uint32) bool {
		logger.Debug("local", zap.Uint32("key", k), zap.Uint32("value", v))
		return true
	})

	if lastErr != nil {
		return fmt.Errorf("execution failed: %w", lastErr)
	}
	return nil
}
