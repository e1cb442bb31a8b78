package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
)

// VM is one virtual machine instance: a global namespace, an interpreter,
// and the profiling/native-loop machinery. A VM is single-threaded; run
// one goroutine against it at a time.
type VM struct {
	Config  Config
	Globals map[string]Value

	// Stdout receives guest print output. Defaults to os.Stdout.
	Stdout io.Writer

	profiler *Profiler
	loops    *loopTable
	compiler LoopCompiler
	interp   *Interpreter
	store    *ProfileStore

	log commonlog.Logger
}

// NewVM creates a VM with the given configuration, standard builtins
// registered, and (when configured) persisted loop profiles seeded.
func NewVM(cfg Config) (*VM, error) {
	if cfg.MaxCallDepth == 0 {
		cfg = DefaultConfig()
	}
	vm := &VM{
		Config:  cfg,
		Globals: make(map[string]Value),
		Stdout:  os.Stdout,
		loops:   newLoopTable(),
		log:     commonlog.GetLogger("pyrite.vm"),
	}
	vm.interp = newInterpreter(vm, cfg.MaxCallDepth)

	if cfg.NativeLoops {
		vm.profiler = NewProfiler()
		vm.profiler.HotThreshold = cfg.LoopHotThreshold
		vm.profiler.OnHot = vm.onHotLoop
	}

	registerBuiltins(vm)

	if cfg.ProfileDB != "" && vm.profiler != nil {
		store, err := OpenProfileStore(cfg.ProfileDB)
		if err != nil {
			return nil, fmt.Errorf("opening profile store: %w", err)
		}
		vm.store = store
		seeded, err := store.Load()
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("loading profiles: %w", err)
		}
		for _, p := range seeded {
			vm.profiler.Seed(p.Key, p.End, p.BackEdges)
		}
		vm.log.Infof("seeded %d loop profiles from %s", len(seeded), cfg.ProfileDB)
	}

	return vm, nil
}

// SetLoopCompiler installs the native-loop compiler. Without one, hot loops
// keep interpreting.
func (vm *VM) SetLoopCompiler(c LoopCompiler) { vm.compiler = c }

// Profiler exposes the loop profiler, or nil when native loops are off.
func (vm *VM) Profiler() *Profiler { return vm.profiler }

// RegisterBuiltin binds a host function into the global namespace.
func (vm *VM) RegisterBuiltin(name string, fn BuiltinFunc) {
	v := BuiltinValue(name, fn)
	if old, ok := vm.Globals[name]; ok {
		old.Release()
	}
	vm.Globals[name] = v
}

// SetGlobal binds a value into the global namespace.
func (vm *VM) SetGlobal(name string, v Value) {
	v.Retain()
	if old, ok := vm.Globals[name]; ok {
		old.Release()
	}
	vm.Globals[name] = v
}

// Run executes a code unit to completion. The error is nil on normal
// completion, *UnhandledError for a terminal guest exception, and
// *StackOverflowError when the call depth limit is exceeded.
func (vm *VM) Run(code *Code, args ...Value) (Value, error) {
	vm.log.Debugf("running %s", code.Name)
	v, err := vm.interp.Run(code, args...)
	if err != nil {
		vm.log.Errorf("%s: %s", code.Name, err.Error())
	}
	return v, err
}

// Close persists profiles (when configured) and releases the VM's global
// references.
func (vm *VM) Close() error {
	var err error
	if vm.store != nil {
		if vm.profiler != nil {
			if serr := vm.store.Save(vm.profiler.Profiles()); serr != nil {
				err = fmt.Errorf("saving profiles: %w", serr)
			}
		}
		if cerr := vm.store.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing profile store: %w", cerr)
		}
	}
	for name, v := range vm.Globals {
		v.Release()
		delete(vm.Globals, name)
	}
	return err
}

// onHotLoop fires once per loop when it crosses the threshold.
func (vm *VM) onHotLoop(code *Code, profile *LoopProfile) {
	vm.log.Infof("hot loop %s@%04d (%d back-edges)",
		profile.Key.Code, profile.Key.Start, profile.BackEdges)
	vm.attemptCompile(code, profile)
}

// attemptCompile asks the compiler for a native body, once per loop.
func (vm *VM) attemptCompile(code *Code, profile *LoopProfile) {
	if vm.compiler == nil || vm.loops.attempted(profile.Key) {
		return
	}
	fn, err := vm.compiler.CompileLoop(code, profile.Key.Start, profile.End)
	if err != nil {
		vm.loops.fail(profile.Key, err)
		vm.log.Infof("loop %s@%04d not compiled: %s",
			profile.Key.Code, profile.Key.Start, err.Error())
		return
	}
	vm.loops.put(profile.Key, fn)
	vm.log.Infof("compiled loop %s@%04d", profile.Key.Code, profile.Key.Start)
}

// compiledLoop returns the native body for a hot loop, triggering a lazy
// compile attempt for loops seeded hot from the profile store.
func (vm *VM) compiledLoop(code *Code, start int) CompiledLoop {
	if vm.profiler == nil {
		return nil
	}
	key := LoopKey{Code: code.Name, Start: start}
	profile := vm.profiler.Get(key)
	if profile == nil || !profile.IsHot {
		return nil
	}
	if !vm.loops.attempted(key) {
		vm.attemptCompile(code, profile)
	}
	return vm.loops.get(key)
}
