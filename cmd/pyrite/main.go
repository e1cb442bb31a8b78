// Pyrite CLI - runs compiled Pyrite program images.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/pyrite-lang/pyrite/vm"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code. Keeping os.Exit out of here lets the
// deferred VM Close (which persists loop profiles) actually execute.
func run() int {
	configPath := flag.String("config", "pyrite.toml", "Config file path")
	verbose := flag.Bool("v", false, "Verbose output")
	disassemble := flag.Bool("d", false, "Disassemble the image instead of running it")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pyrite [options] <image>\n\n")
		fmt.Fprintf(os.Stderr, "Runs a compiled Pyrite program image.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pyrite program.pyi          # Run an image\n")
		fmt.Fprintf(os.Stderr, "  pyrite -d program.pyi       # Show its bytecode\n")
		fmt.Fprintf(os.Stderr, "  pyrite -config vm.toml program.pyi\n")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return 2
	}

	cfg, err := vm.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	verbosity := cfg.Verbosity
	if *verbose {
		verbosity++
	}
	commonlog.Configure(verbosity, nil)

	program, err := vm.LoadImage(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *disassemble {
		for _, code := range program.Codes {
			fmt.Printf("=== %s (params=%d locals=%d regs=%d)\n",
				code.Name, code.NumParams, code.NumLocals, code.NumRegs)
			fmt.Println(vm.Disassemble(code))
		}
		return 0
	}

	machine, err := vm.NewVM(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer machine.Close()

	result, err := machine.Run(program.Codes[program.Entry])
	if err != nil {
		var unhandled *vm.UnhandledError
		if errors.As(err, &unhandled) {
			fmt.Fprintf(os.Stderr, "Traceback (most recent raise):\n  %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		}
		return 1
	}

	// A small-integer result becomes the exit code.
	if result.Kind() == vm.KindInt && result.Int() >= 0 && result.Int() < 126 {
		return int(result.Int())
	}
	return 0
}
