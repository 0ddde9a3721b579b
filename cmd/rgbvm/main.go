// rgbvm CLI - run, inspect, store and serve LED effect programs
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/rgbvm/manifest"
)

var log = commonlog.GetLogger("rgbvm.cli")

// exitError carries a process exit code out of a subcommand.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: rgbvm [options] <command> [arguments]\n\n")
	fmt.Fprintf(os.Stderr, "Runs LED effect bytecode and serves it to a strip.\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nCommands:\n")
	fmt.Fprintf(os.Stderr, "  run [flags] [image]        Run an image once and dump memory\n")
	fmt.Fprintf(os.Stderr, "  render [flags] [image]     Render frames to stdout\n")
	fmt.Fprintf(os.Stderr, "  asm [-o out] [-raw] file   Assemble source into an image\n")
	fmt.Fprintf(os.Stderr, "  disasm image               Print an image's instructions\n")
	fmt.Fprintf(os.Stderr, "  effects <sub> ...          Manage the effect library (add, list, show, fav, unfav, rm)\n")
	fmt.Fprintf(os.Stderr, "  serve [flags] [image]      Start the controller service\n")
	fmt.Fprintf(os.Stderr, "  ctl <sub> ...              Talk to a running controller (status, upload, play, set, carousel, line, frame)\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  rgbvm asm rainbow.asm            # writes rainbow.rgbc\n")
	fmt.Fprintf(os.Stderr, "  rgbvm run program.bin            # run raw bytecode from address 0\n")
	fmt.Fprintf(os.Stderr, "  rgbvm render -frames 5 rainbow.rgbc\n")
	fmt.Fprintf(os.Stderr, "  rgbvm serve -carousel 10\n")
	fmt.Fprintf(os.Stderr, "  rgbvm ctl play rainbow\n")
}

func main() {
	verbosity := flag.Int("v", -1, "Log verbosity, 0 (quiet) to 4 (debug); overrides [log] verbosity")
	logFile := flag.String("log", "", "Log file (default stderr); overrides [log] file")
	configDir := flag.String("C", ".", "Directory to search upward for "+manifest.FileName)
	flag.Usage = usage
	flag.Parse()

	m, err := loadManifest(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	configureLogging(m, *verbosity, *logFile)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		err = handleRunCommand(rest, m)
	case "render":
		err = handleRenderCommand(rest, m)
	case "asm":
		err = handleAsmCommand(rest)
	case "disasm":
		err = handleDisasmCommand(rest)
	case "effects":
		err = handleEffectsCommand(rest, m)
	case "serve":
		err = handleServeCommand(rest, m)
	case "ctl":
		err = handleCtlCommand(rest, m)
	case "help":
		flag.Usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			if exit.err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", exit.err)
			}
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadManifest finds rgbvm.toml above dir, falling back to the defaults.
func loadManifest(dir string) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return manifest.Default(), nil
	}
	return m, nil
}

func configureLogging(m *manifest.Manifest, verbosity int, logFile string) {
	if verbosity < 0 {
		verbosity = m.Log.Verbosity
	}
	if logFile == "" {
		logFile = m.Resolve(m.Log.File)
	}
	if logFile == "" {
		commonlog.Configure(verbosity, nil)
		return
	}
	commonlog.Configure(verbosity, &logFile)
}
