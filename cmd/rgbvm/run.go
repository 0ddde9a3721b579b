package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/chazu/rgbvm/manifest"
	"github.com/chazu/rgbvm/pkg/bytecode"
	"github.com/chazu/rgbvm/pkg/host"
)

// readImage loads an image file. Assembly sources (.asm, .s) are
// assembled; anything else is parsed as a headered or raw image.
func readImage(path string) (*bytecode.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".asm", ".s":
		img, err := bytecode.Assemble(string(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return img, nil
	}
	img, err := bytecode.ParseImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// programImage resolves the image named on the command line, or the one
// in [program], and applies the manifest's entry override.
func programImage(args []string, m *manifest.Manifest) (*bytecode.Image, error) {
	path := m.ImagePath()
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return nil, errors.New("no image given and no [program] image configured")
	}
	img, err := readImage(path)
	if err != nil {
		return nil, err
	}
	if m.Program.Entry != nil {
		img.Header.Entry = uint16(*m.Program.Entry)
	}
	return img, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// handleRunCommand processes `rgbvm run`: execute an image once, from its
// entry point to Halt or a fault, then print the interesting memory.
// Usage:
//
//	rgbvm run program.bin
//	rgbvm run -entry 12 -budget 1000 -limit 100000 effect.rgbc
func handleRunCommand(args []string, m *manifest.Manifest) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	entry := fs.Int("entry", -1, "Entry address (default from the image)")
	budget := fs.Uint64("budget", m.Machine.StepBudget, "Instructions per slice; 0 runs to completion")
	limit := fs.Uint64("limit", 0, "Give up after this many instructions; 0 means no limit")
	trace := fs.Bool("trace", m.Machine.Trace, "Log every instruction at debug level")
	quiet := fs.Bool("q", false, "Skip the memory dump")
	fs.Parse(args)

	img, err := programImage(fs.Args(), m)
	if err != nil {
		return err
	}
	if *entry >= 0 {
		img.Header.Entry = uint16(*entry)
	}

	cfg := img.Configure(m.Machine.Config())
	cfg.StepBudget = *budget
	if *limit > 0 && (cfg.StepBudget == 0 || cfg.StepBudget > *limit) {
		cfg.StepBudget = *limit
	}
	cfg.Trace = *trace

	vm, err := bytecode.New(cfg,
		bytecode.WithCallHandler(host.Builtins(host.BuiltinOptions{Layout: m.LEDs.HostLayout()})),
		bytecode.WithOutput(bytecode.WriterSink{W: os.Stdout}),
	)
	if err != nil {
		return err
	}
	if err := vm.LoadImage(img); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	start := time.Now()
	res, err := vm.RunContext(ctx, img.Entry())
	for err == nil && res.Status == bytecode.StatusYielded {
		if *limit > 0 && res.State.Executed >= *limit {
			return fmt.Errorf("gave up after %d instructions at ip=0x%04X", res.State.Executed, res.State.IP)
		}
		res, err = vm.ResumeContext(ctx)
	}
	if err != nil && res.Fault == nil {
		return err
	}

	fmt.Printf("done, took about %.3f seconds (%d instructions)\n", time.Since(start).Seconds(), res.State.Executed)
	code := 0
	if res.Fault != nil {
		code = res.Fault.Kind.Code()
		fmt.Fprintf(os.Stderr, "fault: %s\n", res.Fault)
		fmt.Printf("program exited with non-zero exit code %d\n", code)
	}
	if !*quiet {
		dumpMemory(os.Stdout, vm.Memory(), cfg.StackTop)
	}
	if code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// dumpMemory prints the low variable words and the top of the stack as
// 32-bit values.
func dumpMemory(w io.Writer, mem *bytecode.Memory, stackTop int) {
	fmt.Fprintln(w, "---- relevant memory ----")
	for addr := 0; addr < 40; addr += 4 {
		dumpWord(w, mem, addr)
	}
	if stackTop <= 0 || stackTop > mem.Capacity() {
		stackTop = mem.Capacity()
	}
	for addr := max(40, stackTop-16); addr+4 <= stackTop; addr += 4 {
		dumpWord(w, mem, addr)
	}
}

func dumpWord(w io.Writer, mem *bytecode.Memory, addr int) {
	v, err := mem.ReadWord(addr, 4)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "value at %x: %d\n", addr, v)
}

// handleDisasmCommand processes `rgbvm disasm image`.
func handleDisasmCommand(args []string) error {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: rgbvm disasm <image>")
	}
	path := fs.Arg(0)
	img, err := readImage(path)
	if err != nil {
		return err
	}
	name := img.Header.Name
	if name == "" {
		name = filepath.Base(path)
	}
	fmt.Print(bytecode.DisassembleWithName(name, img))
	return nil
}

// handleAsmCommand processes `rgbvm asm`: assemble a source file into a
// headered image, or raw code with -raw.
// Usage:
//
//	rgbvm asm rainbow.asm            # rainbow.rgbc
//	rgbvm asm -raw -o out.bin x.asm
func handleAsmCommand(args []string) error {
	fs := flag.NewFlagSet("asm", flag.ExitOnError)
	out := fs.String("o", "", "Output path (default: source with .rgbc, or .bin with -raw)")
	raw := fs.Bool("raw", false, "Write headerless code")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: rgbvm asm [-o out] [-raw] <source>")
	}

	src := fs.Arg(0)
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	img, err := bytecode.Assemble(string(data))
	if err != nil {
		return fmt.Errorf("%s: %w", src, err)
	}

	var encoded []byte
	ext := ".rgbc"
	if *raw {
		if img.Header.LoadAddress != 0 || img.Header.Entry != 0 {
			fmt.Fprintf(os.Stderr, "warning: raw output drops load address 0x%04X and entry 0x%04X\n",
				img.Header.LoadAddress, img.Header.Entry)
		}
		encoded, ext = img.Code, ".bin"
	} else if encoded, err = img.Marshal(); err != nil {
		return err
	}

	path := *out
	if path == "" {
		path = strings.TrimSuffix(src, filepath.Ext(src)) + ext
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return err
	}
	fmt.Printf("%s: %d bytes of code, entry 0x%04X\n", path, len(img.Code), img.Entry())
	return nil
}
