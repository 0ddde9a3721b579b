package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/rgbvm/manifest"
	"github.com/chazu/rgbvm/pkg/bytecode"
	"github.com/chazu/rgbvm/store"
)

const storeSource = `
.name "seven"
.var out 16
.load 0x20
.entry start
start:
    pushconst 7
    pop out
    halt
`

const divideSource = `
    pushconst 1
    pushconst 0
    div
    halt
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{":4567", "http://localhost:4567"},
		{"10.0.0.2:80", "http://10.0.0.2:80"},
		{"http://strip.local:4567", "http://strip.local:4567"},
		{"https://strip.example", "https://strip.example"},
	}
	for _, tt := range tests {
		if got := baseURL(tt.addr); got != tt.want {
			t.Errorf("baseURL(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestGRPCTarget(t *testing.T) {
	if got := grpcTarget("http://localhost:4567/"); got != "localhost:4567" {
		t.Errorf("grpcTarget = %q", got)
	}
}

func TestAsmThenRun(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "seven.asm", storeSource)

	if err := handleAsmCommand([]string{src}); err != nil {
		t.Fatalf("asm: %v", err)
	}
	out := filepath.Join(dir, "seven.rgbc")
	img, err := readImage(out)
	if err != nil {
		t.Fatalf("readImage: %v", err)
	}
	if img.Raw || img.Header.Name != "seven" || img.Entry() != 0x20 {
		t.Errorf("header = %+v raw=%v", img.Header, img.Raw)
	}

	if err := handleRunCommand([]string{"-q", out}, manifest.Default()); err != nil {
		t.Errorf("run: %v", err)
	}
	if err := handleDisasmCommand([]string{out}); err != nil {
		t.Errorf("disasm: %v", err)
	}
}

func TestAsmRaw(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "div.s", divideSource)
	out := filepath.Join(dir, "div.code")

	if err := handleAsmCommand([]string{"-raw", "-o", out, src}); err != nil {
		t.Fatalf("asm: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.HasPrefix(data, bytecode.ImageMagic) {
		t.Errorf("raw output carries a header: % X", data)
	}
}

func TestRunExitCode(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "div.asm", divideSource)

	err := handleRunCommand([]string{"-q", src}, manifest.Default())
	var exit *exitError
	if !errors.As(err, &exit) {
		t.Fatalf("err = %v, want exitError", err)
	}
	if want := bytecode.FaultDivisionByZero.Code(); exit.code != want {
		t.Errorf("exit code = %d, want %d", exit.code, want)
	}
}

func TestRunLimit(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "spin.asm", "loop:\n    jr loop\n")

	err := handleRunCommand([]string{"-q", "-limit", "100", src}, manifest.Default())
	if err == nil || !strings.Contains(err.Error(), "gave up after") {
		t.Errorf("err = %v, want step limit error", err)
	}
}

func TestDumpMemory(t *testing.T) {
	mem := bytecode.NewMemory(64)
	if err := mem.WriteWord(4, 4, -2); err != nil {
		t.Fatal(err)
	}
	if err := mem.WriteWord(60, 4, 99); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	dumpMemory(&buf, mem, 64)
	out := buf.String()
	for _, want := range []string{
		"---- relevant memory ----\n",
		"value at 4: -2\n",
		"value at 24: 0\n",
		"value at 3c: 99\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "value at 40:") {
		t.Errorf("dump reads past capacity:\n%s", out)
	}
}

func TestEffectsCommand(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "seven.asm", storeSource)
	m := manifest.Default()
	m.Store.Path = filepath.Join(dir, "effects.db")

	steps := [][]string{
		{"add", "seven", src},
		{"fav", "seven"},
		{"list"},
		{"show", "seven"},
		{"unfav", "seven"},
		{"rm", "seven"},
	}
	for _, args := range steps {
		if err := handleEffectsCommand(args, m); err != nil {
			t.Fatalf("effects %v: %v", args, err)
		}
	}

	if err := handleEffectsCommand([]string{"rm", "seven"}, m); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second rm = %v, want ErrNotFound", err)
	}
	if err := handleEffectsCommand([]string{"bogus"}, m); err == nil {
		t.Error("unknown subcommand accepted")
	}
}
