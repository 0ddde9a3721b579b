package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/rgbvm/pkg/bytecode"
	"github.com/chazu/rgbvm/pkg/host"
)

func TestLoadManifest(t *testing.T) {
	// Create a temporary directory with an rgbvm.toml
	dir := t.TempDir()
	tomlContent := `
[machine]
capacity = 4096
value-width = 2
stack-floor = 0
step-budget = 10000
trace = true

[program]
image = "effects/rainbow.rgbc"
entry = 12

[leds]
count = 144
render-call = 9
frame-rate = 60

[leds.layout]
r = 0x10
g = 0x11
b = 0x12
index = 0x14
timer = 0x16
entry = 0x20

[store]
path = "/var/lib/rgbvm/effects.db"

[server]
addr = "127.0.0.1:9000"
carousel-seconds = 10

[log]
verbosity = 2
file = "rgbvm.log"
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Machine.Config()
	want := bytecode.Config{Capacity: 4096, ValueWidth: 2, StackFloor: 0, StackTop: 4096, StepBudget: 10000, Trace: true}
	if cfg != want {
		t.Errorf("machine config = %+v, want %+v", cfg, want)
	}
	if m.Program.Entry == nil || *m.Program.Entry != 12 {
		t.Errorf("program entry = %v, want 12", m.Program.Entry)
	}
	if got := m.ImagePath(); got != filepath.Join(m.Dir, "effects", "rainbow.rgbc") {
		t.Errorf("image path = %q", got)
	}
	if m.LEDs.Count != 144 || *m.LEDs.RenderCall != 9 || m.LEDs.FrameRate != 60 {
		t.Errorf("leds = %+v", m.LEDs)
	}
	if l := m.LEDs.HostLayout(); l != (host.Layout{R: 0x10, G: 0x11, B: 0x12, Index: 0x14, Timer: 0x16, Entry: 0x20}) {
		t.Errorf("layout = %+v", l)
	}
	if m.StorePath() != "/var/lib/rgbvm/effects.db" {
		t.Errorf("store path = %q", m.StorePath())
	}
	if m.Server.Addr != "127.0.0.1:9000" || m.Server.CarouselSeconds != 10 {
		t.Errorf("server = %+v", m.Server)
	}
	if m.Log.Verbosity != 2 || m.Log.File != "rgbvm.log" {
		t.Errorf("log = %+v", m.Log)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("[leds]\ncount = 10\n"), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg := m.Machine.Config(); cfg != bytecode.DefaultConfig() {
		t.Errorf("machine config = %+v, want defaults", cfg)
	}
	if m.LEDs.Count != 10 || m.LEDs.RenderCall != nil || m.LEDs.FrameRate != 30 {
		t.Errorf("leds = %+v", m.LEDs)
	}
	if m.LEDs.HostLayout() != host.DefaultLayout {
		t.Errorf("layout = %+v", m.LEDs.HostLayout())
	}
	if m.StorePath() != filepath.Join(m.Dir, ".rgbvm", "effects.db") {
		t.Errorf("store path = %q", m.StorePath())
	}
	if m.Server.Addr != ":4567" || m.Server.CarouselSeconds != 0 {
		t.Errorf("server = %+v", m.Server)
	}
	if m.ImagePath() != "" {
		t.Errorf("image path = %q, want empty", m.ImagePath())
	}
}

func TestDefault(t *testing.T) {
	m := Default()
	if m.Machine.Config() != bytecode.DefaultConfig() {
		t.Errorf("machine = %+v", m.Machine.Config())
	}
	if m.LEDs.Count != host.DefaultLEDCount {
		t.Errorf("count = %d", m.LEDs.Count)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"bad width", "[machine]\nvalue-width = 3"},
		{"top past capacity", "[machine]\ncapacity = 100\nstack-top = 200"},
		{"floor above top", "[machine]\ncapacity = 100\nstack-floor = 200"},
		{"short carousel", "[server]\ncarousel-seconds = 2"},
		{"render call range", "[leds]\nrender-call = 300"},
		{"negative leds", "[leds]\ncount = -1"},
		{"unknown key", "[machine]\nspeed = 3"},
	}
	for _, tt := range tests {
		if _, err := Parse([]byte(tt.toml)); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: err = %v, want ErrInvalid", tt.name, err)
		}
	}

	if _, err := Parse([]byte("[machine\n")); err == nil {
		t.Error("malformed toml accepted")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, FileName), []byte("[leds]\ncount = 7\n"), 0644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil || m.LEDs.Count != 7 {
		t.Fatalf("manifest = %+v", m)
	}
	abs, _ := filepath.Abs(root)
	if m.Dir != abs {
		t.Errorf("dir = %q, want %q", m.Dir, abs)
	}
}

func TestFindAndLoadMissing(t *testing.T) {
	// t.TempDir lives under the system temp dir, which should hold no
	// rgbvm.toml of its own.
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m != nil {
		t.Errorf("found unexpected manifest in %s", m.Dir)
	}
}
