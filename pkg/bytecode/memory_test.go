package bytecode

import (
	"bytes"
	"errors"
	"testing"
)

func TestMemoryWordsAreLittleEndian(t *testing.T) {
	m := NewMemory(16)
	if err := m.WriteWord(0, Width32, 0x12345678); err != nil {
		t.Fatalf("WriteWord failed: %v", err)
	}
	got, _ := m.Slice(0, 4)
	if !bytes.Equal(got, []byte{0x78, 0x56, 0x34, 0x12}) {
		t.Errorf("bytes = % X, want 78 56 34 12", got)
	}
	v, err := m.ReadWord(0, Width16)
	if err != nil {
		t.Fatalf("ReadWord failed: %v", err)
	}
	if v != 0x5678 {
		t.Errorf("ReadWord(0, 2) = 0x%X, want 0x5678", v)
	}
}

func TestMemorySignExtension(t *testing.T) {
	tests := []struct {
		width int
		data  []byte
		word  int32
		uint  uint32
	}{
		{Width8, []byte{0x80}, -128, 0x80},
		{Width8, []byte{0x7F}, 127, 0x7F},
		{Width16, []byte{0xFF, 0xFF}, -1, 0xFFFF},
		{Width16, []byte{0x00, 0x80}, -32768, 0x8000},
		{Width32, []byte{0xFE, 0xFF, 0xFF, 0xFF}, -2, 0xFFFFFFFE},
	}

	for _, tt := range tests {
		m := NewMemory(8)
		m.Load(2, tt.data)
		v, err := m.ReadWord(2, tt.width)
		if err != nil {
			t.Fatalf("ReadWord failed: %v", err)
		}
		if v != tt.word {
			t.Errorf("ReadWord(% X) = %d, want %d", tt.data, v, tt.word)
		}
		u, _ := m.ReadUint(2, tt.width)
		if u != tt.uint {
			t.Errorf("ReadUint(% X) = 0x%X, want 0x%X", tt.data, u, tt.uint)
		}
	}
}

func TestMemoryWriteTruncates(t *testing.T) {
	m := NewMemory(4)
	m.WriteWord(0, Width8, 0x1FF)
	m.WriteWord(1, Width16, -1)
	got := m.Bytes()
	if !bytes.Equal(got, []byte{0xFF, 0xFF, 0xFF, 0x00}) {
		t.Errorf("bytes = % X", got)
	}
}

func TestMemoryBounds(t *testing.T) {
	m := NewMemory(8)
	tests := []struct {
		name string
		fn   func() error
	}{
		{"read byte past end", func() error { _, err := m.ReadByteAt(8); return err }},
		{"read byte negative", func() error { _, err := m.ReadByteAt(-1); return err }},
		{"write byte past end", func() error { return m.WriteByteAt(8, 1) }},
		{"word straddles end", func() error { _, err := m.ReadWord(6, Width32); return err }},
		{"write word straddles end", func() error { return m.WriteWord(7, Width16, 1) }},
		{"load too long", func() error { return m.Load(4, make([]byte, 5)) }},
		{"slice too long", func() error { _, err := m.Slice(0, 9); return err }},
	}
	for _, tt := range tests {
		if err := tt.fn(); !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("%s: err = %v, want ErrOutOfBounds", tt.name, err)
		}
	}

	if _, err := m.ReadWord(4, Width32); err != nil {
		t.Errorf("last word in range: %v", err)
	}
	if _, err := m.ReadWord(0, 3); !errors.Is(err, ErrBadWidth) {
		t.Errorf("width 3: err = %v, want ErrBadWidth", err)
	}
}

func TestMemoryReset(t *testing.T) {
	m := NewMemory(4)
	m.Load(0, []byte{1, 2, 3, 4})
	snapshot, _ := m.Slice(0, 4)
	m.Reset()
	if !bytes.Equal(m.Bytes(), make([]byte, 4)) {
		t.Errorf("after Reset bytes = % X", m.Bytes())
	}
	if !bytes.Equal(snapshot, []byte{1, 2, 3, 4}) {
		t.Error("Slice should return a copy")
	}
	if m.Capacity() != 4 {
		t.Errorf("Capacity() = %d", m.Capacity())
	}
}
