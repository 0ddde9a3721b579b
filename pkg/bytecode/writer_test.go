package bytecode

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestWriterPushConstNarrowest(t *testing.T) {
	tests := []struct {
		v    int32
		want []byte
	}{
		{0, []byte{pc8, 0}},
		{-128, []byte{pc8, 0x80}},
		{127, []byte{pc8, 0x7F}},
		{128, []byte{pc16, 0x80, 0x00}},
		{-129, []byte{pc16, 0x7F, 0xFF}},
		{math.MaxInt16, []byte{pc16, 0xFF, 0x7F}},
		{math.MaxInt16 + 1, []byte{pc32, 0x00, 0x80, 0x00, 0x00}},
		{math.MinInt32, []byte{pc32, 0x00, 0x00, 0x00, 0x80}},
	}
	for _, tt := range tests {
		w := NewWriter(0)
		w.PushConst(tt.v)
		got, err := w.Bytes()
		if err != nil {
			t.Fatalf("Bytes failed: %v", err)
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("PushConst(%d) = % X, want % X", tt.v, got, tt.want)
		}
	}
}

func TestWriterAddressOperands(t *testing.T) {
	w := NewWriter(0)
	w.Push(0x1234)
	w.Pop(0x0008)
	w.Push8(0x0001)
	w.Pop8(0x0002)
	got, _ := w.Bytes()
	want := []byte{
		byte(OpPush), 0x34, 0x12,
		byte(OpPop), 0x08, 0x00,
		byte(OpPush8), 0x01, 0x00,
		byte(OpPop8), 0x02, 0x00,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("code = % X, want % X", got, want)
	}
}

func TestWriterLabels(t *testing.T) {
	w := NewWriter(0)
	w.PushConst(3)
	if err := w.Label("loop"); err != nil {
		t.Fatal(err)
	}
	w.Add8(-1)
	w.Emit(OpDup)
	w.JumpTo(OpJrnz, "loop")
	w.JumpTo(OpJr, "done")
	w.Emit(OpNoop)
	w.Label("done")
	w.Emit(OpHalt)

	code, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	want := []byte{pc8, 3, byte(OpAdd8), 0xFF, byte(OpDup), byte(OpJrnz), 0xFB, byte(OpJr), 1, byte(OpNoop), halt}
	if !bytes.Equal(code, want) {
		t.Fatalf("code = % X, want % X", code, want)
	}

	vm := newTestVM(t, DefaultConfig())
	loadCode(t, vm, code...)
	if _, err := vm.Run(0); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := stackValues(t, vm); !equalStack(got, []int32{0}) {
		t.Errorf("stack = %v, want [0]", got)
	}
}

func TestWriterPatchJump(t *testing.T) {
	w := NewWriter(0)
	w.PushConst(0)
	hole := w.EmitJump(OpJrz)
	w.PushConst(1)
	if err := w.PatchJump(hole); err != nil {
		t.Fatalf("PatchJump failed: %v", err)
	}
	w.Emit(OpHalt)
	code, _ := w.Bytes()
	if code[hole] != 2 {
		t.Errorf("offset = %d, want 2", int8(code[hole]))
	}
	if err := w.PatchJump(0); err == nil {
		t.Error("PatchJump on a non-jump should fail")
	}
}

func TestWriterJumpTooFar(t *testing.T) {
	w := NewWriter(0)
	w.JumpTo(OpJr, "far")
	w.Raw(make([]byte, 200)...)
	w.Label("far")
	if _, err := w.Bytes(); !errors.Is(err, ErrJumpTooFar) {
		t.Errorf("err = %v, want ErrJumpTooFar", err)
	}

	w = NewWriter(0)
	w.Label("back")
	w.Raw(make([]byte, 127)...)
	w.JumpTo(OpJr, "back")
	if _, err := w.Bytes(); !errors.Is(err, ErrJumpTooFar) {
		t.Errorf("backward: err = %v, want ErrJumpTooFar", err)
	}
}

func TestWriterLabelErrors(t *testing.T) {
	w := NewWriter(0)
	w.Label("a")
	if err := w.Label("a"); !errors.Is(err, ErrDuplicateLabel) {
		t.Errorf("err = %v, want ErrDuplicateLabel", err)
	}
	w.JumpTo(OpJr, "nowhere")
	if _, err := w.Bytes(); !errors.Is(err, ErrUndefinedLabel) {
		t.Errorf("err = %v, want ErrUndefinedLabel", err)
	}
}

func TestWriterImage(t *testing.T) {
	w := NewWriter(12)
	w.DefineVariable("r", 0, 1)
	w.Emit(OpNoop)
	start := w.Offset()
	w.Emit(OpHalt)
	if w.Addr() != 14 {
		t.Errorf("Addr() = %d, want 14", w.Addr())
	}
	img, err := w.Image("fx", start)
	if err != nil {
		t.Fatalf("Image failed: %v", err)
	}
	if img.Header.LoadAddress != 12 || img.Header.Entry != 13 || img.Header.Name != "fx" {
		t.Errorf("header = %+v", img.Header)
	}
	if len(img.Header.Variables) != 1 {
		t.Errorf("variables = %+v", img.Header.Variables)
	}
}
