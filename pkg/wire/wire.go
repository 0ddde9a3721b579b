// Package wire implements the serial packet protocol spoken between the
// effect controller and an LED strip.
//
// Every packet is a type byte followed by a fixed or length-prefixed body.
// Multi-byte fields are big-endian, unlike the little-endian operands of
// the bytecode itself.
//
//	EnableLine (2): [r:1] [g:1] [b:1] [start:u16] [end:u16] [duration:u16]
//	Program    (5): [length:u16] [entry:u16] [code:length]
//	SetVar     (6): [location:u16] [size:1] [value:u32]
package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// PacketType is the leading byte of a packet.
type PacketType byte

const (
	TypeEnableLine PacketType = 2
	TypeProgram    PacketType = 5
	TypeSetVar     PacketType = 6
)

func (t PacketType) String() string {
	switch t {
	case TypeEnableLine:
		return "EnableLine"
	case TypeProgram:
		return "Program"
	case TypeSetVar:
		return "SetVar"
	default:
		return fmt.Sprintf("PacketType(%d)", byte(t))
	}
}

// MaxProgramSize is the largest code body a Program packet carries. The
// length travels as a signed 16-bit field.
const MaxProgramSize = math.MaxInt16

var (
	// ErrUnknownPacket is returned for an unrecognized type byte.
	ErrUnknownPacket = errors.New("unknown packet type")

	// ErrBadPacket is returned for packets with invalid field values.
	ErrBadPacket = errors.New("invalid packet")
)

// Packet is one protocol message.
type Packet interface {
	Type() PacketType
	// AppendTo appends the encoded packet, type byte included.
	AppendTo(buf []byte) ([]byte, error)
}

// EnableLine lights LEDs [Start, End) with a solid color for Duration
// seconds, on top of the running effect.
type EnableLine struct {
	R, G, B  uint8
	Start    uint16
	End      uint16
	Duration uint16
}

func (EnableLine) Type() PacketType { return TypeEnableLine }

func (p EnableLine) AppendTo(buf []byte) ([]byte, error) {
	if p.End < p.Start {
		return nil, fmt.Errorf("%w: line end %d before start %d", ErrBadPacket, p.End, p.Start)
	}
	buf = append(buf, byte(TypeEnableLine), p.R, p.G, p.B)
	buf = binary.BigEndian.AppendUint16(buf, p.Start)
	buf = binary.BigEndian.AppendUint16(buf, p.End)
	buf = binary.BigEndian.AppendUint16(buf, p.Duration)
	return buf, nil
}

// Program replaces the strip's program. Code is raw bytecode loaded at
// address 0 and entered at Entry.
type Program struct {
	Entry uint16
	Code  []byte
}

func (Program) Type() PacketType { return TypeProgram }

func (p Program) AppendTo(buf []byte) ([]byte, error) {
	if len(p.Code) > MaxProgramSize {
		return nil, fmt.Errorf("%w: program of %d bytes exceeds %d", ErrBadPacket, len(p.Code), MaxProgramSize)
	}
	buf = append(buf, byte(TypeProgram))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.Code)))
	buf = binary.BigEndian.AppendUint16(buf, p.Entry)
	return append(buf, p.Code...), nil
}

// SetVar writes Value to the program variable at Location. Size is 1 for
// byte variables and 4 for words; the value field is always four bytes.
type SetVar struct {
	Location uint16
	Size     uint8
	Value    uint32
}

func (SetVar) Type() PacketType { return TypeSetVar }

func (p SetVar) AppendTo(buf []byte) ([]byte, error) {
	if p.Size != 1 && p.Size != 4 {
		return nil, fmt.Errorf("%w: variable size %d", ErrBadPacket, p.Size)
	}
	buf = append(buf, byte(TypeSetVar))
	buf = binary.BigEndian.AppendUint16(buf, p.Location)
	buf = append(buf, p.Size)
	buf = binary.BigEndian.AppendUint32(buf, p.Value)
	return buf, nil
}

// Marshal encodes a packet.
func Marshal(p Packet) ([]byte, error) {
	return p.AppendTo(nil)
}

// Unmarshal decodes exactly one packet from data.
func Unmarshal(data []byte) (Packet, error) {
	d := NewDecoder(bytes.NewReader(data))
	p, err := d.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if _, err := d.r.Peek(1); err == nil {
		return nil, fmt.Errorf("%w: trailing bytes after %s", ErrBadPacket, p.Type())
	}
	return p, nil
}

// Encoder writes packets to a stream.
type Encoder struct {
	w   io.Writer
	buf []byte
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one packet.
func (e *Encoder) Encode(p Packet) error {
	buf, err := p.AppendTo(e.buf[:0])
	if err != nil {
		return err
	}
	e.buf = buf
	if _, err := e.w.Write(buf); err != nil {
		return fmt.Errorf("writing %s packet: %w", p.Type(), err)
	}
	return nil
}

// Decoder reads packets from a stream.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next reads one packet. It returns io.EOF at a clean end of stream and
// io.ErrUnexpectedEOF when a packet is cut short. After ErrUnknownPacket
// the offending type byte has been consumed and decoding may continue.
func (d *Decoder) Next() (Packet, error) {
	t, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}

	switch PacketType(t) {
	case TypeEnableLine:
		var body [9]byte
		if err := d.read(body[:]); err != nil {
			return nil, err
		}
		p := EnableLine{
			R:        body[0],
			G:        body[1],
			B:        body[2],
			Start:    binary.BigEndian.Uint16(body[3:5]),
			End:      binary.BigEndian.Uint16(body[5:7]),
			Duration: binary.BigEndian.Uint16(body[7:9]),
		}
		if p.End < p.Start {
			return nil, fmt.Errorf("%w: line end %d before start %d", ErrBadPacket, p.End, p.Start)
		}
		return p, nil

	case TypeProgram:
		var head [4]byte
		if err := d.read(head[:]); err != nil {
			return nil, err
		}
		n := binary.BigEndian.Uint16(head[0:2])
		if n > MaxProgramSize {
			return nil, fmt.Errorf("%w: program length %d", ErrBadPacket, n)
		}
		code := make([]byte, n)
		if err := d.read(code); err != nil {
			return nil, err
		}
		return Program{Entry: binary.BigEndian.Uint16(head[2:4]), Code: code}, nil

	case TypeSetVar:
		var body [7]byte
		if err := d.read(body[:]); err != nil {
			return nil, err
		}
		p := SetVar{
			Location: binary.BigEndian.Uint16(body[0:2]),
			Size:     body[2],
			Value:    binary.BigEndian.Uint32(body[3:7]),
		}
		if p.Size != 1 && p.Size != 4 {
			return nil, fmt.Errorf("%w: variable size %d", ErrBadPacket, p.Size)
		}
		return p, nil

	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownPacket, t)
	}
}

func (d *Decoder) read(buf []byte) error {
	if _, err := io.ReadFull(d.r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}
