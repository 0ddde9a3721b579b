package bytecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ImageVersion is the current image format version.
// Increment when making incompatible changes to the format.
const ImageVersion uint16 = 1

// ImageMagic prefixes headered images: "RGBC" (RGB Code).
var ImageMagic = []byte{'R', 'G', 'B', 'C'}

// imageFixedLen is magic + version + metadata length.
const imageFixedLen = 4 + 2 + 4

// ErrBadImage is returned for truncated or malformed images.
var ErrBadImage = errors.New("malformed image")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Variable names a program variable the host may read or poke.
type Variable struct {
	Name    string `cbor:"1,keyasint"`
	Address uint16 `cbor:"2,keyasint"`
	Size    uint8  `cbor:"3,keyasint"` // 1 for bytes, otherwise the value width
}

// ImageHeader is the metadata carried by a headered image.
type ImageHeader struct {
	Version     uint16     `cbor:"-"`
	Name        string     `cbor:"1,keyasint,omitempty"`
	Entry       uint16     `cbor:"2,keyasint"`           // Absolute address of the first instruction
	LoadAddress uint16     `cbor:"3,keyasint"`           // Where Code is copied
	ValueWidth  uint8      `cbor:"4,keyasint,omitempty"` // 0 means the machine default
	StackTop    uint32     `cbor:"5,keyasint,omitempty"` // 0 means the machine default
	Variables   []Variable `cbor:"6,keyasint,omitempty"`
}

// Image is a loadable program.
//
// The canonical form is headerless code with the entry point supplied out
// of band. The headered form is:
//
//	[magic:4 "RGBC"] [version:u16 LE] [meta_len:u32 LE] [meta:CBOR] [code...]
type Image struct {
	Header ImageHeader
	Code   []byte
	Raw    bool // true when parsed from headerless bytes
}

// NewImage wraps code loaded and entered at address 0.
func NewImage(code []byte) *Image {
	return &Image{
		Header: ImageHeader{Version: ImageVersion},
		Code:   code,
	}
}

// ParseImage decodes a headered image, or treats data as raw code when it
// does not start with ImageMagic.
func ParseImage(data []byte) (*Image, error) {
	if !bytes.HasPrefix(data, ImageMagic) {
		return ParseRaw(data), nil
	}
	if len(data) < imageFixedLen {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d", ErrBadImage, imageFixedLen, len(data))
	}

	img := &Image{}
	img.Header.Version = binary.LittleEndian.Uint16(data[4:6])
	if img.Header.Version == 0 || img.Header.Version > ImageVersion {
		return nil, fmt.Errorf("%w: image version %d is not supported (max %d)", ErrBadImage, img.Header.Version, ImageVersion)
	}

	metaLen := binary.LittleEndian.Uint32(data[6:10])
	pos := imageFixedLen
	if uint64(pos)+uint64(metaLen) > uint64(len(data)) {
		return nil, fmt.Errorf("%w: metadata needs %d bytes at pos %d", ErrBadImage, metaLen, pos)
	}
	version := img.Header.Version
	if err := cbor.Unmarshal(data[pos:pos+int(metaLen)], &img.Header); err != nil {
		return nil, fmt.Errorf("%w: metadata: %w", ErrBadImage, err)
	}
	img.Header.Version = version
	pos += int(metaLen)

	img.Code = make([]byte, len(data)-pos)
	copy(img.Code, data[pos:])
	return img, nil
}

// ParseRaw wraps headerless code.
func ParseRaw(data []byte) *Image {
	img := NewImage(append([]byte(nil), data...))
	img.Raw = true
	return img
}

// Marshal encodes the headered form.
func (img *Image) Marshal() ([]byte, error) {
	meta, err := cborEncMode.Marshal(&img.Header)
	if err != nil {
		return nil, fmt.Errorf("encoding image metadata: %w", err)
	}
	buf := make([]byte, 0, imageFixedLen+len(meta)+len(img.Code))
	buf = append(buf, ImageMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, ImageVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(meta)))
	buf = append(buf, meta...)
	buf = append(buf, img.Code...)
	return buf, nil
}

// Entry returns the absolute entry address.
func (img *Image) Entry() int {
	return int(img.Header.Entry)
}

// LoadInto copies the code into mem at the load address.
func (img *Image) LoadInto(mem *Memory) error {
	if err := mem.Load(int(img.Header.LoadAddress), img.Code); err != nil {
		return fmt.Errorf("loading %d bytes at 0x%04X: %w", len(img.Code), img.Header.LoadAddress, err)
	}
	return nil
}

// Variable looks up a variable by name.
func (img *Image) Variable(name string) (Variable, bool) {
	for _, v := range img.Header.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

// Configure overlays the header's machine settings onto base.
func (img *Image) Configure(base Config) Config {
	if img.Header.ValueWidth != 0 {
		base.ValueWidth = int(img.Header.ValueWidth)
	}
	if img.Header.StackTop != 0 {
		base.StackTop = int(img.Header.StackTop)
	}
	return base
}
