package server

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CodecName is the Connect codec name; requests travel as application/cbor
// (Connect) or application/grpc+cbor (gRPC).
const CodecName = "cbor"

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("server: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// cborCodec carries the controller messages, which are plain Go structs
// rather than protobuf messages.
type cborCodec struct{}

func (cborCodec) Name() string { return CodecName }

func (cborCodec) Marshal(v any) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

func (cborCodec) Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}
