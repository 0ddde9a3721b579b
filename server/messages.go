package server

// ControllerServiceName is the fully-qualified service name.
const ControllerServiceName = "rgbvm.v1.ControllerService"

// Procedure paths served by the controller.
const (
	ProcedureUpload   = "/" + ControllerServiceName + "/Upload"
	ProcedureSetVar   = "/" + ControllerServiceName + "/SetVar"
	ProcedureStatus   = "/" + ControllerServiceName + "/Status"
	ProcedureFrame    = "/" + ControllerServiceName + "/Frame"
	ProcedurePlay     = "/" + ControllerServiceName + "/Play"
	ProcedureCarousel = "/" + ControllerServiceName + "/Carousel"
	ProcedurePacket   = "/" + ControllerServiceName + "/Packet"
)

// UploadRequest loads an image onto the strip. With Save set the image is
// also stored under Name.
type UploadRequest struct {
	Name  string `cbor:"1,keyasint,omitempty"`
	Image []byte `cbor:"2,keyasint"`
	Save  bool   `cbor:"3,keyasint,omitempty"`
}

type UploadResponse struct {
	ID    string `cbor:"1,keyasint,omitempty"` // Store id when saved
	Bytes int    `cbor:"2,keyasint"`
	Entry uint16 `cbor:"3,keyasint"`
}

// SetVarRequest writes a program variable, by Name when given and by
// Location and Size otherwise.
type SetVarRequest struct {
	Name     string `cbor:"1,keyasint,omitempty"`
	Location uint16 `cbor:"2,keyasint,omitempty"`
	Size     uint8  `cbor:"3,keyasint,omitempty"`
	Value    int32  `cbor:"4,keyasint"`
}

type SetVarResponse struct{}

type StatusRequest struct{}

type StatusResponse struct {
	Program         string `cbor:"1,keyasint,omitempty"`
	Loaded          bool   `cbor:"2,keyasint"`
	LEDs            int    `cbor:"3,keyasint"`
	Frames          uint64 `cbor:"4,keyasint"`
	Instructions    uint64 `cbor:"5,keyasint"`
	RenderCalls     uint64 `cbor:"6,keyasint"`
	Faults          uint64 `cbor:"7,keyasint"`
	LastFault       string `cbor:"8,keyasint,omitempty"`
	Lines           int    `cbor:"9,keyasint"`
	Playing         string `cbor:"10,keyasint,omitempty"` // Stored effect on the strip
	CarouselSeconds int    `cbor:"11,keyasint"`
	UptimeMillis    int64  `cbor:"12,keyasint"`
}

type FrameRequest struct{}

// FrameResponse holds the current colors as packed r, g, b triplets.
type FrameResponse struct {
	Pixels []byte `cbor:"1,keyasint"`
}

// PlayRequest loads a stored effect by name.
type PlayRequest struct {
	Name string `cbor:"1,keyasint"`
}

type PlayResponse struct {
	ID string `cbor:"1,keyasint"`
}

// CarouselRequest cycles through the favorite effects every Seconds
// seconds. Values below the minimum stop the carousel.
type CarouselRequest struct {
	Seconds int `cbor:"1,keyasint"`
}

type CarouselResponse struct {
	Seconds int    `cbor:"1,keyasint"` // 0 when stopped
	Playing string `cbor:"2,keyasint,omitempty"`
}

// PacketRequest carries one raw serial packet.
type PacketRequest struct {
	Data []byte `cbor:"1,keyasint"`
}

type PacketResponse struct {
	Type string `cbor:"1,keyasint"`
}
