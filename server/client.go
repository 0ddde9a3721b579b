package server

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls a ControllerService.
type Client struct {
	upload   *connect.Client[UploadRequest, UploadResponse]
	setVar   *connect.Client[SetVarRequest, SetVarResponse]
	status   *connect.Client[StatusRequest, StatusResponse]
	frame    *connect.Client[FrameRequest, FrameResponse]
	play     *connect.Client[PlayRequest, PlayResponse]
	carousel *connect.Client[CarouselRequest, CarouselResponse]
	packet   *connect.Client[PacketRequest, PacketResponse]
}

// NewClient creates a client for the service at baseURL, for example
// "http://localhost:4567". Pass connect.WithGRPC() to use the gRPC
// protocol.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(cborCodec{})}, opts...)
	return &Client{
		upload:   connect.NewClient[UploadRequest, UploadResponse](httpClient, baseURL+ProcedureUpload, opts...),
		setVar:   connect.NewClient[SetVarRequest, SetVarResponse](httpClient, baseURL+ProcedureSetVar, opts...),
		status:   connect.NewClient[StatusRequest, StatusResponse](httpClient, baseURL+ProcedureStatus, opts...),
		frame:    connect.NewClient[FrameRequest, FrameResponse](httpClient, baseURL+ProcedureFrame, opts...),
		play:     connect.NewClient[PlayRequest, PlayResponse](httpClient, baseURL+ProcedurePlay, opts...),
		carousel: connect.NewClient[CarouselRequest, CarouselResponse](httpClient, baseURL+ProcedureCarousel, opts...),
		packet:   connect.NewClient[PacketRequest, PacketResponse](httpClient, baseURL+ProcedurePacket, opts...),
	}
}

func call[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], req *Req) (*Res, error) {
	res, err := c.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

// Upload loads an image onto the strip.
func (c *Client) Upload(ctx context.Context, req *UploadRequest) (*UploadResponse, error) {
	return call(ctx, c.upload, req)
}

// SetVar pokes a program variable.
func (c *Client) SetVar(ctx context.Context, req *SetVarRequest) (*SetVarResponse, error) {
	return call(ctx, c.setVar, req)
}

// Status reports the strip's activity.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	return call(ctx, c.status, &StatusRequest{})
}

// Frame returns the current colors as r, g, b triplets.
func (c *Client) Frame(ctx context.Context) (*FrameResponse, error) {
	return call(ctx, c.frame, &FrameRequest{})
}

// Play loads a stored effect.
func (c *Client) Play(ctx context.Context, name string) (*PlayResponse, error) {
	return call(ctx, c.play, &PlayRequest{Name: name})
}

// Carousel starts the carousel, or stops it when seconds is below the
// minimum.
func (c *Client) Carousel(ctx context.Context, seconds int) (*CarouselResponse, error) {
	return call(ctx, c.carousel, &CarouselRequest{Seconds: seconds})
}

// Packet sends one raw serial packet.
func (c *Client) Packet(ctx context.Context, data []byte) (*PacketResponse, error) {
	return call(ctx, c.packet, &PacketRequest{Data: data})
}
