package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// GRPCClient calls a ControllerService through grpc-go over cleartext
// HTTP/2. Messages use the same CBOR codec as the server.
type GRPCClient struct {
	conn *grpc.ClientConn
}

// DialGRPC creates a client for target ("host:port"). The connection is
// established lazily on the first call.
func DialGRPC(target string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(cborCodec{})),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &GRPCClient{conn: conn}, nil
}

// Close tears down the connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func invoke[Res any](ctx context.Context, conn *grpc.ClientConn, procedure string, req any) (*Res, error) {
	res := new(Res)
	if err := conn.Invoke(ctx, procedure, req, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *GRPCClient) Upload(ctx context.Context, req *UploadRequest) (*UploadResponse, error) {
	return invoke[UploadResponse](ctx, c.conn, ProcedureUpload, req)
}

func (c *GRPCClient) SetVar(ctx context.Context, req *SetVarRequest) (*SetVarResponse, error) {
	return invoke[SetVarResponse](ctx, c.conn, ProcedureSetVar, req)
}

func (c *GRPCClient) Status(ctx context.Context) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.conn, ProcedureStatus, &StatusRequest{})
}

func (c *GRPCClient) Frame(ctx context.Context) (*FrameResponse, error) {
	return invoke[FrameResponse](ctx, c.conn, ProcedureFrame, &FrameRequest{})
}

func (c *GRPCClient) Play(ctx context.Context, name string) (*PlayResponse, error) {
	return invoke[PlayResponse](ctx, c.conn, ProcedurePlay, &PlayRequest{Name: name})
}

func (c *GRPCClient) Carousel(ctx context.Context, seconds int) (*CarouselResponse, error) {
	return invoke[CarouselResponse](ctx, c.conn, ProcedureCarousel, &CarouselRequest{Seconds: seconds})
}

func (c *GRPCClient) Packet(ctx context.Context, data []byte) (*PacketResponse, error) {
	return invoke[PacketResponse](ctx, c.conn, ProcedurePacket, &PacketRequest{Data: data})
}

// Controls is the call surface shared by Client and GRPCClient.
type Controls interface {
	Upload(ctx context.Context, req *UploadRequest) (*UploadResponse, error)
	SetVar(ctx context.Context, req *SetVarRequest) (*SetVarResponse, error)
	Status(ctx context.Context) (*StatusResponse, error)
	Frame(ctx context.Context) (*FrameResponse, error)
	Play(ctx context.Context, name string) (*PlayResponse, error)
	Carousel(ctx context.Context, seconds int) (*CarouselResponse, error)
	Packet(ctx context.Context, data []byte) (*PacketResponse, error)
}

var (
	_ Controls = (*Client)(nil)
	_ Controls = (*GRPCClient)(nil)
)
