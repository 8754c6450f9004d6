package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/geomag/apex"
	"github.com/signalsfoundry/geomag/internal/logging"
	"github.com/signalsfoundry/geomag/synth"
)

// Client is a typed FieldService client. Errors from the server are gRPC
// status errors; inspect them with status.Code.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial opens a plaintext connection to target. Further options are appended
// after the insecure transport credentials.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	return grpc.NewClient(target, opts...)
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	if id := logging.RequestIDFromContext(ctx); id != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, requestIDMetadataKey, id)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Synthesize evaluates req on the server.
func (c *Client) Synthesize(ctx context.Context, req synth.Request) (FieldResult, error) {
	in, err := SynthesizeRequestToStruct(req)
	if err != nil {
		return FieldResult{}, err
	}
	out, err := c.invoke(ctx, MethodSynthesize, in)
	if err != nil {
		return FieldResult{}, err
	}
	return FieldResultFromStruct(out)
}

// FindApex traces a field line on the server.
func (c *Client) FindApex(ctx context.Context, req ApexRequest) (apex.Trace, error) {
	in, err := ApexRequestToStruct(req)
	if err != nil {
		return apex.Trace{}, err
	}
	out, err := c.invoke(ctx, MethodFindApex, in)
	if err != nil {
		return apex.Trace{}, err
	}
	return TraceFromStruct(out)
}

// LocateNorthPole returns the dipole north pole at epoch in degrees.
func (c *Client) LocateNorthPole(ctx context.Context, epoch float64) (lat, lon float64, err error) {
	in, err := PoleRequestToStruct(epoch)
	if err != nil {
		return 0, 0, err
	}
	out, err := c.invoke(ctx, MethodLocateNorthPole, in)
	if err != nil {
		return 0, 0, err
	}
	return PoleFromStruct(out)
}

// Info fetches the server's model summary.
func (c *Client) Info(ctx context.Context) (ModelInfo, error) {
	out, err := c.invoke(ctx, MethodInfo, &structpb.Struct{})
	if err != nil {
		return ModelInfo{}, err
	}
	return ModelInfoFromStruct(out)
}
