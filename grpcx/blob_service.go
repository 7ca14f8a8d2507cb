package grpcx

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"sila-rpc/blob"
)

// BlobServer exposes finished blobs of a blob.Store over gRPC. Well-known wrapper
// types keep it free of generated code.
type BlobServer interface {
	// Size reports the byte count of a blob.
	Size(context.Context, *wrapperspb.StringValue) (*wrapperspb.Int64Value, error)
	// Fetch streams a blob in chunks.
	Fetch(*wrapperspb.StringValue, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
}

const (
	blobServiceName = "sila.binarytransfer.v1.Blob"
	blobSizeMethod  = "/" + blobServiceName + "/Size"
	blobFetchMethod = "/" + blobServiceName + "/Fetch"
)

// StoreServer serves a blob.Store. Store errors leave as SiLA defined execution errors;
// install UnaryServerInterceptor and StreamServerInterceptor to encode them.
type StoreServer struct {
	Store *blob.Store
	// ChunkSize bounds one Fetch message; zero uses the store's chunk ceiling.
	ChunkSize int
}

func (s *StoreServer) Size(_ context.Context, id *wrapperspb.StringValue) (*wrapperspb.Int64Value, error) {
	info, err := s.Store.Info(id.GetValue())
	if err == nil && !info.Complete {
		_, err = s.Store.Resolve(id.GetValue())
	}
	if err != nil {
		return nil, blob.ToSila(err)
	}
	return wrapperspb.Int64(info.Size), nil
}

func (s *StoreServer) Fetch(id *wrapperspb.StringValue, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	size := s.ChunkSize
	if size <= 0 {
		size = s.Store.MaxChunkSize()
	}
	var offset uint64
	for {
		if err := stream.Context().Err(); err != nil {
			return err
		}
		chunk, remaining, err := s.Store.ReadChunk(id.GetValue(), offset, size)
		if err != nil {
			return blob.ToSila(err)
		}
		if err := stream.Send(wrapperspb.Bytes(chunk)); err != nil {
			return err
		}
		offset += uint64(len(chunk))
		if remaining == 0 {
			return nil
		}
	}
}

// RegisterBlobServer registers srv on s.
func RegisterBlobServer(s grpc.ServiceRegistrar, srv BlobServer) {
	s.RegisterService(&BlobServiceDesc, srv)
}

func blobSizeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BlobServer).Size(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: blobSizeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BlobServer).Size(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func blobFetchHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BlobServer).Fetch(in, &grpc.GenericServerStream[wrapperspb.StringValue, wrapperspb.BytesValue]{ServerStream: stream})
}

// BlobServiceDesc is the grpc.ServiceDesc for the Blob service.
var BlobServiceDesc = grpc.ServiceDesc{
	ServiceName: blobServiceName,
	HandlerType: (*BlobServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Size", Handler: blobSizeHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Fetch", Handler: blobFetchHandler, ServerStreams: true},
	},
	Metadata: "blob.proto",
}

// BlobClient reads blobs from a Blob service.
type BlobClient struct {
	cc grpc.ClientConnInterface
}

func NewBlobClient(cc grpc.ClientConnInterface) *BlobClient { return &BlobClient{cc: cc} }

func (c *BlobClient) Size(ctx context.Context, id string, opts ...grpc.CallOption) (int64, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, blobSizeMethod, wrapperspb.String(id), out, opts...); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

// Fetch reads the whole blob.
func (c *BlobClient) Fetch(ctx context.Context, id string, opts ...grpc.CallOption) ([]byte, error) {
	stream, err := c.cc.NewStream(ctx, &BlobServiceDesc.Streams[0], blobFetchMethod, opts...)
	if err != nil {
		return nil, err
	}
	// io.EOF here means the server already ended the stream; RecvMsg reports why
	if err := stream.SendMsg(wrapperspb.String(id)); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	var out []byte
	for {
		chunk := new(wrapperspb.BytesValue)
		err := stream.RecvMsg(chunk)
		if errors.Is(err, io.EOF) {
			if out == nil {
				out = []byte{}
			}
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, chunk.GetValue()...)
	}
}
