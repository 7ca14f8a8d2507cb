package binarytransfer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"sila-rpc/loadbalance"
)

// DefaultChunkSize keeps one JSON-encoded chunk well under the default frame ceiling.
const DefaultChunkSize = 1 << 20

// maxPrealloc caps the buffer Download sizes from the first reply; larger blobs grow
// by append as chunks arrive.
const maxPrealloc = 64 << 20

// Caller is the part of client.Client the transfer helpers need.
type Caller interface {
	Call(ctx context.Context, serviceMethod string, args any, reply any) error
}

// Upload sends data as a binary parameter for parameter and returns the identifier to
// put in the command call. All requests of one upload carry the same affinity key, so
// a consistent hash balancer keeps them on one server.
func Upload(ctx context.Context, c Caller, parameter string, data []byte, chunkSize int) (string, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	ctx = loadbalance.WithAffinityKey(ctx, uuid.NewString())

	chunks := (len(data) + chunkSize - 1) / chunkSize
	if chunks == 0 {
		chunks = 1 // an empty binary is one empty last chunk
	}
	var created CreateBinaryResponse
	err := c.Call(ctx, "BinaryUpload.CreateBinary", &CreateBinaryRequest{
		Size:       int64(len(data)),
		ChunkCount: chunks,
		Parameter:  parameter,
	}, &created)
	if err != nil {
		return "", err
	}

	for i := 0; i < chunks; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, len(data))
		var resp UploadChunkResponse
		err := c.Call(ctx, "BinaryUpload.UploadChunk", &UploadChunkRequest{
			BinaryTransferUUID: created.BinaryTransferUUID,
			Offset:             uint64(start),
			Payload:            data[start:end],
			IsLastChunk:        i == chunks-1,
		}, &resp)
		if err != nil {
			return "", err
		}
		if resp.BytesReceived != int64(end) {
			return "", fmt.Errorf("binarytransfer: server holds %d bytes after chunk %d, expected %d", resp.BytesReceived, i, end)
		}
	}
	return created.BinaryTransferUUID, nil
}

// Download reads the whole blob id in chunks of chunkSize. An unknown identifier fails
// on the first request.
func Download(ctx context.Context, c Caller, id string, chunkSize int) ([]byte, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	var out []byte
	var offset uint64
	for {
		var resp GetChunkResponse
		err := c.Call(ctx, "BinaryDownload.GetChunk", &GetChunkRequest{
			BinaryTransferUUID: id,
			Offset:             offset,
			Length:             chunkSize,
		}, &resp)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = make([]byte, 0, uint64(len(resp.Payload))+min(resp.BytesRemaining, maxPrealloc))
		}
		out = append(out, resp.Payload...)
		offset += uint64(len(resp.Payload))
		if resp.BytesRemaining == 0 {
			return out, nil
		}
		if len(resp.Payload) == 0 {
			return nil, fmt.Errorf("binarytransfer: empty chunk at offset %d with %d bytes remaining", offset, resp.BytesRemaining)
		}
	}
}

// Info asks for the size and remaining lifetime of a finished blob.
func Info(ctx context.Context, c Caller, id string) (GetBinaryInfoResponse, error) {
	var resp GetBinaryInfoResponse
	err := c.Call(ctx, "BinaryDownload.GetBinaryInfo", &GetBinaryInfoRequest{BinaryTransferUUID: id}, &resp)
	return resp, err
}

// Delete releases a downloaded blob on the server.
func Delete(ctx context.Context, c Caller, id string) error {
	return c.Call(ctx, "BinaryDownload.DeleteBinary", &DeleteBinaryRequest{BinaryTransferUUID: id}, &DeleteBinaryResponse{})
}
