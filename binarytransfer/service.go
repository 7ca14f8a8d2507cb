// Package binarytransfer exposes a blob.Store over RPC as the BinaryUpload and
// BinaryDownload services, and provides the client side of both.
//
// Uploads are created with CreateBinary and fed with UploadChunk in offset order; the
// identifier becomes usable as a binary parameter after the last chunk. Downloads
// read GetChunk at increasing offsets until no bytes remain. Store failures reach the
// client as SiLA defined execution errors; Catalog maps them back to the blob sentinels.
package binarytransfer

import (
	"math"
	"time"

	"sila-rpc/blob"
	"sila-rpc/server"
	"sila-rpc/silaerr"
)

type CreateBinaryRequest struct {
	// Size is the total byte count the upload will have.
	Size int64 `json:"size"`
	// ChunkCount is the number of chunks the client will send; zero leaves it unchecked.
	ChunkCount int `json:"chunk_count"`
	// Parameter is the fully qualified parameter the binary is meant for.
	Parameter string `json:"parameter"`
}

type CreateBinaryResponse struct {
	BinaryTransferUUID string `json:"binary_transfer_uuid"`
	LifetimeSeconds    int64  `json:"lifetime_seconds"`
}

type UploadChunkRequest struct {
	BinaryTransferUUID string `json:"binary_transfer_uuid"`
	Offset             uint64 `json:"offset"`
	Payload            []byte `json:"payload"`
	IsLastChunk        bool   `json:"is_last_chunk"`
}

type UploadChunkResponse struct {
	BytesReceived   int64 `json:"bytes_received"`
	Complete        bool  `json:"complete"`
	LifetimeSeconds int64 `json:"lifetime_seconds"`
}

type DeleteBinaryRequest struct {
	BinaryTransferUUID string `json:"binary_transfer_uuid"`
}

type DeleteBinaryResponse struct{}

type GetBinaryInfoRequest struct {
	BinaryTransferUUID string `json:"binary_transfer_uuid"`
}

type GetBinaryInfoResponse struct {
	Size            int64 `json:"size"`
	LifetimeSeconds int64 `json:"lifetime_seconds"`
}

type GetChunkRequest struct {
	BinaryTransferUUID string `json:"binary_transfer_uuid"`
	Offset             uint64 `json:"offset"`
	Length             int    `json:"length"`
}

type GetChunkResponse struct {
	Payload         []byte `json:"payload"`
	BytesRemaining  uint64 `json:"bytes_remaining"`
	LifetimeSeconds int64  `json:"lifetime_seconds"`
}

// BinaryUpload receives binary parameters chunk by chunk.
type BinaryUpload struct {
	Store *blob.Store
}

// CreateBinary reserves an identifier for an upload of req.Size bytes.
func (s *BinaryUpload) CreateBinary(req *CreateBinaryRequest, resp *CreateBinaryResponse) error {
	if req.Size < 0 {
		return silaerr.NewValidationError("Size", "must be >= 0")
	}
	if req.ChunkCount < 0 {
		return silaerr.NewValidationError("ChunkCount", "must be >= 0")
	}
	id, err := s.Store.CreateUpload(blob.Upload{Size: req.Size, Chunks: req.ChunkCount, Parameter: req.Parameter})
	if err != nil {
		return blob.ToSila(err)
	}
	resp.BinaryTransferUUID = id
	resp.LifetimeSeconds = seconds(s.Store.TTL())
	return nil
}

// UploadChunk appends one chunk. A chunk whose offset is not the number of bytes
// received so far resets the upload; the client starts over at offset 0.
func (s *BinaryUpload) UploadChunk(req *UploadChunkRequest, resp *UploadChunkResponse) error {
	p, err := s.Store.AppendChunk(blob.Chunk{
		ID:      req.BinaryTransferUUID,
		Offset:  req.Offset,
		Payload: req.Payload,
		Last:    req.IsLastChunk,
	})
	if err != nil {
		return blob.ToSila(err)
	}
	resp.BytesReceived = p.Received
	resp.Complete = p.Complete
	resp.LifetimeSeconds = seconds(s.Store.TTL())
	return nil
}

// DeleteBinary releases an upload, finished or not.
func (s *BinaryUpload) DeleteBinary(req *DeleteBinaryRequest, _ *DeleteBinaryResponse) error {
	return blob.ToSila(s.Store.Delete(req.BinaryTransferUUID))
}

// BinaryDownload serves binary responses chunk by chunk.
type BinaryDownload struct {
	Store *blob.Store
}

// GetBinaryInfo reports the size and remaining lifetime of a finished blob.
func (s *BinaryDownload) GetBinaryInfo(req *GetBinaryInfoRequest, resp *GetBinaryInfoResponse) error {
	info, err := s.Store.Info(req.BinaryTransferUUID)
	if err == nil && !info.Complete {
		_, err = s.Store.Resolve(req.BinaryTransferUUID)
	}
	if err != nil {
		return blob.ToSila(err)
	}
	resp.Size = info.Size
	resp.LifetimeSeconds = seconds(info.Lifetime)
	return nil
}

// GetChunk returns up to req.Length bytes from req.Offset and how many bytes follow.
func (s *BinaryDownload) GetChunk(req *GetChunkRequest, resp *GetChunkResponse) error {
	payload, remaining, err := s.Store.ReadChunk(req.BinaryTransferUUID, req.Offset, req.Length)
	if err != nil {
		return blob.ToSila(err)
	}
	resp.Payload = payload
	resp.BytesRemaining = remaining
	resp.LifetimeSeconds = seconds(s.Store.TTL())
	return nil
}

// DeleteBinary releases a blob.
func (s *BinaryDownload) DeleteBinary(req *DeleteBinaryRequest, _ *DeleteBinaryResponse) error {
	return blob.ToSila(s.Store.Delete(req.BinaryTransferUUID))
}

// Register adds both services, backed by store, to svr.
func Register(svr *server.Server, store *blob.Store) error {
	if err := svr.Register(&BinaryUpload{Store: store}); err != nil {
		return err
	}
	return svr.Register(&BinaryDownload{Store: store})
}

// Catalog resolves the binary transfer error identifiers on the client.
func Catalog() *silaerr.Catalog {
	return blob.Catalog()
}

func seconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
