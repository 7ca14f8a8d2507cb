package blob

import (
	"errors"

	"sila-rpc/silaerr"
)

// Defined execution error identifiers of the binary transfer feature.
const (
	identifierPrefix = "org.silastandard/core/BinaryTransfer/v1/DefinedExecutionError/"

	IdentifierInvalidUUID    = identifierPrefix + "InvalidBinaryTransferUUID"
	IdentifierUploadFailed   = identifierPrefix + "BinaryUploadFailed"
	IdentifierDownloadFailed = identifierPrefix + "BinaryDownloadFailed"
)

// ToSila reports a store error as a SiLA defined execution error. The identifier
// says which transfer step failed; the original error stays as the local Cause.
// Errors that are not store errors pass through unchanged.
func ToSila(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := silaerr.As(err); ok {
		return err
	}
	var id string
	switch {
	case errors.Is(err, ErrInvalidBinaryTransferUUID):
		id = IdentifierInvalidUUID
	case errors.Is(err, ErrOutOfOrderChunk),
		errors.Is(err, ErrUploadFinalized),
		errors.Is(err, ErrChunkTooLarge),
		errors.Is(err, ErrSizeMismatch),
		errors.Is(err, ErrStoreFull):
		id = IdentifierUploadFailed
	case errors.Is(err, ErrInvalidChunkLength),
		errors.Is(err, ErrInvalidOffset):
		id = IdentifierDownloadFailed
	default:
		return err
	}
	return &silaerr.DefinedExecutionError{Identifier: id, Message: err.Error(), Cause: err}
}

// Catalog resolves the binary transfer error identifiers to this package's sentinels,
// so errors.Is(err, ErrInvalidBinaryTransferUUID) also holds on the client.
// Upload and download failures resolve to the general step sentinel, since the wire
// carries no finer detail than the message.
func Catalog() *silaerr.Catalog {
	c := silaerr.NewCatalog()
	c.Register(IdentifierInvalidUUID, ErrInvalidBinaryTransferUUID)
	c.Register(IdentifierUploadFailed, ErrUploadFailed)
	c.Register(IdentifierDownloadFailed, ErrDownloadFailed)
	return c
}

var (
	ErrUploadFailed   = errors.New("blob: binary upload failed")
	ErrDownloadFailed = errors.New("blob: binary download failed")
)
