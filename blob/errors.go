package blob

import "errors"

var (
	// ErrInvalidBinaryTransferUUID is returned whenever an identifier does not name a
	// resolvable blob: never registered, deleted, expired, or an upload not yet finalized.
	ErrInvalidBinaryTransferUUID = errors.New("blob: invalid binary transfer uuid")
	ErrOutOfOrderChunk           = errors.New("blob: chunk offset out of order")
	ErrUploadFinalized           = errors.New("blob: upload already finalized")
	ErrChunkTooLarge             = errors.New("blob: chunk too large")
	ErrInvalidChunkLength        = errors.New("blob: invalid chunk length")
	ErrInvalidOffset             = errors.New("blob: offset beyond end of blob")
	ErrSizeMismatch              = errors.New("blob: upload does not match declared size")
	ErrStoreFull                 = errors.New("blob: store capacity exceeded")
)

func IsInvalidUUID(err error) bool { return errors.Is(err, ErrInvalidBinaryTransferUUID) }
