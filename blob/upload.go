package blob

import "fmt"

// Upload declares an incoming blob. Size and Chunks are checked on the final chunk
// when set; a negative Size or zero Chunks means "not declared".
type Upload struct {
	Size      int64
	Chunks    int
	Parameter string
}

// Chunk is one piece of an upload. Offset must equal the bytes received so far.
type Chunk struct {
	ID      string
	Offset  uint64
	Payload []byte
	Last    bool
}

// Progress is the state of an upload after a chunk was applied.
type Progress struct {
	Received int64
	Complete bool
}

// CreateUpload reserves an identifier for a chunked upload. The blob becomes
// resolvable once its last chunk arrives.
func (s *Store) CreateUpload(u Upload) (string, error) {
	if u.Size < 0 {
		u.Size = -1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Size > 0 && s.maxBytes > 0 && s.used+u.Size > s.maxBytes {
		return "", fmt.Errorf("%w: upload of %d bytes", ErrStoreFull, u.Size)
	}
	id, err := s.freshIDLocked()
	if err != nil {
		return "", err
	}
	s.entries[id] = &entry{
		size:      u.Size,
		chunks:    u.Chunks,
		parameter: u.Parameter,
		expires:   s.expiryLocked(),
	}
	s.log.Debug().Str("id", id).Int64("size", u.Size).Int("chunks", u.Chunks).Msg("upload created")
	return id, nil
}

// AppendChunk applies c to its upload. Chunks are taken strictly in arrival order: an
// offset other than the bytes received so far discards the partial data, and the client
// has to start that identifier again from offset 0.
func (s *Store) AppendChunk(c Chunk) (Progress, error) {
	if len(c.Payload) > s.maxChunk {
		return Progress{}, fmt.Errorf("%w: %d > %d bytes", ErrChunkTooLarge, len(c.Payload), s.maxChunk)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookupLocked(c.ID, false)
	if err != nil {
		return Progress{}, err
	}
	if e.complete {
		return Progress{}, fmt.Errorf("%w: %q", ErrUploadFinalized, c.ID)
	}

	received := uint64(len(e.data))
	if c.Offset != received {
		s.resetLocked(e)
		s.log.Warn().Str("id", c.ID).Uint64("offset", c.Offset).Uint64("expected", received).Msg("out-of-order chunk, upload reset")
		return Progress{}, fmt.Errorf("%w: got offset %d, expected %d", ErrOutOfOrderChunk, c.Offset, received)
	}
	if e.size >= 0 && int64(received)+int64(len(c.Payload)) > e.size {
		s.resetLocked(e)
		return Progress{}, fmt.Errorf("%w: %d bytes exceed declared %d", ErrSizeMismatch, int(received)+len(c.Payload), e.size)
	}
	if err := s.reserveLocked(int64(len(c.Payload))); err != nil {
		return Progress{}, err
	}

	e.data = append(e.data, c.Payload...)
	e.received++
	e.expires = s.expiryLocked()

	if c.Last {
		if err := e.verifyLocked(); err != nil {
			s.resetLocked(e)
			return Progress{}, err
		}
		e.complete = true
		s.log.Debug().Str("id", c.ID).Int("bytes", len(e.data)).Msg("upload finalized")
	}
	return Progress{Received: int64(len(e.data)), Complete: e.complete}, nil
}

func (e *entry) verifyLocked() error {
	if e.size >= 0 && int64(len(e.data)) != e.size {
		return fmt.Errorf("%w: got %d bytes, declared %d", ErrSizeMismatch, len(e.data), e.size)
	}
	if e.chunks > 0 && e.received != e.chunks {
		return fmt.Errorf("%w: got %d chunks, declared %d", ErrSizeMismatch, e.received, e.chunks)
	}
	return nil
}

// resetLocked drops the partial data of an unfinished upload, keeping the identifier.
func (s *Store) resetLocked(e *entry) {
	s.used -= int64(len(e.data))
	e.data = nil
	e.received = 0
	e.expires = s.expiryLocked()
}
