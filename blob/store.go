// Package blob holds binary payloads that are too large to inline in an RPC message.
//
// A blob is addressed by a random UUID. Commands Register results and embed the
// identifier in their response; clients Upload parameters chunk by chunk and pass the
// identifier instead of the bytes. Entries live until Delete or until their TTL lapses
// and Sweep evicts them. All state is in memory and guarded by one RWMutex.
package blob

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sila-rpc/logging"
)

const (
	// DefaultTTL is how long an untouched blob survives.
	DefaultTTL = 10 * time.Minute
	// DefaultMaxChunkSize is the SiLA upper bound for one chunk.
	DefaultMaxChunkSize = 2 << 20
)

// Store is the identifier → bytes map. The zero value is not usable; call New.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	used    int64

	ttl      time.Duration
	maxChunk int
	maxBytes int64
	now      func() time.Time
	newID    func() (string, error)
	log      *zerolog.Logger
}

type entry struct {
	data      []byte
	complete  bool
	parameter string // upload target parameter, informational
	size      int64  // declared upload size, -1 when unknown
	chunks    int    // declared upload chunk count, 0 when unknown
	received  int    // chunks accepted so far
	expires   time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the idle lifetime of entries. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock injects the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMaxChunkSize bounds upload and download chunk sizes.
func WithMaxChunkSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxChunk = n
		}
	}
}

// WithMaxBytes caps the total bytes held, partial uploads included. Zero means no cap.
func WithMaxBytes(n int64) Option {
	return func(s *Store) { s.maxBytes = n }
}

// WithIDGenerator replaces the UUID generator. Generated identifiers must be unguessable
// in production; tests use this for fixed ids.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(s *Store) { s.newID = gen }
}

func New(opts ...Option) *Store {
	s := &Store{
		entries:  make(map[string]*entry),
		ttl:      DefaultTTL,
		maxChunk: DefaultMaxChunkSize,
		now:      time.Now,
		newID: func() (string, error) {
			id, err := uuid.NewRandom()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.Component("blob")
	return s
}

// MaxChunkSize reports the chunk ceiling in bytes.
func (s *Store) MaxChunkSize() int { return s.maxChunk }

// TTL reports the idle lifetime of entries.
func (s *Store) TTL() time.Duration { return s.ttl }

// Register stores a copy of data under a fresh identifier. It never blocks on I/O.
func (s *Store) Register(data []byte) (string, error) {
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reserveLocked(int64(len(buf))); err != nil {
		return "", err
	}
	id, err := s.freshIDLocked()
	if err != nil {
		s.used -= int64(len(buf))
		return "", err
	}
	s.entries[id] = &entry{data: buf, complete: true, size: int64(len(buf)), expires: s.expiryLocked()}
	s.log.Debug().Str("id", id).Int("bytes", len(buf)).Msg("registered blob")
	return id, nil
}

// Resolve returns a copy of the bytes of a finalized blob and refreshes its TTL.
func (s *Store) Resolve(id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookupLocked(id, true)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	e.expires = s.expiryLocked()
	return out, nil
}

// Info describes a stored blob.
type Info struct {
	Size     int64
	Complete bool
	// Expires is zero when the store has no TTL.
	Expires time.Time
	// Lifetime is the time left until Expires on the store's clock, zero without TTL.
	Lifetime time.Duration
}

// Info reports size and expiry of an entry, finalized or not.
func (s *Store) Info(id string) (Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, err := s.lookupLocked(id, false)
	if err != nil {
		return Info{}, err
	}
	info := Info{Size: int64(len(e.data)), Complete: e.complete, Expires: e.expires}
	if !e.expires.IsZero() {
		info.Lifetime = e.expires.Sub(s.now())
	}
	return info, nil
}

// Delete releases an entry, finished or not.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookupLocked(id, false)
	if err != nil {
		return err
	}
	s.removeLocked(id, e)
	s.log.Debug().Str("id", id).Msg("deleted blob")
	return nil
}

// Len reports the number of entries, partial uploads included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Used reports the bytes currently held.
func (s *Store) Used() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}

// ReadChunk returns up to length bytes of a finalized blob starting at offset, and
// the number of bytes left after them. Lengths above the chunk ceiling are clamped.
func (s *Store) ReadChunk(id string, offset uint64, length int) ([]byte, uint64, error) {
	if length <= 0 {
		return nil, 0, fmt.Errorf("%w: %d", ErrInvalidChunkLength, length)
	}
	if length > s.maxChunk {
		length = s.maxChunk
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookupLocked(id, true)
	if err != nil {
		return nil, 0, err
	}
	size := uint64(len(e.data))
	if offset > size {
		return nil, 0, fmt.Errorf("%w: offset %d, size %d", ErrInvalidOffset, offset, size)
	}
	end := offset + uint64(length)
	if end > size {
		end = size
	}
	out := make([]byte, end-offset)
	copy(out, e.data[offset:end])
	e.expires = s.expiryLocked()
	return out, size - end, nil
}

// Sweep evicts every entry whose expiry has passed, partial uploads included,
// and returns how many it removed.
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, e := range s.entries {
		if !e.expires.After(now) {
			s.removeLocked(id, e)
			n++
		}
	}
	if n > 0 {
		s.log.Info().Int("evicted", n).Int("remaining", len(s.entries)).Msg("swept expired blobs")
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// lookupLocked finds a live entry. With complete set, unfinished uploads count as absent.
func (s *Store) lookupLocked(id string, complete bool) (*entry, error) {
	e, ok := s.entries[id]
	if !ok || (complete && !e.complete) || s.expiredLocked(e) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBinaryTransferUUID, id)
	}
	return e, nil
}

func (s *Store) expiredLocked(e *entry) bool {
	return s.ttl > 0 && !e.expires.After(s.now())
}

func (s *Store) expiryLocked() time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(s.ttl)
}

func (s *Store) reserveLocked(n int64) error {
	if s.maxBytes > 0 && s.used+n > s.maxBytes {
		return fmt.Errorf("%w: %d + %d > %d bytes", ErrStoreFull, s.used, n, s.maxBytes)
	}
	s.used += n
	return nil
}

func (s *Store) removeLocked(id string, e *entry) {
	s.used -= int64(len(e.data))
	delete(s.entries, id)
}

func (s *Store) freshIDLocked() (string, error) {
	const attempts = 8
	for i := 0; i < attempts; i++ {
		id, err := s.newID()
		if err != nil {
			return "", fmt.Errorf("blob: generating identifier: %w", err)
		}
		if _, taken := s.entries[id]; !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("blob: no free identifier after %d attempts", attempts)
}
