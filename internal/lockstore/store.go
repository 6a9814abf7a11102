// Package lockstore persists the single writer lock record.
//
// The record lives at <root>/writer-lock/meta. The directory's existence
// means the lock is held; it is created and removed wholesale through the
// rename primitives in package meta and never modified in place.
package lockstore

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/writerlock/internal/clock"
	"github.com/Iron-Ham/writerlock/internal/liveness"
	"github.com/Iron-Ham/writerlock/internal/logging"
	"github.com/Iron-Ham/writerlock/internal/meta"
)

// DirName is the lock directory's name within the lock root.
const DirName = "writer-lock"

var (
	// ErrNotLocked is returned by Release when no lock is held.
	ErrNotLocked = errors.New("writer lock is not held")

	// ErrTokenRequired is returned by Release when no token was presented.
	ErrTokenRequired = errors.New("release token required")

	// ErrTokenMismatch is returned by Release when the presented token does
	// not belong to the current holder.
	ErrTokenMismatch = errors.New("release token does not match the lock holder")

	// ErrCorruptRecord is returned when the lock record cannot be parsed.
	ErrCorruptRecord = errors.New("lock record is corrupt")
)

// Record describes the current lock holder.
type Record struct {
	Host       string
	PID        int
	Token      string
	AcquiredAt time.Time
}

// Holder returns the process that owns the record.
func (r *Record) Holder() liveness.Process {
	return liveness.Process{Host: r.Host, PID: r.PID}
}

// String describes the holder without revealing the token.
func (r *Record) String() string {
	return fmt.Sprintf("%s since %s", r.Holder(), r.AcquiredAt.Format(time.RFC3339))
}

func (r *Record) encode() []byte {
	return meta.Encode(
		meta.String("host", r.Host),
		meta.Int("pid", int64(r.PID)),
		meta.String("token", r.Token),
		meta.Time("acquired_at", r.AcquiredAt),
	)
}

func decodeRecord(data []byte) (*Record, error) {
	values, err := meta.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	host, err := values.String("host")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	pid, err := values.Int("pid")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	token, err := values.String("token")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	acquiredAt, err := values.Time("acquired_at")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	return &Record{Host: host, PID: int(pid), Token: token, AcquiredAt: acquiredAt}, nil
}

// Store reads and writes the lock record under a lock root.
type Store struct {
	dir    string
	clock  clock.Clock
	logger *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp acquired_at.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger used for the audit trail.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns a Store for the lock under root.
func New(root string, opts ...Option) *Store {
	s := &Store{
		dir:    filepath.Join(root, DirName),
		clock:  clock.Real{},
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the lock directory path.
func (s *Store) Dir() string {
	return s.dir
}

// TryAcquire creates the lock record for holder if no lock is held and
// returns it. It returns a nil record, without side effects, when another
// record exists.
func (s *Store) TryAcquire(holder liveness.Process, token string) (*Record, error) {
	if token == "" {
		return nil, ErrTokenRequired
	}

	rec := &Record{
		Host:       holder.Host,
		PID:        holder.PID,
		Token:      token,
		AcquiredAt: s.clock.Now().UTC(),
	}

	if err := meta.Publish(s.dir, rec.encode()); err != nil {
		if errors.Is(err, meta.ErrExists) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to create lock record: %w", err)
	}

	s.logger.Info("lock acquired", "holder_host", rec.Host, "holder_pid", rec.PID)
	return rec, nil
}

// Read returns the current lock record, or nil when the lock is free.
func (s *Store) Read() (*Record, error) {
	data, err := meta.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, meta.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return decodeRecord(data)
}

// Release removes the lock record and returns what was removed.
//
// With force, any record is removed, corrupt or not; the returned record is
// nil when it could not be parsed. Otherwise token must match the stored
// token. On any failure the record on disk is left as it was.
func (s *Store) Release(token string, force bool) (*Record, error) {
	if force {
		return s.forceRelease()
	}
	if token == "" {
		return nil, ErrTokenRequired
	}

	current, err := s.Read()
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNotLocked
	}
	if !tokensEqual(current.Token, token) {
		return nil, fmt.Errorf("%w: held by %s", ErrTokenMismatch, current.Holder())
	}

	tomb, err := meta.Retire(s.dir)
	if err != nil {
		if errors.Is(err, meta.ErrNotExist) {
			return nil, ErrNotLocked
		}
		return nil, err
	}

	// The lock may have changed hands between Read and Retire.
	removed, err := tombRecord(tomb)
	if err != nil || !tokensEqual(removed.Token, token) {
		s.restore(tomb)
		return nil, ErrTokenMismatch
	}

	if err := tomb.Bury(); err != nil {
		s.logger.Warn("failed to remove retired lock record", "error", err.Error())
	}
	s.logger.Info("lock released", "holder_host", removed.Host, "holder_pid", removed.PID)
	return removed, nil
}

func (s *Store) forceRelease() (*Record, error) {
	tomb, err := meta.Retire(s.dir)
	if err != nil {
		if errors.Is(err, meta.ErrNotExist) {
			return nil, ErrNotLocked
		}
		return nil, err
	}

	removed, err := tombRecord(tomb)
	if err != nil {
		s.logger.Warn("force-releasing unreadable lock record", "error", err.Error())
		removed = nil
	}

	if err := tomb.Bury(); err != nil {
		s.logger.Warn("failed to remove retired lock record", "error", err.Error())
	}
	if removed != nil {
		s.logger.Warn("lock force-released", "holder_host", removed.Host, "holder_pid", removed.PID)
	} else {
		s.logger.Warn("lock force-released")
	}
	return removed, nil
}

// restore puts a record that was retired by mistake back in place.
func (s *Store) restore(tomb *meta.Tombstone) {
	err := tomb.Restore()
	if err == nil {
		return
	}
	// Someone acquired the lock after the record was retired; the retired
	// holder's record cannot be reinstated without evicting them. It is kept
	// beside the lock as evidence of a holder that may still be writing.
	s.logger.Error("failed to restore lock record, retired record kept",
		"retired", tomb.Path(), "error", err.Error())
}

func tombRecord(tomb *meta.Tombstone) (*Record, error) {
	data, err := tomb.Data()
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

func tokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
