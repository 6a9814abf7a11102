// Package queue implements the writer lock's waiting line.
//
// Each waiter holds a numbered ticket backed by a file under
// <root>/writer-lock-queue/entries. Ticket numbers come from a counter
// that only grows, so a number is never issued twice and a ticket file
// always describes the same waiter. That property lets any participant
// delete a dead waiter's file without holding the queue mutex.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/writerlock/internal/clock"
	"github.com/Iron-Ham/writerlock/internal/liveness"
	"github.com/Iron-Ham/writerlock/internal/logging"
	"github.com/Iron-Ham/writerlock/internal/meta"
)

// On-disk names within the lock root.
const (
	DirName     = "writer-lock-queue"
	EntriesName = "entries"
	CounterName = "counter"
	MutexName   = ".mutex"
)

// Default queue mutex timing.
const (
	DefaultMutexRetry   = 100 * time.Millisecond
	DefaultMutexTimeout = 30 * time.Second
)

var (
	// ErrCorruptCounter is returned by Join when the ticket counter cannot be
	// parsed. Allocation fails closed rather than risk reissuing a ticket.
	ErrCorruptCounter = errors.New("ticket counter is corrupt")

	// ErrCorruptEntry is returned when a ticket file cannot be parsed.
	ErrCorruptEntry = errors.New("queue entry is corrupt")
)

// Store manages the queue under a lock root.
type Store struct {
	dir    string
	oracle liveness.Oracle
	clock  clock.Clock
	logger *logging.Logger
	mutex  *Mutex
}

type options struct {
	clock        clock.Clock
	logger       *logging.Logger
	mutexOwner   liveness.Process
	mutexRetry   time.Duration
	mutexTimeout time.Duration
}

// Option configures a Store.
type Option func(*options)

// WithClock sets the clock used for timestamps and mutex retries.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger used for the audit trail.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMutexOwner sets the identity recorded in the queue mutex. It should be
// the real process, so that a crash is detected and the mutex reclaimed.
func WithMutexOwner(p liveness.Process) Option {
	return func(o *options) { o.mutexOwner = p }
}

// WithMutexRetry sets how long Lock sleeps between attempts.
func WithMutexRetry(d time.Duration) Option {
	return func(o *options) { o.mutexRetry = d }
}

// WithMutexTimeout bounds how long Lock waits. Zero waits until the context
// is done.
func WithMutexTimeout(d time.Duration) Option {
	return func(o *options) { o.mutexTimeout = d }
}

// New returns a Store for the queue under root.
func New(root string, oracle liveness.Oracle, opts ...Option) *Store {
	o := options{
		clock:        clock.Real{},
		logger:       logging.NopLogger(),
		mutexOwner:   liveness.Process{Host: liveness.Hostname(), PID: os.Getpid()},
		mutexRetry:   DefaultMutexRetry,
		mutexTimeout: DefaultMutexTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	dir := filepath.Join(root, DirName)
	return &Store{
		dir:    dir,
		oracle: oracle,
		clock:  o.clock,
		logger: o.logger,
		mutex: &Mutex{
			dir:     filepath.Join(dir, MutexName),
			owner:   o.mutexOwner,
			oracle:  oracle,
			clock:   o.clock,
			logger:  o.logger,
			retry:   o.mutexRetry,
			timeout: o.mutexTimeout,
		},
	}
}

// Dir returns the queue directory.
func (s *Store) Dir() string { return s.dir }

// EntriesDir returns the directory holding ticket files.
func (s *Store) EntriesDir() string { return filepath.Join(s.dir, EntriesName) }

// Mutex returns the queue mutex.
func (s *Store) Mutex() *Mutex { return s.mutex }

func (s *Store) entryPath(ticket int64) string {
	return filepath.Join(s.EntriesDir(), strconv.FormatInt(ticket, 10))
}

// Join allocates the next ticket for holder and writes its entry.
func (s *Store) Join(ctx context.Context, holder liveness.Process) (Entry, error) {
	if err := os.MkdirAll(s.EntriesDir(), 0755); err != nil {
		return Entry{}, fmt.Errorf("failed to create queue directory: %w", err)
	}

	if err := s.mutex.Lock(ctx); err != nil {
		return Entry{}, fmt.Errorf("failed to join queue: %w", err)
	}
	defer func() {
		if err := s.mutex.Unlock(); err != nil {
			s.logger.Warn("failed to release queue mutex", "error", err.Error())
		}
	}()

	last, err := s.readCounter()
	if err != nil {
		return Entry{}, err
	}
	tickets, err := s.tickets()
	if err != nil {
		return Entry{}, err
	}
	if n := len(tickets); n > 0 && tickets[n-1] > last {
		last = tickets[n-1]
	}

	entry := Entry{
		Ticket:   last + 1,
		Host:     holder.Host,
		PID:      holder.PID,
		JoinedAt: s.clock.Now().UTC(),
	}

	path := s.entryPath(entry.Ticket)
	if err := meta.WriteFileAtomic(path, entry.encode(), 0644); err != nil {
		return Entry{}, fmt.Errorf("failed to write queue entry: %w", err)
	}
	counter := []byte(strconv.FormatInt(entry.Ticket, 10) + "\n")
	if err := meta.WriteFileAtomic(filepath.Join(s.dir, CounterName), counter, 0644); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			s.logger.Error("failed to remove entry after counter write failed",
				"ticket", entry.Ticket, "error", rmErr.Error())
		}
		return Entry{}, fmt.Errorf("failed to advance ticket counter: %w", err)
	}

	s.logger.WithTicket(entry.Ticket).Info("joined queue", "owner_host", entry.Host, "owner_pid", entry.PID)
	return entry, nil
}

// readCounter returns the last issued ticket, or 0 for a new queue.
func (s *Store) readCounter() (int64, error) {
	data, err := meta.ReadFile(filepath.Join(s.dir, CounterName))
	if err != nil {
		if errors.Is(err, meta.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrCorruptCounter, strings.TrimSpace(string(data)))
	}
	return n, nil
}

// tickets lists ticket numbers present on disk in ascending order. Names
// that are not positive integers, such as in-flight temp files, are skipped.
func (s *Store) tickets() ([]int64, error) {
	dirEntries, err := os.ReadDir(s.EntriesDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}

	tickets := make([]int64, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		n, err := strconv.ParseInt(de.Name(), 10, 64)
		if err != nil || n <= 0 {
			continue
		}
		tickets = append(tickets, n)
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i] < tickets[j] })
	return tickets, nil
}

// readEntry reads one ticket. It returns meta.ErrNotExist if the ticket is
// not queued and ErrCorruptEntry if the file cannot be parsed.
func (s *Store) readEntry(ticket int64) (Entry, error) {
	data, err := meta.ReadFile(s.entryPath(ticket))
	if err != nil {
		return Entry{}, err
	}
	entry, err := decodeEntry(ticket, data)
	if err != nil {
		return Entry{Ticket: ticket, Corrupt: true}, fmt.Errorf("%w: ticket %d: %v", ErrCorruptEntry, ticket, err)
	}
	return entry, nil
}

// HeadAllowsAttempt reports whether ticket may try to take the lock now.
// It does not take the queue mutex. Entries ahead of ticket whose owners
// are dead are removed along the way.
func (s *Store) HeadAllowsAttempt(ticket int64) (Verdict, error) {
	own, err := s.readEntry(ticket)
	if err != nil {
		if errors.Is(err, meta.ErrNotExist) {
			return VerdictGone, nil
		}
		return VerdictWait, err
	}
	if !s.oracle.IsAlive(own.Host, own.PID) {
		return VerdictOrphaned, nil
	}

	tickets, err := s.tickets()
	if err != nil {
		return VerdictWait, err
	}

	for _, t := range tickets {
		if t >= ticket {
			break
		}
		ahead, err := s.readEntry(t)
		if err != nil {
			if errors.Is(err, meta.ErrNotExist) {
				continue
			}
			if errors.Is(err, ErrCorruptEntry) {
				s.logger.WithTicket(ticket).Warn("waiting behind unreadable queue entry",
					"ahead", t, "error", err.Error())
				return VerdictWait, nil
			}
			return VerdictWait, err
		}
		if s.oracle.IsAlive(ahead.Host, ahead.PID) {
			return VerdictWait, nil
		}
		s.removeOrphan(ahead, ticket)
	}

	return VerdictAttempt, nil
}

// removeOrphan deletes a dead waiter's entry and reports whether this call
// removed it.
func (s *Store) removeOrphan(e Entry, by int64) bool {
	if err := os.Remove(s.entryPath(e.Ticket)); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.WithTicket(e.Ticket).Warn("failed to prune orphaned ticket", "error", err.Error())
		}
		return false
	}
	args := []any{"owner_host", e.Host, "owner_pid", e.PID}
	if by != 0 {
		args = append(args, "pruned_by_ticket", by)
	}
	s.logger.WithTicket(e.Ticket).Warn("pruned orphaned ticket", args...)
	return true
}

// Leave removes ticket from the queue and reports whether it was present.
func (s *Store) Leave(ticket int64) (bool, error) {
	if err := os.Remove(s.entryPath(ticket)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to remove queue entry %d: %w", ticket, err)
	}
	s.logger.WithTicket(ticket).Info("left queue")
	return true, nil
}

// Entries lists queued tickets in ascending order without taking the queue
// mutex. Unparseable entries are included with Corrupt set.
func (s *Store) Entries() ([]Entry, error) {
	tickets, err := s.tickets()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(tickets))
	for _, t := range tickets {
		e, err := s.readEntry(t)
		if err != nil {
			if errors.Is(err, meta.ErrNotExist) {
				continue
			}
			if !errors.Is(err, ErrCorruptEntry) {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Depth returns the number of queued tickets. It is a snapshot and may be
// stale by the time the caller reads it.
func (s *Store) Depth() (int, error) {
	tickets, err := s.tickets()
	if err != nil {
		return 0, err
	}
	return len(tickets), nil
}

// Prune removes every entry whose owner is dead and returns their tickets.
// Entries are listed under the queue mutex; liveness is checked after it
// is released.
func (s *Store) Prune(ctx context.Context) ([]int64, error) {
	if err := s.mutex.Lock(ctx); err != nil {
		return nil, fmt.Errorf("failed to prune queue: %w", err)
	}
	entries, err := s.Entries()
	if unlockErr := s.mutex.Unlock(); unlockErr != nil {
		s.logger.Warn("failed to release queue mutex", "error", unlockErr.Error())
	}
	if err != nil {
		return nil, err
	}

	var pruned []int64
	for _, e := range entries {
		if e.Corrupt || s.oracle.IsAlive(e.Host, e.PID) {
			continue
		}
		if s.removeOrphan(e, 0) {
			pruned = append(pruned, e.Ticket)
		}
	}
	return pruned, nil
}
