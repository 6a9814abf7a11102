// Package coordinator implements the writer lock protocol on top of the
// lock and queue stores: single-shot acquire, fair queued waiting,
// token-checked release, and the read-only status view.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/writerlock/internal/clock"
	"github.com/Iron-Ham/writerlock/internal/liveness"
	"github.com/Iron-Ham/writerlock/internal/lockstore"
	"github.com/Iron-Ham/writerlock/internal/logging"
	"github.com/Iron-Ham/writerlock/internal/queue"
)

var (
	// ErrLocked is returned by Acquire when another holder has the lock.
	ErrLocked = errors.New("writer lock is held")

	// ErrTicketWithdrawn is returned by AcquireWait when the waiter's ticket
	// was removed by cancel or by another participant's pruning.
	ErrTicketWithdrawn = errors.New("queue ticket was withdrawn")
)

// DefaultPollInterval is how long a waiter sleeps between checks.
const DefaultPollInterval = 5 * time.Second

// Waker delivers hints that the lock or queue may have changed. A waiter
// re-checks early on a hint; correctness never depends on one arriving.
type Waker interface {
	Wake() <-chan struct{}
}

// Grant describes a successfully acquired lock.
type Grant struct {
	Token  string
	Record *lockstore.Record

	// Ticket is the queue ticket that was served, or 0 for a direct acquire.
	Ticket int64

	// Waited is the time spent queued.
	Waited time.Duration
}

// Status is a point-in-time view of the lock and its queue.
type Status struct {
	// Lock is the current holder, or nil when unlocked or unreadable.
	Lock *lockstore.Record

	// LockErr is set when the lock record exists but cannot be parsed.
	// The lock is considered held in that case.
	LockErr error

	// Entries lists queued tickets in ascending order.
	Entries []queue.Entry

	// QueueErr is set when the queue could not be listed.
	QueueErr error

	At time.Time
}

// Locked reports whether the lock is held.
func (s Status) Locked() bool {
	return s.Lock != nil || s.LockErr != nil
}

// Depth returns the number of queued tickets.
func (s Status) Depth() int {
	return len(s.Entries)
}

// Coordinator runs the lock protocol for one participant.
type Coordinator struct {
	locks    *lockstore.Store
	queue    *queue.Store
	self     liveness.Process
	clock    clock.Clock
	waker    Waker
	logger   *logging.Logger
	progress io.Writer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock that drives the poll loop.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithWaker sets a source of early re-check hints for the poll loop.
func WithWaker(w Waker) Option {
	return func(co *Coordinator) { co.waker = w }
}

// WithLogger sets the logger used for the audit trail.
func WithLogger(l *logging.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// WithProgress sets where waiting progress messages are written.
func WithProgress(w io.Writer) Option {
	return func(co *Coordinator) { co.progress = w }
}

// New returns a Coordinator acting as self. The pid in self is the process
// responsible for the lock and tickets, which may be a wrapper rather than
// the caller.
func New(locks *lockstore.Store, q *queue.Store, self liveness.Process, opts ...Option) *Coordinator {
	c := &Coordinator{
		locks:    locks,
		queue:    q,
		self:     self,
		clock:    clock.Real{},
		logger:   logging.NopLogger(),
		progress: io.Discard,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Self returns the identity recorded for this participant.
func (c *Coordinator) Self() liveness.Process {
	return c.self
}

func newToken() string {
	return uuid.NewString()
}

// Acquire makes a single attempt to take the lock. It does not consult the
// queue. When the lock is held it returns an error wrapping ErrLocked.
func (c *Coordinator) Acquire(ctx context.Context) (Grant, error) {
	if err := ctx.Err(); err != nil {
		return Grant{}, err
	}

	token := newToken()
	rec, err := c.locks.TryAcquire(c.self, token)
	if err != nil {
		return Grant{}, err
	}
	if rec == nil {
		return Grant{}, c.lockedError()
	}
	return Grant{Token: token, Record: rec}, nil
}

func (c *Coordinator) lockedError() error {
	rec, err := c.locks.Read()
	switch {
	case err != nil:
		return fmt.Errorf("%w (holder unreadable: %v)", ErrLocked, err)
	case rec == nil:
		// Released between the attempt and the read.
		return ErrLocked
	default:
		return fmt.Errorf("%w by %s", ErrLocked, rec)
	}
}

// AcquireWait joins the queue and polls until this participant is granted
// the lock, its ticket is withdrawn, or ctx is done. Before each check it
// sleeps for poll, or less if the waker fires.
func (c *Coordinator) AcquireWait(ctx context.Context, poll time.Duration) (Grant, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	entry, err := c.queue.Join(ctx, c.self)
	if err != nil {
		return Grant{}, err
	}
	log := c.logger.WithTicket(entry.Ticket)
	fmt.Fprintf(c.progress, "Joined writer queue as ticket %d\n", entry.Ticket)

	start := c.clock.Now()
	orphanWarned := false

	for {
		if err := c.sleep(ctx, poll); err != nil {
			c.withdraw(entry.Ticket, log)
			return Grant{}, err
		}

		// The ticket is checked before the lock so that a withdrawn or
		// orphaned waiter notices even while the lock is held.
		verdict, err := c.queue.HeadAllowsAttempt(entry.Ticket)
		if err != nil {
			c.withdraw(entry.Ticket, log)
			return Grant{}, err
		}

		switch verdict {
		case queue.VerdictGone:
			log.Warn("ticket withdrawn while waiting")
			return Grant{}, fmt.Errorf("%w: ticket %d", ErrTicketWithdrawn, entry.Ticket)

		case queue.VerdictOrphaned:
			if !orphanWarned {
				log.Warn("ticket owner is not running, will not attempt", "owner_pid", entry.PID)
				orphanWarned = true
			}
			continue

		case queue.VerdictWait:
			log.Debug("waiting behind earlier tickets")
			continue
		}

		rec, err := c.locks.Read()
		if err != nil {
			if errors.Is(err, lockstore.ErrCorruptRecord) {
				log.Warn("lock record unreadable, treating as held", "error", err.Error())
				continue
			}
			c.withdraw(entry.Ticket, log)
			return Grant{}, err
		}
		if rec != nil {
			log.Debug("lock held", "holder_host", rec.Host, "holder_pid", rec.PID)
			continue
		}

		token := newToken()
		granted, err := c.locks.TryAcquire(c.self, token)
		if err != nil {
			c.withdraw(entry.Ticket, log)
			return Grant{}, err
		}
		if granted == nil {
			log.Debug("lost race for free lock")
			continue
		}

		if _, err := c.queue.Leave(entry.Ticket); err != nil {
			// An entry left behind by a live owner would block every later
			// ticket, so give the lock back rather than hold it.
			if _, relErr := c.locks.Release(token, false); relErr != nil {
				log.Error("failed to release lock after leave failure", "error", relErr.Error())
			}
			return Grant{}, fmt.Errorf("failed to leave queue after acquiring lock: %w", err)
		}

		waited := c.clock.Now().Sub(start)
		log.Info("lock granted from queue", "waited", waited.String())
		return Grant{Token: token, Record: granted, Ticket: entry.Ticket, Waited: waited}, nil
	}
}

// sleep waits for poll, an early wake hint, or ctx.
func (c *Coordinator) sleep(ctx context.Context, poll time.Duration) error {
	var wake <-chan struct{}
	if c.waker != nil {
		wake = c.waker.Wake()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(poll):
	case <-wake:
	}
	return nil
}

// withdraw removes a waiter's own ticket on the way out.
func (c *Coordinator) withdraw(ticket int64, log *logging.Logger) {
	if _, err := c.queue.Leave(ticket); err != nil {
		log.Warn("failed to withdraw ticket", "error", err.Error())
	}
}

// Release gives up the lock. Without force, token must match the holder's.
func (c *Coordinator) Release(ctx context.Context, token string, force bool) (*lockstore.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.locks.Release(token, force)
}

// Status reads the lock and queue without taking the queue mutex.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}

	st := Status{At: c.clock.Now()}

	rec, err := c.locks.Read()
	switch {
	case errors.Is(err, lockstore.ErrCorruptRecord):
		st.LockErr = err
	case err != nil:
		return Status{}, err
	default:
		st.Lock = rec
	}

	st.Entries, st.QueueErr = c.queue.Entries()
	return st, nil
}

// Cancel withdraws ticket from the queue. It reports whether the ticket was
// still queued. A waiter holding the ticket exits with ErrTicketWithdrawn
// at its next check.
func (c *Coordinator) Cancel(ctx context.Context, ticket int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if ticket <= 0 {
		return false, fmt.Errorf("invalid ticket %d", ticket)
	}
	return c.queue.Leave(ticket)
}

// Prune removes queued tickets whose owners have exited.
func (c *Coordinator) Prune(ctx context.Context) ([]int64, error) {
	return c.queue.Prune(ctx)
}
