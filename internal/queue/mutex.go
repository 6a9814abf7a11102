package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/writerlock/internal/clock"
	"github.com/Iron-Ham/writerlock/internal/liveness"
	"github.com/Iron-Ham/writerlock/internal/logging"
	"github.com/Iron-Ham/writerlock/internal/meta"
)

var (
	// ErrMutexTimeout is returned when the queue mutex could not be taken
	// within the configured timeout.
	ErrMutexTimeout = errors.New("timed out waiting for queue mutex")

	// ErrMutexNotHeld is returned by Unlock when the mutex record on disk
	// does not belong to this Mutex.
	ErrMutexNotHeld = errors.New("queue mutex is not held by this process")
)

// Mutex is the short-lived lock that serializes ticket allocation and queue
// maintenance. It is a directory published with a meta record naming its
// holder. A holder on this host whose process has died is reclaimed; holders
// on other hosts are waited on.
type Mutex struct {
	dir     string
	owner   liveness.Process
	oracle  liveness.Oracle
	clock   clock.Clock
	logger  *logging.Logger
	retry   time.Duration
	timeout time.Duration

	mu    sync.Mutex // guards nonce
	nonce string
}

type mutexRecord struct {
	holder     liveness.Process
	nonce      string
	acquiredAt time.Time
}

func decodeMutex(data []byte) (mutexRecord, error) {
	values, err := meta.Decode(data)
	if err != nil {
		return mutexRecord{}, err
	}
	host, err := values.String("host")
	if err != nil {
		return mutexRecord{}, err
	}
	pid, err := values.Int("pid")
	if err != nil {
		return mutexRecord{}, err
	}
	// acquired_at is informational; records holding only host and pid are
	// still reclaimable.
	var acquiredAt time.Time
	if _, ok := values["acquired_at"]; ok {
		if acquiredAt, err = values.Time("acquired_at"); err != nil {
			return mutexRecord{}, err
		}
	}
	// Records written without a nonce are matched on holder alone.
	return mutexRecord{
		holder:     liveness.Process{Host: host, PID: int(pid)},
		nonce:      values["nonce"],
		acquiredAt: acquiredAt,
	}, nil
}

func (r mutexRecord) same(other mutexRecord) bool {
	return r.holder == other.holder && r.nonce == other.nonce && r.acquiredAt.Equal(other.acquiredAt)
}

// Lock takes the mutex, retrying until ctx is done or the timeout elapses.
func (m *Mutex) Lock(ctx context.Context) error {
	var deadline time.Time
	if m.timeout > 0 {
		deadline = m.clock.Now().Add(m.timeout)
	}

	for attempt := 1; ; attempt++ {
		nonce := uuid.NewString()
		data := meta.Encode(
			meta.String("host", m.owner.Host),
			meta.Int("pid", int64(m.owner.PID)),
			meta.String("nonce", nonce),
			meta.Time("acquired_at", m.clock.Now()),
		)

		err := meta.Publish(m.dir, data)
		if err == nil {
			m.mu.Lock()
			m.nonce = nonce
			m.mu.Unlock()
			if attempt > 1 {
				m.logger.Debug("queue mutex acquired", "attempts", attempt)
			}
			return nil
		}
		if !errors.Is(err, meta.ErrExists) {
			return fmt.Errorf("failed to create queue mutex: %w", err)
		}

		holder, reclaimed := m.reclaimStale()
		if reclaimed {
			continue
		}

		if !deadline.IsZero() && !m.clock.Now().Before(deadline) {
			if holder != nil {
				return fmt.Errorf("%w: held by %s", ErrMutexTimeout, holder.holder)
			}
			return ErrMutexTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(m.retry):
		}
	}
}

// reclaimStale removes the mutex if its holder is a dead process on this
// host. It returns the observed holder, if readable.
func (m *Mutex) reclaimStale() (*mutexRecord, bool) {
	data, err := meta.ReadDir(m.dir)
	if err != nil {
		// Released between our attempt and this read; retry right away.
		return nil, errors.Is(err, meta.ErrNotExist)
	}
	observed, err := decodeMutex(data)
	if err != nil {
		m.logger.Warn("queue mutex record is unreadable, waiting", "error", err.Error())
		return nil, false
	}
	if m.oracle.IsAlive(observed.holder.Host, observed.holder.PID) {
		return &observed, false
	}

	tomb, err := meta.Retire(m.dir)
	if err != nil {
		return &observed, errors.Is(err, meta.ErrNotExist)
	}

	data, err = tomb.Data()
	var retired mutexRecord
	if err == nil {
		retired, err = decodeMutex(data)
	}
	if err != nil || !retired.same(observed) {
		// A new holder replaced the stale one before the retire.
		if restoreErr := tomb.Restore(); restoreErr != nil {
			m.logger.Error("failed to restore queue mutex, retired record kept",
				"retired", tomb.Path(), "error", restoreErr.Error())
		}
		return &observed, false
	}

	if err := tomb.Bury(); err != nil {
		m.logger.Warn("failed to remove stale queue mutex", "error", err.Error())
	}
	m.logger.Warn("reclaimed stale queue mutex",
		"stale_host", observed.holder.Host,
		"stale_pid", observed.holder.PID,
	)
	return &observed, true
}

// Unlock releases the mutex taken by Lock.
func (m *Mutex) Unlock() error {
	m.mu.Lock()
	nonce := m.nonce
	m.nonce = ""
	m.mu.Unlock()
	if nonce == "" {
		return ErrMutexNotHeld
	}

	tomb, err := meta.Retire(m.dir)
	if err != nil {
		if errors.Is(err, meta.ErrNotExist) {
			return ErrMutexNotHeld
		}
		return fmt.Errorf("failed to release queue mutex: %w", err)
	}

	data, err := tomb.Data()
	var rec mutexRecord
	if err == nil {
		rec, err = decodeMutex(data)
	}
	if err != nil || rec.nonce != nonce {
		if restoreErr := tomb.Restore(); restoreErr != nil {
			m.logger.Error("failed to restore queue mutex, retired record kept",
				"retired", tomb.Path(), "error", restoreErr.Error())
		}
		return ErrMutexNotHeld
	}

	return tomb.Bury()
}

// Holder returns the current mutex holder, or nil if the mutex is free.
// It never blocks.
func (m *Mutex) Holder() (*liveness.Process, error) {
	data, err := meta.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, meta.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	rec, err := decodeMutex(data)
	if err != nil {
		return nil, err
	}
	return &rec.holder, nil
}
