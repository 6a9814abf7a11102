package queue

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Iron-Ham/writerlock/internal/liveness"
	"github.com/Iron-Ham/writerlock/internal/meta"
)

// Entry is one waiter's place in the queue. The file name is the ticket.
type Entry struct {
	Ticket   int64
	Host     string
	PID      int
	JoinedAt time.Time

	// Corrupt is set by Entries when the file exists but cannot be parsed.
	// Only Ticket is meaningful in that case.
	Corrupt bool
}

// Owner returns the process waiting on the ticket.
func (e Entry) Owner() liveness.Process {
	return liveness.Process{Host: e.Host, PID: e.PID}
}

func (e Entry) encode() []byte {
	return meta.Encode(
		meta.Int("ticket", e.Ticket),
		meta.String("host", e.Host),
		meta.Int("pid", int64(e.PID)),
		meta.Time("joined_at", e.JoinedAt),
	)
}

func decodeEntry(ticket int64, data []byte) (Entry, error) {
	values, err := meta.Decode(data)
	if err != nil {
		return Entry{}, err
	}
	host, err := values.String("host")
	if err != nil {
		return Entry{}, err
	}
	pid, err := values.Int("pid")
	if err != nil {
		return Entry{}, err
	}
	joinedAt, err := values.Time("joined_at")
	if err != nil {
		return Entry{}, err
	}
	// The file name is authoritative; a stored ticket that disagrees means the
	// file was copied or hand-edited.
	if stored, ok := values["ticket"]; ok && stored != strconv.FormatInt(ticket, 10) {
		return Entry{}, fmt.Errorf("%w: ticket field %q does not match file %d", meta.ErrCorrupt, stored, ticket)
	}
	return Entry{Ticket: ticket, Host: host, PID: int(pid), JoinedAt: joinedAt}, nil
}

// Verdict is the answer to "may this ticket try to take the lock now?".
type Verdict int

const (
	// VerdictWait means a live waiter with a lower ticket is ahead.
	VerdictWait Verdict = iota
	// VerdictAttempt means the ticket is the lowest live entry.
	VerdictAttempt
	// VerdictGone means the ticket's entry no longer exists.
	VerdictGone
	// VerdictOrphaned means the ticket's own owner is not alive.
	VerdictOrphaned
)

func (v Verdict) String() string {
	switch v {
	case VerdictWait:
		return "wait"
	case VerdictAttempt:
		return "attempt"
	case VerdictGone:
		return "gone"
	case VerdictOrphaned:
		return "orphaned"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}
