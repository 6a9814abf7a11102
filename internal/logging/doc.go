// Package logging provides structured logging for writer lock participants.
//
// This package wraps Go's log/slog to provide JSON-formatted logs. Every
// process that touches the lock appends to one shared audit log inside the
// lock root, so the log answers "who held the lock, and who was waiting"
// after the fact.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. The audit log is
// opened with O_APPEND and each record is emitted with a single write, so
// lines from concurrent processes interleave but do not tear. Child loggers
// created via With* methods share the underlying writer.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(filepath.Join(root, logging.DefaultFileName), "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Info("lock acquired", "holder_pid", pid)
//
// # Context Propagation
//
// Create child loggers with persistent context attributes:
//
//	log := logger.WithCommand("acquire").WithProcess(host, pid)
//	ticketLog := log.WithTicket(7)
//	ticketLog.Info("joined queue")
//
// # Log Levels
//
//   - DEBUG: poll iterations, mutex retries
//   - INFO: acquire, release, join, leave, prune
//   - WARN: stale mutex reclaimed, corrupt records skipped
//   - ERROR: failures that leave an operation incomplete
//
// # History
//
// [ReadHistory] parses the audit log and [FilterLogs] narrows it by level,
// time, ticket, pid or message text. [WriteHistory] renders the result as
// text or JSON for the history command.
//
// # Testing
//
// Use [NopLogger] for tests that do not need log output, or
// [NewWriterLogger] with a bytes.Buffer to assert on emitted records.
package logging
