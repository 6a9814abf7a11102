package liveness

import (
	"fmt"
	"os"
	"strings"
)

// Process identifies a participant by host and process id.
type Process struct {
	Host string
	PID  int
}

// String returns "pid <pid> on <host>".
func (p Process) String() string {
	return fmt.Sprintf("pid %d on %s", p.PID, p.Host)
}

// Oracle reports whether a recorded participant is still running.
type Oracle interface {
	IsAlive(host string, pid int) bool
}

// Func adapts an ordinary function to the Oracle interface.
type Func func(host string, pid int) bool

// IsAlive calls f(host, pid).
func (f Func) IsAlive(host string, pid int) bool {
	return f(host, pid)
}

// Local answers liveness questions from the local process table.
type Local struct {
	host  string
	probe func(pid int) bool
}

// NewLocal returns an oracle for the current host.
func NewLocal() *Local {
	return &Local{host: Hostname(), probe: processExists}
}

// Host returns the short name of the host this oracle can observe.
func (l *Local) Host() string {
	return l.host
}

// IsAlive reports whether pid is running on host. Non-positive pids are never
// alive. Processes on other hosts cannot be observed and are reported alive.
func (l *Local) IsAlive(host string, pid int) bool {
	if pid <= 0 {
		return false
	}
	if host != l.host {
		return true
	}
	return l.probe(pid)
}

// Self returns the identity of the calling process on this host.
func (l *Local) Self() Process {
	return Process{Host: l.host, PID: os.Getpid()}
}

// Hostname returns the first label of the machine's host name, or "unknown".
func Hostname() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "unknown"
	}
	short, _, _ := strings.Cut(hostname, ".")
	return short
}
