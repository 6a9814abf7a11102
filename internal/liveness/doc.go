// Package liveness decides whether the process recorded in a lock, ticket, or
// mutex record is still a live participant or an orphan left behind by a
// crashed caller.
//
// # Oracles
//
// The [Oracle] interface has a single predicate, IsAlive(host, pid). The
// [Local] oracle answers it from the local process table and treats any
// process on another host as alive, because there is no way to observe it
// from here and wrongly declaring a live writer dead is worse than waiting.
// A lease or heartbeat based oracle can be plugged in behind the same
// interface for shared stores spanning several machines.
//
// [Func] adapts a plain function, which is mostly useful in tests:
//
//	dead := map[int]bool{4242: true}
//	oracle := liveness.Func(func(host string, pid int) bool {
//	    return !dead[pid]
//	})
//
// # Identity
//
// Every record names its owner with a [Process]: the short host name (first
// DNS label, see [Hostname]) and a pid.
package liveness
