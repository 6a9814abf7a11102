// Package metrics exposes the writer lock's state as Prometheus gauges.
// The CLI is short-lived, so gauges are written to a node_exporter textfile
// rather than served.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Locked is 1 while the writer lock is held.
	Locked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "writerlock_locked",
		Help: "Whether the writer lock is held (1) or free (0)",
	})
	// HeldSeconds reports how long the current holder has had the lock.
	HeldSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "writerlock_held_seconds",
		Help: "Seconds since the current holder acquired the writer lock",
	})
	// QueueDepth reports the number of queued tickets.
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "writerlock_queue_depth",
		Help: "Number of tickets waiting for the writer lock",
	})
	// OldestWaitSeconds reports how long the oldest ticket has waited.
	OldestWaitSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "writerlock_queue_oldest_wait_seconds",
		Help: "Seconds the oldest queued ticket has been waiting",
	})
	// CorruptRecords counts unreadable lock and queue records seen.
	CorruptRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "writerlock_corrupt_records",
		Help: "Number of lock or queue records that could not be parsed",
	})
	// ObservedAt is the Unix time of the last observation.
	ObservedAt = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "writerlock_observed_timestamp_seconds",
		Help: "Unix time at which the lock state was observed",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterLockMetrics registers writer lock metrics on the provided registry.
func RegisterLockMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Locked, HeldSeconds, QueueDepth, OldestWaitSeconds, CorruptRecords, ObservedAt)
}

// Snapshot is the state recorded by Observe.
type Snapshot struct {
	At         time.Time
	Locked     bool
	AcquiredAt time.Time
	Depth      int
	OldestJoin time.Time
	Corrupt    int
}

// Observe sets every gauge from s.
func Observe(s Snapshot) {
	Locked.Set(boolToFloat(s.Locked))
	HeldSeconds.Set(sinceSeconds(s.At, s.AcquiredAt))
	QueueDepth.Set(float64(s.Depth))
	OldestWaitSeconds.Set(sinceSeconds(s.At, s.OldestJoin))
	CorruptRecords.Set(float64(s.Corrupt))
	ObservedAt.Set(float64(s.At.Unix()))
}

// WriteTextfile writes the registry's metrics to path in the text
// exposition format, replacing the file atomically.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func sinceSeconds(now, then time.Time) float64 {
	if then.IsZero() || then.After(now) {
		return 0
	}
	return now.Sub(then).Seconds()
}
