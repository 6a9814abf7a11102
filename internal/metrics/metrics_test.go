package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterLockMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterLockMetrics(reg)

	Observe(Snapshot{At: time.Now()})

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != 6 {
		t.Fatalf("expected 6 metrics registered, got %d", len(mfs))
	}
}

func TestRegisterLockMetricsDuplicatePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterLockMetrics(reg)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	RegisterLockMetrics(reg)
}

func TestObserve(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	Observe(Snapshot{
		At:         now,
		Locked:     true,
		AcquiredAt: now.Add(-90 * time.Second),
		Depth:      3,
		OldestJoin: now.Add(-time.Minute),
		Corrupt:    1,
	})

	checks := []struct {
		name  string
		gauge prometheus.Gauge
		want  float64
	}{
		{"locked", Locked, 1},
		{"held", HeldSeconds, 90},
		{"depth", QueueDepth, 3},
		{"oldest", OldestWaitSeconds, 60},
		{"corrupt", CorruptRecords, 1},
		{"observed", ObservedAt, float64(now.Unix())},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.gauge); got != c.want {
			t.Errorf("%s = %v, want %v", c.name, got, c.want)
		}
	}

	Observe(Snapshot{At: now})
	if got := testutil.ToFloat64(Locked); got != 0 {
		t.Errorf("locked after unlock = %v, want 0", got)
	}
	if got := testutil.ToFloat64(HeldSeconds); got != 0 {
		t.Errorf("held after unlock = %v, want 0", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterLockMetrics(reg)
	Observe(Snapshot{At: time.Now(), Locked: true, Depth: 2})

	path := filepath.Join(t.TempDir(), "writerlock.prom")
	if err := WriteTextfile(path, reg); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	for _, want := range []string{"writerlock_locked 1", "writerlock_queue_depth 2"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %q:\n%s", want, data)
		}
	}
}
