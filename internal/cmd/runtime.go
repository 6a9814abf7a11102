package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/writerlock/internal/config"
	"github.com/Iron-Ham/writerlock/internal/coordinator"
	"github.com/Iron-Ham/writerlock/internal/gitdir"
	"github.com/Iron-Ham/writerlock/internal/liveness"
	"github.com/Iron-Ham/writerlock/internal/lockstore"
	"github.com/Iron-Ham/writerlock/internal/logging"
	"github.com/Iron-Ham/writerlock/internal/queue"
	"github.com/spf13/cobra"
)

// runtime bundles what a command needs to talk to the lock.
type runtime struct {
	cfg    *config.Config
	root   string
	logger *logging.Logger
	locks  *lockstore.Store
	queue  *queue.Store
	coord  *coordinator.Coordinator
	waker  *coordinator.FSWaker
}

// newRuntime loads configuration, locates the lock root and wires the
// stores for the named command.
func newRuntime(cmd *cobra.Command, command string) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	root, err := resolveRoot(cfg)
	if err != nil {
		return nil, err
	}

	oracle := liveness.NewLocal()
	self := oracle.Self()
	if cfg.PIDOverride > 0 {
		self.PID = cfg.PIDOverride
	}

	base := openLogger(cmd, cfg, root)
	log := base.WithCommand(command).WithProcess(self.Host, self.PID)

	locks := lockstore.New(root, lockstore.WithLogger(log))
	// The mutex records the real pid so that a crashed CLI call is
	// reclaimable even when tickets name a longer-lived wrapper.
	q := queue.New(root, oracle,
		queue.WithLogger(log),
		queue.WithMutexRetry(cfg.Mutex.RetryInterval),
		queue.WithMutexTimeout(cfg.Mutex.Timeout),
	)

	return &runtime{
		cfg:    cfg,
		root:   root,
		logger: base,
		locks:  locks,
		queue:  q,
		coord: coordinator.New(locks, q, self,
			coordinator.WithLogger(log),
			coordinator.WithProgress(cmd.ErrOrStderr()),
		),
	}, nil
}

// watch replaces the coordinator with one that re-checks on filesystem
// changes in the lock root and queue.
func (r *runtime) watch(cmd *cobra.Command) error {
	waker, err := coordinator.NewFSWaker(r.logger, r.root, r.queue.EntriesDir())
	if err != nil {
		return fmt.Errorf("failed to watch lock directory: %w", err)
	}
	r.waker = waker

	self := r.coord.Self()
	log := r.logger.WithCommand(cmd.Name()).WithProcess(self.Host, self.PID)
	r.coord = coordinator.New(r.locks, r.queue, self,
		coordinator.WithLogger(log),
		coordinator.WithProgress(cmd.ErrOrStderr()),
		coordinator.WithWaker(waker),
	)
	return nil
}

func (r *runtime) close() {
	if r.waker != nil {
		_ = r.waker.Close()
	}
	_ = r.logger.Close()
}

// resolveRoot returns the configured lock root, or the git common dir of
// the working directory.
func resolveRoot(cfg *config.Config) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	if cfg.Root != "" {
		return filepath.Clean(config.ExpandPath(cfg.Root, cwd)), nil
	}

	root, err := gitdir.CommonDir(cwd)
	if err != nil {
		return "", fmt.Errorf("cannot locate lock root (use --root or WRITER_LOCK_ROOT outside a git repository): %w", err)
	}
	return root, nil
}

// openLogger opens the shared audit log. Logging problems never block lock
// operations; they fall back to discarding output.
func openLogger(cmd *cobra.Command, cfg *config.Config, root string) *logging.Logger {
	if !cfg.Logging.Enabled {
		return logging.NopLogger()
	}
	path := cfg.Logging.ResolveFile(root, logging.DefaultFileName)
	logger, err := logging.NewLogger(path, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: audit log disabled: %v\n", err)
		return logging.NopLogger()
	}
	return logger
}
