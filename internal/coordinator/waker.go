package coordinator

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/writerlock/internal/logging"
)

// FSWaker turns filesystem events in the lock root and queue directories
// into wake hints. Events are coalesced: at most one hint is pending.
type FSWaker struct {
	watcher *fsnotify.Watcher
	logger  *logging.Logger
	wake    chan struct{}
	stopCh  chan struct{}
	once    sync.Once
}

// NewFSWaker watches dirs, creating any that do not exist yet, and starts
// delivering hints.
func NewFSWaker(logger *logging.Logger, dirs ...string) (*FSWaker, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	if logger == nil {
		logger = logging.NopLogger()
	}

	w := &FSWaker{
		watcher: watcher,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
	go w.watchLoop()
	return w, nil
}

// Wake returns the channel on which hints are delivered.
func (w *FSWaker) Wake() <-chan struct{} {
	return w.wake
}

// Close stops watching. It is safe to call more than once.
func (w *FSWaker) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
	})
	return err
}

func (w *FSWaker) watchLoop() {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Lock directories appear and vanish by rename; entries by
			// create, rename and remove. Writes are never the final step.
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case w.wake <- struct{}{}:
			default:
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Debug("filesystem watch error", "error", err.Error())
		}
	}
}
