package am

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/grove/errors"
	"github.com/teranos/grove/logger"
	"github.com/teranos/grove/pulse/schedule"
)

// ConfigWatcher watches a config file for changes and triggers reload callbacks
type ConfigWatcher struct {
	configPath     string
	watcher        *fsnotify.Watcher
	logger         *zap.SugaredLogger
	load           func() (*Config, error)
	callbacks      []ReloadCallback
	mu             sync.RWMutex
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
	done           chan struct{}

	isOwnWrite      bool // Flag to prevent reload loops
	isOwnWriteMutex sync.Mutex
}

// ReloadCallback is called when config is reloaded
type ReloadCallback func(*Config) error

// globalWatcher holds the watcher that persist.go notifies about its own writes
var (
	globalWatcher   *ConfigWatcher
	globalWatcherMu sync.Mutex
)

// NewConfigWatcher creates a watcher for configPath. The parent directory is
// watched so that editors replacing the file atomically are still seen.
func NewConfigWatcher(configPath string, log *zap.SugaredLogger) (*ConfigWatcher, error) {
	if log == nil {
		log = logger.ComponentLogger("am")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}

	dir := filepath.Dir(configPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "failed to watch config directory %s", dir)
	}

	return &ConfigWatcher{
		configPath:     configPath,
		watcher:        watcher,
		logger:         log,
		load:           reloadGlobal,
		debouncePeriod: 500 * time.Millisecond, // Debounce rapid file changes
	}, nil
}

// reloadGlobal drops the cached config and loads it again.
func reloadGlobal() (*Config, error) {
	Reset()
	return Load()
}

// WithDebounce changes the quiet period before a reload fires.
func (cw *ConfigWatcher) WithDebounce(d time.Duration) *ConfigWatcher {
	cw.debouncePeriod = d
	return cw
}

// WithLoader replaces the function used to re-read configuration.
func (cw *ConfigWatcher) WithLoader(load func() (*Config, error)) *ConfigWatcher {
	cw.load = load
	return cw
}

// OnReload registers a callback to be called when config is reloaded
func (cw *ConfigWatcher) OnReload(callback ReloadCallback) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// MarkOwnWrite marks the next write as coming from us (prevents reload loops)
func (cw *ConfigWatcher) MarkOwnWrite() {
	cw.isOwnWriteMutex.Lock()
	defer cw.isOwnWriteMutex.Unlock()
	cw.isOwnWrite = true
}

func (cw *ConfigWatcher) checkOwnWrite() bool {
	cw.isOwnWriteMutex.Lock()
	defer cw.isOwnWriteMutex.Unlock()
	if cw.isOwnWrite {
		cw.isOwnWrite = false
		return true
	}
	return false
}

// Start begins watching for config file changes
func (cw *ConfigWatcher) Start() {
	cw.mu.Lock()
	if cw.done != nil {
		cw.mu.Unlock()
		return
	}
	done := make(chan struct{})
	cw.done = done
	cw.mu.Unlock()
	go cw.watchLoop(done)
}

func (cw *ConfigWatcher) watchLoop(done chan struct{}) {
	defer close(done)
	target := filepath.Clean(cw.configPath)

	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if cw.checkOwnWrite() {
				cw.logger.Debugw("Config watcher ignoring own write", "file", event.Name)
				continue
			}

			cw.logger.Infow("Config watcher detected change",
				"file", event.Name,
				"op", event.Op.String())
			cw.scheduleReload()

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warnw("Config watcher error", logger.FieldError, err)
		}
	}
}

// scheduleReload debounces rapid file changes and triggers reload
func (cw *ConfigWatcher) scheduleReload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	cw.debounceTimer = time.AfterFunc(cw.debouncePeriod, func() {
		if err := cw.reload(); err != nil {
			cw.logger.Errorw("Config reload failed", logger.FieldError, err)
		}
	})
}

// reload reloads the configuration and calls all callbacks
func (cw *ConfigWatcher) reload() error {
	newConfig, err := cw.load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	cw.logger.Infow("Config reloaded successfully", "path", cw.configPath)

	cw.mu.RLock()
	callbacks := make([]ReloadCallback, len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.RUnlock()

	for _, callback := range callbacks {
		if err := callback(newConfig); err != nil {
			// Continue calling other callbacks even if one fails
			cw.logger.Warnw("Config reload callback error", logger.FieldError, err)
		}
	}
	return nil
}

// Stop stops watching for config changes
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	done := cw.done
	cw.mu.Unlock()

	err := cw.watcher.Close()
	if done != nil {
		<-done
	}
	return err
}

// SetGlobalWatcher sets the global watcher instance (used to prevent reload loops)
func SetGlobalWatcher(watcher *ConfigWatcher) {
	globalWatcherMu.Lock()
	defer globalWatcherMu.Unlock()
	globalWatcher = watcher
}

// JobToggler is the part of the scheduler that job overrides act on.
type JobToggler interface {
	GetJob(ctx context.Context, jobID string) (*schedule.Job, error)
	ToggleJob(ctx context.Context, jobID string, enabled bool) (*schedule.Job, error)
}

// ApplyJobOverrides brings every job with a scheduler.jobs.<id>.enabled
// override in line with it. Overrides naming unknown jobs are logged and
// skipped. It returns how many jobs changed state.
func ApplyJobOverrides(ctx context.Context, t JobToggler, cfg *Config, log *zap.SugaredLogger) (int, error) {
	changed := 0
	for _, id := range cfg.Scheduler.JobIDs() {
		want, ok := cfg.Scheduler.JobEnabled(id)
		if !ok {
			continue
		}
		job, err := t.GetJob(ctx, id)
		if errors.IsNotFoundError(err) {
			log.Warnw("Config override names unknown job", logger.FieldJobID, id)
			continue
		}
		if err != nil {
			return changed, err
		}
		if job.Enabled == want {
			continue
		}
		if _, err := t.ToggleJob(ctx, id, want); err != nil {
			return changed, errors.Wrapf(err, "failed to apply override for %s", id)
		}
		log.Infow("Applied job override", logger.FieldJobID, id, "enabled", want)
		changed++
	}
	return changed, nil
}
