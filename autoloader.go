// autoloader.go: filesystem watcher that keeps a store in sync with its file
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cascade

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/fsnotify/fsnotify"
)

// FileAutoloader watches a store's backing file and reloads the store when
// something other than the store itself rewrites it. Self-inflicted events
// (the store's own saves) are announced through IgnoreChange before the
// write happens and consumed silently when they arrive.
//
// The watch is placed on the file's parent directory, not the file itself:
// editors that save atomically replace the inode, and a file-level watch
// would die with the old inode.
type FileAutoloader struct {
	store  *Store
	opts   AutoloaderOptions
	logger Logger

	mu          sync.Mutex
	ignoreCount int
	running     bool
	watcher     *fsnotify.Watcher
	done        chan struct{}
	wg          sync.WaitGroup

	enabled       atomic.Bool
	renamePending atomic.Bool

	reloads    atomic.Int64
	suppressed atomic.Int64
	failures   atomic.Int64
	backups    atomic.Int64
	started    time.Time
}

// AutoloaderStats is a point-in-time snapshot of watcher activity.
type AutoloaderStats struct {
	Running    bool          `json:"running"`
	Enabled    bool          `json:"enabled"`
	Uptime     time.Duration `json:"uptime"`
	Reloads    int64         `json:"reloads"`
	Suppressed int64         `json:"suppressed"`
	Failures   int64         `json:"failures"`
	Backups    int64         `json:"backups"`
}

func newFileAutoloader(store *Store, opts AutoloaderOptions, logger Logger) *FileAutoloader {
	a := &FileAutoloader{
		store:  store,
		opts:   opts,
		logger: logger,
	}
	a.enabled.Store(true)
	return a
}

// Start begins watching the backing file's directory. Starting a running
// autoloader fails with the AutoloaderState coded error.
func (a *FileAutoloader) Start() error {
	// Lock order is store.mu then a.mu (the save path announces its write
	// under the store lock), so the path is read before locking here.
	path := a.store.Filepath()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return NewAutoloaderStateError("already running")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return NewWatchError(path, err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return NewWatchError(path, err)
	}

	a.watcher = watcher
	a.done = make(chan struct{})
	a.running = true
	a.started = timecache.CachedTime()

	a.wg.Add(1)
	go a.run(watcher, a.done)

	a.logger.Debug("Autoloader started", "path", path)
	return nil
}

// Stop ends the watch and joins the dispatcher goroutine before returning,
// so no reload can fire after Stop. Stopping a stopped autoloader fails
// with the AutoloaderState coded error.
func (a *FileAutoloader) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return NewAutoloaderStateError("not running")
	}
	a.running = false
	watcher := a.watcher
	a.watcher = nil
	close(a.done)
	a.mu.Unlock()

	a.wg.Wait()
	err := watcher.Close()

	a.logger.Debug("Autoloader stopped", "path", a.store.Filepath())
	if err != nil {
		return NewWatchError(a.store.Filepath(), err)
	}
	return nil
}

// Running reports whether the watch is active.
func (a *FileAutoloader) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Enable resumes reacting to filesystem events.
func (a *FileAutoloader) Enable() {
	a.enabled.Store(true)
}

// Disable suspends reacting to filesystem events. The watch stays alive;
// events raised while disabled are dropped, not queued.
func (a *FileAutoloader) Disable() {
	a.enabled.Store(false)
}

// Enabled reports whether events are currently being acted upon.
func (a *FileAutoloader) Enabled() bool {
	return a.enabled.Load()
}

// IgnoreChange marks the next modification of the watched file as
// self-inflicted. Calls accumulate: three saves mean three suppressed
// events. Must be called before the write that causes the event.
func (a *FileAutoloader) IgnoreChange() {
	a.mu.Lock()
	a.ignoreCount++
	a.mu.Unlock()
}

// unignoreChange rolls back an IgnoreChange whose write never happened.
func (a *FileAutoloader) unignoreChange() {
	a.mu.Lock()
	if a.ignoreCount > 0 {
		a.ignoreCount--
	}
	a.mu.Unlock()
}

func (a *FileAutoloader) consumeIgnore() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ignoreCount > 0 {
		a.ignoreCount--
		return true
	}
	return false
}

// Stats returns a snapshot of watcher activity counters.
func (a *FileAutoloader) Stats() AutoloaderStats {
	a.mu.Lock()
	running := a.running
	started := a.started
	a.mu.Unlock()

	var uptime time.Duration
	if running {
		uptime = timecache.CachedTime().Sub(started)
	}
	return AutoloaderStats{
		Running:    running,
		Enabled:    a.enabled.Load(),
		Uptime:     uptime,
		Reloads:    a.reloads.Load(),
		Suppressed: a.suppressed.Load(),
		Failures:   a.failures.Load(),
		Backups:    a.backups.Load(),
	}
}

func (a *FileAutoloader) run(watcher *fsnotify.Watcher, done chan struct{}) {
	defer a.wg.Done()
	for {
		select {
		case <-done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			a.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			a.logger.Warn("Autoloader watch error", "path", a.store.Filepath(), "error", err)
		}
	}
}

// handleEvent reacts to one directory event. Only events touching the
// backing file matter, with one exception: after a rename of the backing
// file, the next create in the directory is taken as the rename's
// destination. fsnotify rename events carry only the old name, so the
// destination has to be inferred. A create at the original path instead
// means an editor replaced the file atomically, which is a plain modify.
func (a *FileAutoloader) handleEvent(event fsnotify.Event) {
	if !a.enabled.Load() {
		return
	}
	path := a.store.Filepath()

	if a.renamePending.Load() && event.Op.Has(fsnotify.Create) {
		// Backup siblings written during recovery must not be mistaken for
		// the rename's destination; keep waiting for the real one.
		if event.Name != path && strings.HasSuffix(event.Name, ".backup") {
			return
		}
		a.renamePending.Store(false)
		if event.Name != path {
			a.logger.Info("Backing file moved", "from", path, "to", event.Name)
			a.store.setFilepath(event.Name)
			return
		}
		a.reload()
		return
	}

	if event.Name != path {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Rename):
		a.renamePending.Store(true)
	case event.Op.Has(fsnotify.Remove):
		a.reload()
	case event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create):
		if a.consumeIgnore() {
			a.suppressed.Add(1)
			a.logger.Debug("Self-inflicted file event suppressed", "path", path)
			return
		}
		a.reload()
	}
}

// reload absorbs an external edit. Errors never propagate out of the
// dispatcher: an unreadable or unparsable file is logged, counted, and
// handled per the recovery options (timestamped backup of the in-memory
// layer, optional clear).
func (a *FileAutoloader) reload() {
	path := a.store.Filepath()
	err := a.store.load(false)
	if err == nil {
		a.reloads.Add(1)
		a.logger.Info("Configuration reloaded from external edit", "path", path)
		return
	}

	a.failures.Add(1)
	a.logger.Error("Reload after external edit failed", "path", path, "error", err)
	a.store.auditEvent("reload_failed", map[string]interface{}{
		"path":  path,
		"error": err.Error(),
	})

	if a.opts.BackupOnReloadFailure {
		a.writeRecoveryBackup(path)
	}
	if a.opts.ClearOnReloadFailure {
		a.store.clearVariables()
		a.logger.Warn("Variable layer cleared after reload failure", "path", path)
	}
}

// writeRecoveryBackup snapshots the in-memory layer to a timestamped
// sibling file so a corrupt external edit can be reconciled by hand.
func (a *FileAutoloader) writeRecoveryBackup(path string) {
	backupPath := fmt.Sprintf("%s.%d.backup", path, timecache.CachedTimeNano())
	a.store.mu.Lock()
	a.store.writeBackupLocked(backupPath)
	a.store.mu.Unlock()
	a.backups.Add(1)
}
