// store.go: the hierarchical, reactive, file-backed configuration store
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cascade

import (
	"sync"

	"github.com/agilira/argus"
)

// Options configures a Store at construction time.
//
// Use DefaultOptions() as the starting point and override what the
// deployment needs. The zero value is usable but disables autosave, which
// is rarely what callers want for a file-backed store.
type Options struct {
	// Autosave writes the variable layer back to the backing file whenever a
	// mutation changes what a save would produce. Notification and
	// persistence are both change-triggered, not write-triggered: setting a
	// key to its current effective value does neither.
	Autosave bool

	// Autoload starts a FileAutoloader that watches the backing file and
	// absorbs external edits. Requires a backing file.
	Autoload bool

	// Defaults is the initial parent mapping: nil, a Map, or another *Store.
	Defaults Defaults

	// Logger receives lifecycle, persistence and recovery events.
	// nil selects the silent NoOpLogger.
	Logger Logger

	// Autoloader tunes how the watcher recovers from unreadable external
	// edits.
	Autoloader AutoloaderOptions

	// Audit enables an argus audit trail of persistence and watcher events.
	Audit argus.AuditConfig
}

// AutoloaderOptions controls FileAutoloader recovery behavior. Both flags
// apply only to the automatic reload path; a direct Load() call always
// propagates its error to the caller.
type AutoloaderOptions struct {
	// BackupOnReloadFailure writes a timestamped backup of the in-memory
	// variables when an external edit cannot be read or parsed.
	BackupOnReloadFailure bool

	// ClearOnReloadFailure additionally empties the variable layer, firing
	// delete/change notifications as appropriate. Off by default: a corrupt
	// external edit then leaves the last good state in memory.
	ClearOnReloadFailure bool
}

// DefaultOptions returns production defaults: autosave on, autoload off,
// reload-failure backups on, reload-failure clearing off, audit disabled.
func DefaultOptions() Options {
	return Options{
		Autosave: true,
		Autoload: false,
		Autoloader: AutoloaderOptions{
			BackupOnReloadFailure: true,
		},
	}
}

// Store is a string-keyed mapping of JSON-compatible values with a private
// variable layer, an inherited defaults chain, per-key observers and an
// optional backing file.
//
// The effective value of a key is the store's own variable if set, else the
// defaults chain's value, else absent. Merging is computed on read; no
// merged snapshot is ever stored.
//
// All methods are safe for concurrent use. Observer callbacks run after the
// store's lock is released, so callbacks may re-enter the store.
type Store struct {
	mu sync.Mutex

	filepath  string
	variables map[string]any
	defaults  Defaults

	// children are stores whose defaults point at this store. The relation
	// is non-owning bookkeeping: a child deregisters itself on Close or on
	// defaults reassignment.
	children []*Store

	changeCallbacks map[string]*callbackSet
	deleteCallbacks map[string]*callbackSet
	changeEnabled   bool
	deleteEnabled   bool
	nextHandle      uint64

	pending    *pendingCallbacks
	deferDepth int

	// pendingPrune holds keys whose registries must be dropped when the
	// deferred batch flushes with the key still deleted. A local delete
	// prunes immediately outside a deferred scope; inside one, a later set
	// may fold the delete away, so pruning has to wait for the flush.
	pendingPrune []string

	autosave       bool
	autoload       bool
	autoloader     *FileAutoloader
	autoloaderOpts AutoloaderOptions

	logger Logger
	audit  *argus.AuditLogger
	closed bool
}

// New opens the store backed by the file at path. The file must exist and
// parse; a missing or malformed file fails construction with the
// corresponding coded error rather than silently starting empty, so a
// mistyped path never masquerades as a fresh configuration.
func New(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, NewNoBackingFileError()
	}

	s := newStore(path, opts)
	if err := s.initAudit(opts.Audit); err != nil {
		s.detach()
		return nil, err
	}

	var fired []func()
	s.mu.Lock()
	err := s.loadLocked(&fired, true)
	s.mu.Unlock()
	if err != nil {
		s.closeAudit()
		s.detach()
		return nil, err
	}
	runAll(fired)

	if opts.Autoload {
		if err := s.SetAutoload(true); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	s.logger.Debug("Configuration store opened", "path", path, "autosave", s.Autosave(), "autoload", s.Autoload())
	return s, nil
}

// NewInMemory creates a store with no backing file. Save, Load and
// SetAutoload(true) return the NoBackingFile coded error; everything else
// behaves identically to a file-backed store.
func NewInMemory(opts Options) (*Store, error) {
	s := newStore("", opts)
	if err := s.initAudit(opts.Audit); err != nil {
		s.detach()
		return nil, err
	}
	return s, nil
}

func newStore(path string, opts Options) *Store {
	s := &Store{
		filepath:        path,
		variables:       make(map[string]any),
		defaults:        opts.Defaults,
		changeCallbacks: make(map[string]*callbackSet),
		deleteCallbacks: make(map[string]*callbackSet),
		changeEnabled:   true,
		deleteEnabled:   true,
		pending:         newPendingCallbacks(),
		autosave:        opts.Autosave,
		autoloaderOpts:  opts.Autoloader,
		logger:          NewLogger(opts.Logger),
	}
	if parent, ok := opts.Defaults.(*Store); ok {
		parent.addChild(s)
	}
	return s
}

// Close stops the autoloader (joining its dispatcher), deregisters the
// store from its parent's child list and closes the audit trail. Close is
// idempotent; the store must not be used afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	autoloader := s.autoloader
	s.autoloader = nil
	s.autoload = false
	s.mu.Unlock()

	if autoloader != nil && autoloader.Running() {
		if err := autoloader.Stop(); err != nil {
			s.logger.Warn("Autoloader stop failed during close", "error", err)
		}
	}
	s.detach()
	s.auditEvent("store_closed", map[string]interface{}{"path": s.Filepath()})
	s.closeAudit()
	return nil
}

// detach removes the store from its parent's child list.
func (s *Store) detach() {
	s.mu.Lock()
	parent, ok := s.defaults.(*Store)
	s.mu.Unlock()
	if ok {
		parent.removeChild(s)
	}
}

func (s *Store) initAudit(cfg argus.AuditConfig) error {
	if !cfg.Enabled {
		return nil
	}
	audit, err := argus.NewAuditLogger(cfg)
	if err != nil {
		return NewAuditError(err)
	}
	s.audit = audit
	return nil
}

func (s *Store) closeAudit() {
	if s.audit == nil {
		return
	}
	if err := s.audit.Close(); err != nil {
		s.logger.Warn("Audit logger close failed", "error", err)
	}
	s.audit = nil
}

func (s *Store) auditEvent(event string, context map[string]interface{}) {
	if s.audit != nil {
		s.audit.LogSecurityEvent(event, "Configuration store event", context)
	}
}

// addChild registers a dependent store. Guarded by this store's own lock;
// propagation iterates children while the initiating store's lock is held.
func (s *Store) addChild(child *Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.children {
		if existing == child {
			return
		}
	}
	s.children = append(s.children, child)
}

func (s *Store) removeChild(child *Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.children {
		if existing == child {
			s.children = append(s.children[:i], s.children[i+1:]...)
			return
		}
	}
}

// changeNotice records a change notification for key. Called with the
// initiating store's lock held; recursion into children deliberately takes
// no child lock (children are mutated through their own API by a single
// logical owner). When any store on the propagation path defers, the
// notification lands in that store's pending batch instead of firing.
func (s *Store) changeNotice(key string, current, previous any, deferred bool, out *[]func()) {
	if s.changeEnabled {
		if deferred || s.deferDepth > 0 {
			s.pending.addChange(key, current, previous)
		} else if set, ok := s.changeCallbacks[key]; ok {
			set.collectChange(current, previous, out)
		}
	}

	for _, child := range s.children {
		if _, shadowed := child.variables[key]; shadowed {
			continue
		}
		child.changeNotice(key, current, previous, deferred || s.deferDepth > 0, out)
	}
}

// deleteNotice records a delete notification for key; same locking and
// propagation rules as changeNotice.
func (s *Store) deleteNotice(key string, value any, deferred bool, out *[]func()) {
	if s.deleteEnabled {
		if deferred || s.deferDepth > 0 {
			s.pending.addDelete(key, value)
		} else if set, ok := s.deleteCallbacks[key]; ok {
			set.collectDelete(value, out)
		}
	}

	for _, child := range s.children {
		if _, shadowed := child.variables[key]; shadowed {
			continue
		}
		child.deleteNotice(key, value, deferred || s.deferDepth > 0, out)
	}
}

// collectPendingLocked drains this store's batch into callback closures and
// recurses into children's batches, which hold the notifications routed to
// them while this store was deferring. Net no-op entries (equal endpoints,
// including NotSet to NotSet) are dropped.
func (s *Store) collectPendingLocked(out *[]func()) {
	deletedKeys := make(map[string]bool)
	for _, entry := range s.pending.take() {
		deletedKeys[entry.key] = entry.deleted
		if valueEqual(entry.current, entry.previous) {
			continue
		}
		if entry.deleted {
			if s.deleteEnabled {
				if set, ok := s.deleteCallbacks[entry.key]; ok {
					set.collectDelete(entry.previous, out)
				}
			}
		} else if s.changeEnabled {
			if set, ok := s.changeCallbacks[entry.key]; ok {
				set.collectChange(entry.current, entry.previous, out)
			}
		}
	}

	for _, key := range s.pendingPrune {
		if deletedKeys[key] {
			delete(s.changeCallbacks, key)
			delete(s.deleteCallbacks, key)
		}
	}
	s.pendingPrune = nil

	for _, child := range s.children {
		child.collectPendingLocked(out)
	}
}

// discardPendingLocked drops buffered notifications without firing them.
// Used when a deferred scope panics.
func (s *Store) discardPendingLocked() {
	s.pending.take()
	s.pendingPrune = nil
	for _, child := range s.children {
		child.discardPendingLocked()
	}
}

// setValueLocked implements the write path. It returns whether the backing
// file needs rewriting: always for a new local override (even one equal to
// the inherited value, since the override now pins the value locally), and
// otherwise only when the stored value actually changed.
func (s *Store) setValueLocked(key string, value any, out *[]func()) bool {
	var previous any
	var requiresSave, runCallback bool

	if existing, ok := s.variables[key]; ok {
		previous = existing
		requiresSave = !valueEqual(existing, value)
		runCallback = requiresSave
	} else if inherited, ok := defaultsLookup(s.defaults, key); ok {
		previous = inherited
		requiresSave = true
		runCallback = !valueEqual(inherited, value)
	} else {
		previous = NotSet
		requiresSave = true
		runCallback = true
	}

	s.variables[key] = value
	if runCallback {
		s.changeNotice(key, value, previous, false, out)
	}
	return requiresSave
}

// deleteKeyLocked implements the delete path. Deleting a key that is still
// inherited fires a change back to the default's value and keeps the key's
// observers; deleting the last occurrence fires a delete and drops them.
func (s *Store) deleteKeyLocked(key string, out *[]func()) error {
	value, ok := s.variables[key]
	if !ok {
		return NewKeyNotFoundError(key)
	}
	delete(s.variables, key)

	if inherited, stillPresent := defaultsLookup(s.defaults, key); stillPresent {
		s.changeNotice(key, inherited, value, false, out)
		delete(s.deleteCallbacks, key)
		return nil
	}

	s.deleteNotice(key, value, false, out)
	if s.deferDepth == 0 {
		delete(s.changeCallbacks, key)
		delete(s.deleteCallbacks, key)
	} else {
		s.pendingPrune = append(s.pendingPrune, key)
	}
	return nil
}

// lookupLocked resolves the effective value of key through the defaults
// chain.
func (s *Store) lookupLocked(key string) (any, bool) {
	if v, ok := s.variables[key]; ok {
		return v, true
	}
	return defaultsLookup(s.defaults, key)
}
