// store_callbacks.go: observer registration, gating and deferred scopes
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cascade

// AddChangeCallback registers fn to observe effective-value transitions of
// key and returns the handle that removes it again. Change callbacks fire
// for local sets, un-shadowing deletes, defaults reassignment, external
// reloads and propagation from ancestor stores alike; consumers never need
// to know the mutation source.
func (s *Store) AddChangeCallback(key string, fn ChangeCallback) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandle++
	set, ok := s.changeCallbacks[key]
	if !ok {
		set = newCallbackSet()
		s.changeCallbacks[key] = set
	}
	set.add(s.nextHandle, fn)
	return Handle{event: ChangeEvent, key: key, id: s.nextHandle}
}

// RemoveChangeCallback deregisters the callback identified by handle. A
// stale or foreign handle fails with the CallbackNotFound coded error.
func (s *Store) RemoveChangeCallback(handle Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if handle.event == ChangeEvent {
		if set, ok := s.changeCallbacks[handle.key]; ok && set.remove(handle.id) {
			if set.len() == 0 {
				delete(s.changeCallbacks, handle.key)
			}
			return nil
		}
	}
	return NewCallbackNotFoundError(handle.key, ChangeEvent)
}

// AddDeleteCallback registers fn to observe the final disappearance of key
// (no inherited default remains) and returns its removal handle.
func (s *Store) AddDeleteCallback(key string, fn DeleteCallback) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandle++
	set, ok := s.deleteCallbacks[key]
	if !ok {
		set = newCallbackSet()
		s.deleteCallbacks[key] = set
	}
	set.add(s.nextHandle, fn)
	return Handle{event: DeleteEvent, key: key, id: s.nextHandle}
}

// RemoveDeleteCallback deregisters the callback identified by handle.
func (s *Store) RemoveDeleteCallback(handle Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if handle.event == DeleteEvent {
		if set, ok := s.deleteCallbacks[handle.key]; ok && set.remove(handle.id) {
			if set.len() == 0 {
				delete(s.deleteCallbacks, handle.key)
			}
			return nil
		}
	}
	return NewCallbackNotFoundError(handle.key, DeleteEvent)
}

// RemoveAllCallbacks drops every callback registered for key in the given
// observer classes (both when none are named).
func (s *Store) RemoveAllCallbacks(key string, events ...CallbackEvent) error {
	normalized, err := normalizeEvents(events)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range normalized {
		switch event {
		case ChangeEvent:
			delete(s.changeCallbacks, key)
		case DeleteEvent:
			delete(s.deleteCallbacks, key)
		}
	}
	return nil
}

// ClearCallbacks drops every callback in the given observer classes (both
// when none are named).
func (s *Store) ClearCallbacks(events ...CallbackEvent) error {
	normalized, err := normalizeEvents(events)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range normalized {
		switch event {
		case ChangeEvent:
			s.changeCallbacks = make(map[string]*callbackSet)
		case DeleteEvent:
			s.deleteCallbacks = make(map[string]*callbackSet)
		}
	}
	return nil
}

// EnableCallbacks resumes delivery for the given observer classes (both
// when none are named).
func (s *Store) EnableCallbacks(events ...CallbackEvent) error {
	return s.setCallbacksEnabled(true, events)
}

// DisableCallbacks suspends delivery for the given observer classes (both
// when none are named). Disabled notifications are not queued; they are
// lost.
func (s *Store) DisableCallbacks(events ...CallbackEvent) error {
	return s.setCallbacksEnabled(false, events)
}

func (s *Store) setCallbacksEnabled(enabled bool, events []CallbackEvent) error {
	normalized, err := normalizeEvents(events)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range normalized {
		switch event {
		case ChangeEvent:
			s.changeEnabled = enabled
		case DeleteEvent:
			s.deleteEnabled = enabled
		}
	}
	return nil
}

// CallbacksEnabled reports whether every named observer class (both when
// none are named) is currently delivering.
func (s *Store) CallbacksEnabled(events ...CallbackEvent) (bool, error) {
	normalized, err := normalizeEvents(events)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	enabled := true
	for _, event := range normalized {
		switch event {
		case ChangeEvent:
			enabled = enabled && s.changeEnabled
		case DeleteEvent:
			enabled = enabled && s.deleteEnabled
		}
	}
	return enabled, nil
}

// WithCallbacksDisabled runs fn with the given observer classes suspended,
// then restores each class to the state it had on entry.
func (s *Store) WithCallbacksDisabled(fn func(), events ...CallbackEvent) error {
	normalized, err := normalizeEvents(events)
	if err != nil {
		return err
	}

	s.mu.Lock()
	prevChange, prevDelete := s.changeEnabled, s.deleteEnabled
	for _, event := range normalized {
		switch event {
		case ChangeEvent:
			s.changeEnabled = false
		case DeleteEvent:
			s.deleteEnabled = false
		}
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.changeEnabled = prevChange
		s.deleteEnabled = prevDelete
		s.mu.Unlock()
	}()

	fn()
	return nil
}

// WithDeferredCallbacks runs fn with notifications buffered. Scopes nest;
// when the outermost scope exits normally, the batch flushes as one
// coalesced callback per touched key, most recently touched key last,
// including the batches that propagation routed into child stores. If fn
// panics, the batch is discarded and the panic propagates.
func (s *Store) WithDeferredCallbacks(fn func()) {
	s.mu.Lock()
	s.deferDepth++
	s.mu.Unlock()

	completed := false
	defer func() {
		var fired []func()
		s.mu.Lock()
		s.deferDepth--
		if s.deferDepth == 0 {
			if completed {
				s.collectPendingLocked(&fired)
			} else {
				s.discardPendingLocked()
			}
		}
		s.mu.Unlock()
		runAll(fired)
	}()

	fn()
	completed = true
}
