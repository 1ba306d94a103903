// store_map.go: mapping protocol for the cascade store
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cascade

import "sort"

// Get returns the effective value for key: the store's own variable if set,
// else the defaults chain's value. Returns a KeyNotFound coded error when
// the key is absent everywhere.
func (s *Store) Get(key string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.lookupLocked(key); ok {
		return v, nil
	}
	return nil, NewKeyNotFoundError(key)
}

// Lookup is the non-erroring read: it returns the effective value and
// whether the key resolved. It also makes *Store satisfy Defaults, so a
// store can serve as another store's parent.
func (s *Store) Lookup(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(key)
}

// Has reports whether key resolves locally or through the defaults chain.
func (s *Store) Has(key string) bool {
	_, ok := s.Lookup(key)
	return ok
}

// Set stores a local override for key. A notification fires only if the
// effective value changed; the backing file is rewritten (under autosave)
// only if the saved document would differ.
func (s *Store) Set(key string, value any) error {
	var fired []func()

	s.mu.Lock()
	requiresSave := s.setValueLocked(key, value, &fired)
	save := requiresSave && s.autosave && s.filepath != ""
	s.mu.Unlock()

	runAll(fired)
	if save {
		return s.Save()
	}
	return nil
}

// Delete removes key from the store's own variable layer. The defaults
// chain is immutable from this store's perspective, so deleting a key that
// is only inherited fails with KeyNotFound even though the key still reads
// as present. If the key remains visible through defaults after removal, a
// change notification fires (back to the inherited value) and the key's
// observers survive; otherwise a delete notification fires and the key's
// observers are dropped.
func (s *Store) Delete(key string) error {
	var fired []func()

	s.mu.Lock()
	err := s.deleteKeyLocked(key, &fired)
	save := err == nil && s.autosave && s.filepath != ""
	s.mu.Unlock()

	runAll(fired)
	if err != nil {
		return err
	}
	if save {
		return s.Save()
	}
	return nil
}

// Keys returns every effectively present key in ascending order. Makes
// *Store satisfy Defaults.
func (s *Store) Keys() []string {
	merged := s.Items()
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Values returns the effective values in Keys() order.
func (s *Store) Values() []any {
	merged := s.Items()
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	values := make([]any, len(keys))
	for i, key := range keys {
		values[i] = merged[key]
	}
	return values
}

// Items returns a copy of the merged view: the defaults chain overlaid by
// the store's own variables.
func (s *Store) Items() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergedLocked()
}

func (s *Store) mergedLocked() map[string]any {
	merged := make(map[string]any)
	if s.defaults != nil {
		for _, key := range s.defaults.Keys() {
			if v, ok := s.defaults.Lookup(key); ok {
				merged[key] = v
			}
		}
	}
	for key, value := range s.variables {
		merged[key] = value
	}
	return merged
}

// Len returns the number of effectively present keys.
func (s *Store) Len() int {
	return len(s.Items())
}

// Equal compares the store's merged view against a plain map, a Map, or
// another store's merged view. Numeric values compare across the int /
// float64 divide, so a freshly set value equals its loaded round trip.
func (s *Store) Equal(other any) bool {
	merged := s.Items()
	switch o := other.(type) {
	case *Store:
		return valueEqual(merged, o.Items())
	case Map:
		return valueEqual(merged, map[string]any(o))
	case map[string]any:
		return valueEqual(merged, o)
	default:
		return false
	}
}

// Variables returns a copy of the store's own variable layer, without
// defaults. The layer itself is owned exclusively by the store and is only
// mutated through the store's API.
func (s *Store) Variables() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[string]any, len(s.variables))
	for key, value := range s.variables {
		copied[key] = value
	}
	return copied
}

// SetDefault returns the effective value for key, first setting it to
// fallback if the key does not resolve anywhere.
func (s *Store) SetDefault(key string, fallback any) (any, error) {
	if v, ok := s.Lookup(key); ok {
		return v, nil
	}
	if err := s.Set(key, fallback); err != nil {
		return fallback, err
	}
	return fallback, nil
}

// Update applies every entry of values as a Set, inside one deferred scope:
// observers of a key see one coalesced notification even if Update rewrites
// it repeatedly, and the backing file is rewritten at most once.
func (s *Store) Update(values map[string]any) error {
	var fired []func()

	s.mu.Lock()
	s.deferDepth++
	requiresSave := false
	for _, key := range sortedKeys(values) {
		if s.setValueLocked(key, values[key], &fired) {
			requiresSave = true
		}
	}
	s.deferDepth--
	if s.deferDepth == 0 {
		s.collectPendingLocked(&fired)
	}
	save := requiresSave && s.autosave && s.filepath != ""
	s.mu.Unlock()

	runAll(fired)
	if save {
		return s.Save()
	}
	return nil
}

// Clear removes every local variable inside one deferred scope, then drops
// all observer registrations. Inherited keys fire changes back to their
// default values; keys without defaults fire deletes.
func (s *Store) Clear() error {
	var fired []func()

	s.mu.Lock()
	s.deferDepth++
	for _, key := range sortedKeys(s.variables) {
		_ = s.deleteKeyLocked(key, &fired)
	}
	s.deferDepth--
	if s.deferDepth == 0 {
		s.collectPendingLocked(&fired)
	}
	s.changeCallbacks = make(map[string]*callbackSet)
	s.deleteCallbacks = make(map[string]*callbackSet)
	save := s.autosave && s.filepath != ""
	s.mu.Unlock()

	runAll(fired)
	if save {
		return s.Save()
	}
	return nil
}
