// defaults.go: inheritance chain and defaults reassignment diffing
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cascade

import (
	"reflect"
	"sort"
)

// Defaults is a read-only mapping a Store inherits unset keys from. A
// *Store implements Defaults with its merged view, so stores chain into
// arbitrarily deep inheritance hierarchies. The store never takes ownership
// of its Defaults value and never mutates it.
type Defaults interface {
	// Lookup returns the effective value for key, if any.
	Lookup(key string) (any, bool)

	// Keys returns every key the mapping can resolve, in ascending order.
	Keys() []string
}

// Map adapts a plain map to the Defaults interface.
type Map map[string]any

// Lookup implements Defaults.
func (m Map) Lookup(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

// Keys implements Defaults.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func defaultsLookup(d Defaults, key string) (any, bool) {
	if d == nil {
		return nil, false
	}
	return d.Lookup(key)
}

func defaultsKeySet(d Defaults) map[string]struct{} {
	if d == nil {
		return nil
	}
	keys := d.Keys()
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		set[key] = struct{}{}
	}
	return set
}

// sameDefaults reports whether two Defaults values are the same underlying
// object. Maps and pointers compare by identity, never by content; replacing
// a defaults map with an equal copy is still a reassignment.
func sameDefaults(a, b Defaults) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Ptr, reflect.Map:
		return va.Pointer() == vb.Pointer()
	default:
		return false
	}
}

// Defaults returns the store's current parent mapping (nil when unset).
func (s *Store) Defaults() Defaults {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaults
}

// SetDefaults replaces the store's parent mapping and fires exactly the
// notifications that describe the logical effect on every consumer, in one
// deferred batch:
//
//   - keys only the old defaults resolved: change(NotSet, oldValue)
//   - keys only the new defaults resolve: change(newValue, NotSet)
//   - keys both resolve, with different values: change(newValue, oldValue)
//
// Keys shadowed by the store's own variables are unaffected and fire
// nothing. When either the old or new defaults is itself a *Store, the
// child registration moves accordingly.
func (s *Store) SetDefaults(d Defaults) {
	var fired []func()

	s.mu.Lock()
	old := s.defaults
	if sameDefaults(old, d) {
		s.mu.Unlock()
		return
	}

	oldKeys := defaultsKeySet(old)
	newKeys := defaultsKeySet(d)
	s.defaults = d

	s.deferDepth++
	for _, key := range sortedSetDiff(oldKeys, newKeys) {
		if _, shadowed := s.variables[key]; shadowed {
			continue
		}
		oldValue, _ := defaultsLookup(old, key)
		s.changeNotice(key, NotSet, oldValue, false, &fired)
	}
	for _, key := range sortedSetDiff(newKeys, oldKeys) {
		if _, shadowed := s.variables[key]; shadowed {
			continue
		}
		newValue, _ := defaultsLookup(d, key)
		s.changeNotice(key, newValue, NotSet, false, &fired)
	}
	for _, key := range sortedSetIntersect(oldKeys, newKeys) {
		if _, shadowed := s.variables[key]; shadowed {
			continue
		}
		oldValue, _ := defaultsLookup(old, key)
		newValue, _ := defaultsLookup(d, key)
		if !valueEqual(oldValue, newValue) {
			s.changeNotice(key, newValue, oldValue, false, &fired)
		}
	}
	s.deferDepth--
	if s.deferDepth == 0 {
		s.collectPendingLocked(&fired)
	}
	s.mu.Unlock()

	if oldParent, ok := old.(*Store); ok {
		oldParent.removeChild(s)
	}
	if newParent, ok := d.(*Store); ok {
		newParent.addChild(s)
	}

	runAll(fired)
}

func sortedSetDiff(a, b map[string]struct{}) []string {
	var keys []string
	for key := range a {
		if _, ok := b[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func sortedSetIntersect(a, b map[string]struct{}) []string {
	var keys []string
	for key := range a {
		if _, ok := b[key]; ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
