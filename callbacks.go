// callbacks.go: observer registry with subscription handles
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cascade

// CallbackEvent identifies an observer class.
type CallbackEvent string

const (
	// ChangeEvent observers receive (current, previous) whenever a key's
	// effective value changes. Either side may be NotSet.
	ChangeEvent CallbackEvent = "change"

	// DeleteEvent observers receive the removed value when a key disappears
	// entirely (no inherited default remains).
	DeleteEvent CallbackEvent = "delete"
)

// ChangeCallback observes effective-value transitions for one key.
type ChangeCallback func(current, previous any)

// DeleteCallback observes the final removal of one key.
type DeleteCallback func(value any)

// Handle identifies one registered callback. It is returned by
// AddChangeCallback/AddDeleteCallback and consumed by the matching Remove
// method. The zero Handle matches nothing.
type Handle struct {
	event CallbackEvent
	key   string
	id    uint64
}

// Key returns the configuration key the handle's callback observes.
func (h Handle) Key() string { return h.key }

// Event returns the observer class of the handle's callback.
func (h Handle) Event() CallbackEvent { return h.event }

// callbackSet holds the callbacks registered for one key and one observer
// class, in registration order. Lifetime is explicit: entries exist until
// removed by handle or dropped by the store (key deletion, ClearCallbacks).
type callbackSet struct {
	order []uint64
	fns   map[uint64]any
}

func newCallbackSet() *callbackSet {
	return &callbackSet{fns: make(map[uint64]any)}
}

func (cs *callbackSet) add(id uint64, fn any) {
	cs.order = append(cs.order, id)
	cs.fns[id] = fn
}

// remove drops the callback registered under id and reports whether it
// existed.
func (cs *callbackSet) remove(id uint64) bool {
	if _, ok := cs.fns[id]; !ok {
		return false
	}
	delete(cs.fns, id)
	for i, other := range cs.order {
		if other == id {
			cs.order = append(cs.order[:i], cs.order[i+1:]...)
			break
		}
	}
	return true
}

func (cs *callbackSet) len() int { return len(cs.fns) }

// collectChange appends one closure per registered change callback. The
// closures are fired after the store lock is released.
func (cs *callbackSet) collectChange(current, previous any, out *[]func()) {
	for _, id := range cs.order {
		if fn, ok := cs.fns[id].(ChangeCallback); ok {
			callback := fn
			*out = append(*out, func() { callback(current, previous) })
		}
	}
}

// collectDelete appends one closure per registered delete callback.
func (cs *callbackSet) collectDelete(value any, out *[]func()) {
	for _, id := range cs.order {
		if fn, ok := cs.fns[id].(DeleteCallback); ok {
			callback := fn
			*out = append(*out, func() { callback(value) })
		}
	}
}

// normalizeEvents expands an empty event list to both observer classes and
// rejects unknown ones.
func normalizeEvents(events []CallbackEvent) ([]CallbackEvent, error) {
	if len(events) == 0 {
		return []CallbackEvent{ChangeEvent, DeleteEvent}, nil
	}
	for _, event := range events {
		if event != ChangeEvent && event != DeleteEvent {
			return nil, NewUnknownCallbackEventError(event)
		}
	}
	return events, nil
}
