// pending.go: deferred notification batch with per-key coalescing
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cascade

// pendingEntry is one coalesced notification. previous holds the earliest
// value seen for the key inside the batch; current holds the latest. A
// pending delete is encoded as current == NotSet with deleted set, so a
// later change to the same key folds the delete away again.
type pendingEntry struct {
	key      string
	current  any
	previous any
	deleted  bool
}

// pendingCallbacks buffers notifications while a deferred scope is active.
// One entry exists per key; re-touching a key moves its entry to the back,
// so the flush order is "most recently touched last".
type pendingCallbacks struct {
	entries []*pendingEntry
	index   map[string]*pendingEntry
}

func newPendingCallbacks() *pendingCallbacks {
	return &pendingCallbacks{index: make(map[string]*pendingEntry)}
}

func (p *pendingCallbacks) addChange(key string, current, previous any) {
	if entry, ok := p.index[key]; ok {
		entry.current = current
		entry.deleted = false
		p.moveToBack(entry)
		return
	}
	p.append(&pendingEntry{key: key, current: current, previous: previous})
}

func (p *pendingCallbacks) addDelete(key string, value any) {
	if entry, ok := p.index[key]; ok {
		entry.current = NotSet
		entry.deleted = true
		p.moveToBack(entry)
		return
	}
	p.append(&pendingEntry{key: key, current: NotSet, previous: value, deleted: true})
}

// take returns the buffered entries in flush order and resets the batch.
func (p *pendingCallbacks) take() []*pendingEntry {
	entries := p.entries
	p.entries = nil
	p.index = make(map[string]*pendingEntry)
	return entries
}

func (p *pendingCallbacks) len() int { return len(p.entries) }

func (p *pendingCallbacks) append(entry *pendingEntry) {
	p.entries = append(p.entries, entry)
	p.index[entry.key] = entry
}

func (p *pendingCallbacks) moveToBack(entry *pendingEntry) {
	for i, other := range p.entries {
		if other == entry {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			p.entries = append(p.entries, entry)
			return
		}
	}
}
