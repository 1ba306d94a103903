// callbacks_test.go: callback set and pending batch tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cascade

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackSet_CollectInRegistrationOrder(t *testing.T) {
	set := newCallbackSet()
	var order []int
	set.add(1, ChangeCallback(func(current, previous any) { order = append(order, 1) }))
	set.add(2, ChangeCallback(func(current, previous any) { order = append(order, 2) }))
	set.add(3, ChangeCallback(func(current, previous any) { order = append(order, 3) }))

	require.True(t, set.remove(2))

	var fired []func()
	set.collectChange("new", "old", &fired)
	runAll(fired)
	assert.Equal(t, []int{1, 3}, order, "removed callbacks must not fire, order must be registration order")
}

func TestCallbackSet_RemoveUnknownID(t *testing.T) {
	set := newCallbackSet()
	set.add(7, ChangeCallback(func(current, previous any) {}))
	assert.False(t, set.remove(99))
	assert.Equal(t, 1, set.len())
}

func TestNormalizeEvents(t *testing.T) {
	t.Run("empty_means_both", func(t *testing.T) {
		events, err := normalizeEvents(nil)
		require.NoError(t, err)
		assert.Equal(t, []CallbackEvent{ChangeEvent, DeleteEvent}, events)
	})

	t.Run("explicit_events_pass_through", func(t *testing.T) {
		events, err := normalizeEvents([]CallbackEvent{DeleteEvent})
		require.NoError(t, err)
		assert.Equal(t, []CallbackEvent{DeleteEvent}, events)
	})

	t.Run("unknown_event_is_rejected", func(t *testing.T) {
		_, err := normalizeEvents([]CallbackEvent{CallbackEvent("rename")})
		require.Error(t, err)
		assert.True(t, hasErrorCode(err, ErrCodeUnknownCallbackEvent))
	})
}

func TestPendingCallbacks_Coalescing(t *testing.T) {
	t.Run("change_keeps_earliest_previous_and_latest_current", func(t *testing.T) {
		p := newPendingCallbacks()
		p.addChange("k", 2, 1)
		p.addChange("k", 3, 2)
		p.addChange("k", 4, 3)

		entries := p.take()
		require.Len(t, entries, 1)
		assert.Equal(t, "k", entries[0].key)
		assert.Equal(t, 4, entries[0].current)
		assert.Equal(t, 1, entries[0].previous)
		assert.False(t, entries[0].deleted)
	})

	t.Run("delete_after_change_folds_into_delete", func(t *testing.T) {
		p := newPendingCallbacks()
		p.addChange("k", 2, 1)
		p.addDelete("k", 2)

		entries := p.take()
		require.Len(t, entries, 1)
		assert.True(t, entries[0].deleted)
		assert.Equal(t, 1, entries[0].previous, "delete reports the value from before the batch")
	})

	t.Run("change_after_delete_becomes_change_again", func(t *testing.T) {
		p := newPendingCallbacks()
		p.addDelete("k", 1)
		p.addChange("k", 5, NotSet)

		entries := p.take()
		require.Len(t, entries, 1)
		assert.False(t, entries[0].deleted)
		assert.Equal(t, 5, entries[0].current)
		assert.Equal(t, 1, entries[0].previous)
	})

	t.Run("most_recently_touched_key_flushes_last", func(t *testing.T) {
		p := newPendingCallbacks()
		p.addChange("a", 1, NotSet)
		p.addChange("b", 2, NotSet)
		p.addChange("a", 3, 1)

		entries := p.take()
		require.Len(t, entries, 2)
		assert.Equal(t, "b", entries[0].key)
		assert.Equal(t, "a", entries[1].key)
	})

	t.Run("take_drains_the_batch", func(t *testing.T) {
		p := newPendingCallbacks()
		p.addChange("k", 1, NotSet)
		require.Len(t, p.take(), 1)
		assert.Empty(t, p.take())
	})
}
