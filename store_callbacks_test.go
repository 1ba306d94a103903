// store_callbacks_test.go: observer delivery, gating and deferred scope tests
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

type recordedEvent struct {
	kind              string
	current, previous any
}

type recorder struct {
	events []recordedEvent
}

func (r *recorder) change(current, previous any) {
	r.events = append(r.events, recordedEvent{"change", current, previous})
}

func (r *recorder) delete(value any) {
	r.events = append(r.events, recordedEvent{"delete", nil, value})
}

func TestStoreCallbacks_ChangeDelivery(t *testing.T) {
	t.Run("first_set_reports_not_set_as_previous", func(t *testing.T) {
		s := newMemoryStore(t, Options{})
		rec := &recorder{}
		s.AddChangeCallback("k", rec.change)

		require.NoError(t, s.Set("k", 1))
		require.Len(t, rec.events, 1)
		assert.Equal(t, recordedEvent{"change", 1, any(NotSet)}, rec.events[0])
	})

	t.Run("setting_the_same_value_fires_nothing", func(t *testing.T) {
		s := newMemoryStore(t, Options{})
		require.NoError(t, s.Set("k", 1))
		rec := &recorder{}
		s.AddChangeCallback("k", rec.change)

		require.NoError(t, s.Set("k", 1))
		require.NoError(t, s.Set("k", float64(1)), "numeric round trips are the same value")
		assert.Empty(t, rec.events)
	})

	t.Run("shadowing_set_equal_to_the_default_fires_nothing", func(t *testing.T) {
		s := newMemoryStore(t, Options{Defaults: Map{"k": 1}})
		rec := &recorder{}
		s.AddChangeCallback("k", rec.change)

		require.NoError(t, s.Set("k", 1))
		assert.Empty(t, rec.events, "the effective value did not change")
		assert.Equal(t, map[string]any{"k": 1}, s.Variables(), "but the override is pinned locally")
	})

	t.Run("unshadowing_delete_fires_change_back_to_the_default", func(t *testing.T) {
		s := newMemoryStore(t, Options{Defaults: Map{"k": 2}})
		require.NoError(t, s.Set("k", 1))
		rec := &recorder{}
		s.AddChangeCallback("k", rec.change)
		s.AddDeleteCallback("k", rec.delete)

		require.NoError(t, s.Delete("k"))
		require.Len(t, rec.events, 1)
		assert.Equal(t, recordedEvent{"change", 2, 1}, rec.events[0], "never a delete while the key stays visible")

		// The observers survived the delete.
		require.NoError(t, s.Set("k", 3))
		require.Len(t, rec.events, 2)
		assert.Equal(t, recordedEvent{"change", 3, 2}, rec.events[1])
	})

	t.Run("final_delete_fires_delete_and_drops_observers", func(t *testing.T) {
		s := newMemoryStore(t, Options{})
		require.NoError(t, s.Set("k", 1))
		rec := &recorder{}
		s.AddChangeCallback("k", rec.change)
		s.AddDeleteCallback("k", rec.delete)

		require.NoError(t, s.Delete("k"))
		require.Len(t, rec.events, 1)
		assert.Equal(t, recordedEvent{"delete", nil, 1}, rec.events[0])

		require.NoError(t, s.Set("k", 2))
		assert.Len(t, rec.events, 1, "registrations do not survive the key's disappearance")
	})

	t.Run("callbacks_may_reenter_the_store", func(t *testing.T) {
		s := newMemoryStore(t, Options{})
		var seen any
		s.AddChangeCallback("k", func(current, previous any) {
			seen, _ = s.Lookup("k")
		})
		require.NoError(t, s.Set("k", 1))
		assert.Equal(t, 1, seen)
	})
}

func TestStoreCallbacks_Propagation(t *testing.T) {
	t.Run("parent_changes_reach_non_shadowing_children", func(t *testing.T) {
		parent := newMemoryStore(t, Options{})
		child := newMemoryStore(t, Options{Defaults: parent})
		grandchild := newMemoryStore(t, Options{Defaults: child})

		childRec, grandRec := &recorder{}, &recorder{}
		child.AddChangeCallback("k", childRec.change)
		grandchild.AddChangeCallback("k", grandRec.change)

		require.NoError(t, parent.Set("k", 1))
		require.Len(t, childRec.events, 1)
		require.Len(t, grandRec.events, 1)
		assert.Equal(t, recordedEvent{"change", 1, any(NotSet)}, grandRec.events[0])
	})

	t.Run("shadowing_children_are_skipped", func(t *testing.T) {
		parent := newMemoryStore(t, Options{})
		child := newMemoryStore(t, Options{Defaults: parent})
		require.NoError(t, child.Set("k", "mine"))

		rec := &recorder{}
		child.AddChangeCallback("k", rec.change)

		require.NoError(t, parent.Set("k", "theirs"))
		assert.Empty(t, rec.events, "the shadow makes the parent's change invisible")
	})

	t.Run("parent_deletes_propagate_as_deletes", func(t *testing.T) {
		parent := newMemoryStore(t, Options{})
		require.NoError(t, parent.Set("k", 1))
		child := newMemoryStore(t, Options{Defaults: parent})

		rec := &recorder{}
		child.AddDeleteCallback("k", rec.delete)

		require.NoError(t, parent.Delete("k"))
		require.Len(t, rec.events, 1)
		assert.Equal(t, recordedEvent{"delete", nil, 1}, rec.events[0])
	})
}

func TestStoreCallbacks_HandleRemoval(t *testing.T) {
	s := newMemoryStore(t, Options{})
	rec := &recorder{}
	handle := s.AddChangeCallback("k", rec.change)
	assert.Equal(t, "k", handle.Key())
	assert.Equal(t, ChangeEvent, handle.Event())

	require.NoError(t, s.RemoveChangeCallback(handle))
	require.NoError(t, s.Set("k", 1))
	assert.Empty(t, rec.events)

	err := s.RemoveChangeCallback(handle)
	assert.True(t, IsCallbackNotFound(err), "a handle removes at most once")

	deleteHandle := s.AddDeleteCallback("k", rec.delete)
	assert.True(t, IsCallbackNotFound(s.RemoveChangeCallback(deleteHandle)), "handles are event-specific")
	require.NoError(t, s.RemoveDeleteCallback(deleteHandle))
}

func TestStoreCallbacks_BulkRemoval(t *testing.T) {
	s := newMemoryStore(t, Options{})
	rec := &recorder{}
	s.AddChangeCallback("a", rec.change)
	s.AddChangeCallback("b", rec.change)
	s.AddDeleteCallback("a", rec.delete)

	require.NoError(t, s.RemoveAllCallbacks("a"))
	require.NoError(t, s.Set("a", 1))
	require.NoError(t, s.Set("b", 1))
	require.Len(t, rec.events, 1, "only b's observer is left")

	require.NoError(t, s.ClearCallbacks(ChangeEvent))
	require.NoError(t, s.Set("b", 2))
	assert.Len(t, rec.events, 1)

	err := s.RemoveAllCallbacks("a", CallbackEvent("bogus"))
	assert.True(t, hasErrorCode(err, ErrCodeUnknownCallbackEvent))
}

func TestStoreCallbacks_Gating(t *testing.T) {
	t.Run("disabled_notifications_are_lost_not_queued", func(t *testing.T) {
		s := newMemoryStore(t, Options{})
		rec := &recorder{}
		s.AddChangeCallback("k", rec.change)

		require.NoError(t, s.DisableCallbacks(ChangeEvent))
		require.NoError(t, s.Set("k", 1))
		require.NoError(t, s.EnableCallbacks(ChangeEvent))
		require.NoError(t, s.Set("k", 2))

		require.Len(t, rec.events, 1)
		assert.Equal(t, recordedEvent{"change", 2, 1}, rec.events[0], "the suppressed transition is gone for good")
	})

	t.Run("enabled_state_is_queryable_per_class", func(t *testing.T) {
		s := newMemoryStore(t, Options{})
		require.NoError(t, s.DisableCallbacks(DeleteEvent))

		enabled, err := s.CallbacksEnabled(ChangeEvent)
		require.NoError(t, err)
		assert.True(t, enabled)

		enabled, err = s.CallbacksEnabled()
		require.NoError(t, err)
		assert.False(t, enabled, "querying both classes reports the conjunction")
	})

	t.Run("with_callbacks_disabled_restores_on_exit", func(t *testing.T) {
		s := newMemoryStore(t, Options{})
		rec := &recorder{}
		s.AddChangeCallback("k", rec.change)

		err := s.WithCallbacksDisabled(func() {
			require.NoError(t, s.Set("k", 1))
		})
		require.NoError(t, err)
		assert.Empty(t, rec.events)

		require.NoError(t, s.Set("k", 2))
		require.Len(t, rec.events, 1)
	})
}

func TestStoreCallbacks_DeferredScopes(t *testing.T) {
	t.Run("repeated_sets_coalesce_into_one_notification", func(t *testing.T) {
		s := newMemoryStore(t, Options{})
		rec := &recorder{}
		s.AddChangeCallback("k", rec.change)

		s.WithDeferredCallbacks(func() {
			require.NoError(t, s.Set("k", 1))
			require.NoError(t, s.Set("k", 2))
			require.NoError(t, s.Set("k", 3))
			assert.Empty(t, rec.events, "nothing fires inside the scope")
		})

		require.Len(t, rec.events, 1)
		assert.Equal(t, recordedEvent{"change", 3, any(NotSet)}, rec.events[0])
	})

	t.Run("set_then_delete_collapses_to_delete", func(t *testing.T) {
		s := newMemoryStore(t, Options{})
		require.NoError(t, s.Set("k", 1))
		rec := &recorder{}
		s.AddChangeCallback("k", rec.change)
		s.AddDeleteCallback("k", rec.delete)

		s.WithDeferredCallbacks(func() {
			require.NoError(t, s.Set("k", 2))
			require.NoError(t, s.Delete("k"))
		})

		require.Len(t, rec.events, 1)
		assert.Equal(t, recordedEvent{"delete", nil, 1}, rec.events[0], "the delete reports the pre-batch value")
	})

	t.Run("delete_then_set_collapses_to_change", func(t *testing.T) {
		s := newMemoryStore(t, Options{})
		require.NoError(t, s.Set("k", 1))
		rec := &recorder{}
		s.AddChangeCallback("k", rec.change)
		s.AddDeleteCallback("k", rec.delete)

		s.WithDeferredCallbacks(func() {
			require.NoError(t, s.Delete("k"))
			require.NoError(t, s.Set("k", 2))
		})

		require.Len(t, rec.events, 1)
		assert.Equal(t, recordedEvent{"change", 2, 1}, rec.events[0], "the folded delete leaves one change from the pre-batch value")

		// The delete never became final, so the key's observers survive.
		require.NoError(t, s.Set("k", 3))
		require.Len(t, rec.events, 2)
		assert.Equal(t, recordedEvent{"change", 3, 2}, rec.events[1])

		require.NoError(t, s.Delete("k"))
		require.Len(t, rec.events, 3)
		assert.Equal(t, recordedEvent{"delete", nil, 3}, rec.events[2])
	})

	t.Run("net_no_op_batches_fire_nothing", func(t *testing.T) {
		s := newMemoryStore(t, Options{})
		require.NoError(t, s.Set("k", 1))
		rec := &recorder{}
		s.AddChangeCallback("k", rec.change)

		s.WithDeferredCallbacks(func() {
			require.NoError(t, s.Set("k", 2))
			require.NoError(t, s.Set("k", 1))
		})
		assert.Empty(t, rec.events)
	})

	t.Run("scopes_nest_and_flush_at_the_outermost_exit", func(t *testing.T) {
		s := newMemoryStore(t, Options{})
		rec := &recorder{}
		s.AddChangeCallback("k", rec.change)

		s.WithDeferredCallbacks(func() {
			s.WithDeferredCallbacks(func() {
				require.NoError(t, s.Set("k", 1))
			})
			assert.Empty(t, rec.events, "the inner exit must not flush")
			require.NoError(t, s.Set("k", 2))
		})

		require.Len(t, rec.events, 1)
		assert.Equal(t, recordedEvent{"change", 2, any(NotSet)}, rec.events[0])
	})

	t.Run("panicking_scope_discards_the_batch", func(t *testing.T) {
		s := newMemoryStore(t, Options{})
		rec := &recorder{}
		s.AddChangeCallback("k", rec.change)

		assert.Panics(t, func() {
			s.WithDeferredCallbacks(func() {
				_ = s.Set("k", 1)
				panic("boom")
			})
		})
		assert.Empty(t, rec.events)

		// The mutation itself is not rolled back, and the store keeps
		// working afterwards.
		v, err := s.Get("k")
		require.NoError(t, err)
		assert.Equal(t, 1, v)
		require.NoError(t, s.Set("k", 2))
		require.Len(t, rec.events, 1)
		assert.Equal(t, recordedEvent{"change", 2, 1}, rec.events[0])
	})

	t.Run("panicking_observer_propagates_and_stops_the_batch", func(t *testing.T) {
		s := newMemoryStore(t, Options{})
		secondFired := false
		s.AddChangeCallback("k", func(current, previous any) { panic("observer down") })
		s.AddChangeCallback("k", func(current, previous any) { secondFired = true })

		assert.PanicsWithValue(t, "observer down", func() {
			_ = s.Set("k", 1)
		}, "an observer panic surfaces from the triggering mutation")
		assert.False(t, secondFired, "later callbacks stay un-invoked")

		// Same contract when the notification comes out of a deferred flush.
		assert.PanicsWithValue(t, "observer down", func() {
			s.WithDeferredCallbacks(func() {
				_ = s.Set("k", 2)
			})
		})
		assert.False(t, secondFired)

		// The store itself stays usable; the lock was not held during the
		// dispatch that panicked.
		assert.True(t, s.Has("k"))
	})

	t.Run("propagated_notifications_join_the_childs_batch", func(t *testing.T) {
		parent := newMemoryStore(t, Options{})
		child := newMemoryStore(t, Options{Defaults: parent})
		rec := &recorder{}
		child.AddChangeCallback("k", rec.change)

		parent.WithDeferredCallbacks(func() {
			require.NoError(t, parent.Set("k", 1))
			require.NoError(t, parent.Set("k", 2))
			assert.Empty(t, rec.events)
		})

		require.Len(t, rec.events, 1)
		assert.Equal(t, recordedEvent{"change", 2, any(NotSet)}, rec.events[0])
	})
}
