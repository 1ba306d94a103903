// savescope_test.go: scoped persistence policy tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cascade

import (
	stderrors "errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileContains(t *testing.T, path, want string) bool {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Contains(string(data), want)
}

func TestSavePolicy_Validation(t *testing.T) {
	s := newFileStore(t, "config.json", `{}`, Options{})
	err := s.WithSavePolicy(SavePolicy("eventually"), func() error { return nil })
	require.Error(t, err)
	assert.True(t, hasErrorCode(err, ErrCodeUnknownSavePolicy))

	mem := newMemoryStore(t, Options{})
	err = mem.WithSavePolicy(SaveOnExit, func() error { return nil })
	assert.True(t, IsNoBackingFile(err))
}

func TestSavePolicy_Immediate(t *testing.T) {
	s := newFileStore(t, "config.json", `{}`, Options{Autosave: false})

	err := s.WithSavePolicy(SaveImmediately, func() error {
		require.NoError(t, s.Set("a", 1))
		assert.True(t, fileContains(t, s.Filepath(), "\"a\""), "every mutation persists at once")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, s.Autosave(), "previous autosave setting restored")
}

func TestSavePolicy_OnExit(t *testing.T) {
	t.Run("saves_once_at_scope_exit", func(t *testing.T) {
		s := newFileStore(t, "config.json", `{}`, DefaultOptions())

		err := s.WithSavePolicy(SaveOnExit, func() error {
			require.NoError(t, s.Set("a", 1))
			assert.False(t, fileContains(t, s.Filepath(), "\"a\""), "no save inside the scope")
			return nil
		})
		require.NoError(t, err)
		assert.True(t, fileContains(t, s.Filepath(), "\"a\""))
		assert.True(t, s.Autosave())
	})

	t.Run("saves_even_when_fn_errors", func(t *testing.T) {
		s := newFileStore(t, "config.json", `{}`, Options{})
		boom := stderrors.New("boom")

		err := s.WithSavePolicy(SaveOnExit, func() error {
			require.NoError(t, s.Set("a", 1))
			return boom
		})
		assert.Equal(t, boom, err, "fn's error wins")
		assert.True(t, fileContains(t, s.Filepath(), "\"a\""))
	})

	t.Run("saves_even_when_fn_panics", func(t *testing.T) {
		s := newFileStore(t, "config.json", `{}`, Options{})

		assert.Panics(t, func() {
			_ = s.WithSavePolicy(SaveOnExit, func() error {
				_ = s.Set("a", 1)
				panic("down we go")
			})
		})
		assert.True(t, fileContains(t, s.Filepath(), "\"a\""))
		assert.False(t, s.Autosave(), "previous autosave setting restored on the way down")
	})
}

func TestSavePolicy_OnCleanExit(t *testing.T) {
	t.Run("saves_only_on_success", func(t *testing.T) {
		s := newFileStore(t, "config.json", `{}`, Options{})

		err := s.WithSavePolicy(SaveOnCleanExit, func() error {
			require.NoError(t, s.Set("a", 1))
			return nil
		})
		require.NoError(t, err)
		assert.True(t, fileContains(t, s.Filepath(), "\"a\""))
	})

	t.Run("skips_the_save_on_error", func(t *testing.T) {
		s := newFileStore(t, "config.json", `{}`, Options{})
		boom := stderrors.New("boom")

		err := s.WithSavePolicy(SaveOnCleanExit, func() error {
			require.NoError(t, s.Set("a", 1))
			return boom
		})
		assert.Equal(t, boom, err)
		assert.False(t, fileContains(t, s.Filepath(), "\"a\""))
	})
}

func TestSavePolicy_Manual(t *testing.T) {
	s := newFileStore(t, "config.json", `{}`, DefaultOptions())

	err := s.WithSavePolicy(SaveManually, func() error {
		require.NoError(t, s.Set("a", 1))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, fileContains(t, s.Filepath(), "\"a\""), "manual means the scope never saves")
	assert.True(t, s.Autosave())
}
