// savescope.go: scoped persistence policies
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cascade

// SavePolicy names when a WithSavePolicy scope persists the store.
type SavePolicy string

const (
	// SaveImmediately autosaves every mutation inside the scope.
	SaveImmediately SavePolicy = "immediate"

	// SaveOnExit suspends autosave and saves once when the scope exits,
	// even when fn returned an error or panicked.
	SaveOnExit SavePolicy = "exit"

	// SaveOnCleanExit suspends autosave and saves once on exit, but only
	// when fn returned nil.
	SaveOnCleanExit SavePolicy = "exit_no_errors"

	// SaveManually suspends autosave and never saves; the caller persists
	// explicitly if at all.
	SaveManually SavePolicy = "manual"
)

func (p SavePolicy) valid() bool {
	switch p {
	case SaveImmediately, SaveOnExit, SaveOnCleanExit, SaveManually:
		return true
	}
	return false
}

// WithSavePolicy runs fn with autosave overridden by policy, restoring the
// previous autosave setting afterwards. fn's error wins over a save error;
// a save error surfaces only when fn succeeded. Requires a backing file.
func (s *Store) WithSavePolicy(policy SavePolicy, fn func() error) error {
	if !policy.valid() {
		return NewUnknownSavePolicyError(policy)
	}
	if s.Filepath() == "" {
		return NewNoBackingFileError()
	}

	previous := s.Autosave()
	s.SetAutosave(policy == SaveImmediately)

	panicked := true
	var runErr error
	defer func() {
		// SaveOnExit persists even when fn panics; the store should not
		// lose its last state on the way down.
		if panicked && policy == SaveOnExit {
			if err := s.Save(); err != nil {
				s.logger.Error("Save on scope exit failed during panic", "path", s.Filepath(), "error", err)
			}
		}
		s.SetAutosave(previous)
	}()

	runErr = fn()
	panicked = false

	var saveErr error
	switch policy {
	case SaveOnExit:
		saveErr = s.Save()
	case SaveOnCleanExit:
		if runErr == nil {
			saveErr = s.Save()
		}
	}

	if runErr != nil {
		return runErr
	}
	return saveErr
}
