// store_persist.go: backing file persistence for the cascade store
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cascade

import (
	"encoding/json"
	stderrors "errors"
	"os"

	"github.com/agilira/argus"
	"gopkg.in/yaml.v3"
)

// decodeVariables parses a backing file into a variable layer. The format
// follows the file extension (JSON canonical, YAML accepted); the top-level
// value must be an object.
func decodeVariables(data []byte, path string) (map[string]any, error) {
	switch format := argus.DetectFormat(path); format {
	case argus.FormatJSON:
		var variables map[string]any
		if err := json.Unmarshal(data, &variables); err != nil {
			return nil, NewMalformedFileError(path, err)
		}
		if variables == nil {
			return nil, NewMalformedFileError(path, stderrors.New("top-level value is not an object"))
		}
		return variables, nil
	case argus.FormatYAML:
		var variables map[string]any
		if err := yaml.Unmarshal(data, &variables); err != nil {
			return nil, NewMalformedFileError(path, err)
		}
		if variables == nil {
			// an empty YAML document is an empty layer
			variables = make(map[string]any)
		}
		return variables, nil
	default:
		return nil, NewUnsupportedFormatError(path, format.String())
	}
}

// encodeVariables serializes a variable layer in the backing file's format.
// JSON output uses sorted keys and 4-space indentation so external diffs
// stay readable.
func encodeVariables(variables map[string]any, path string) ([]byte, error) {
	switch format := argus.DetectFormat(path); format {
	case argus.FormatJSON:
		data, err := json.MarshalIndent(variables, "", "    ")
		if err != nil {
			return nil, NewFileWriteError(path, err)
		}
		return append(data, '\n'), nil
	case argus.FormatYAML:
		data, err := yaml.Marshal(variables)
		if err != nil {
			return nil, NewFileWriteError(path, err)
		}
		return data, nil
	default:
		return nil, NewUnsupportedFormatError(path, format.String())
	}
}

// Filepath returns the path of the backing file, empty for memory-only
// stores. The autoloader updates it transparently when the file is moved.
func (s *Store) Filepath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filepath
}

func (s *Store) setFilepath(path string) {
	s.mu.Lock()
	s.filepath = path
	s.mu.Unlock()
}

// Save serializes the store's own variable layer (never the merged view) to
// the backing file. When an autoloader is watching, the resulting
// filesystem event is marked self-inflicted beforehand so it does not
// bounce back as a reload.
func (s *Store) Save() error {
	s.mu.Lock()
	err := s.saveLocked()
	s.mu.Unlock()
	return err
}

func (s *Store) saveLocked() error {
	if s.filepath == "" {
		return NewNoBackingFileError()
	}

	data, err := encodeVariables(s.variables, s.filepath)
	if err != nil {
		return err
	}

	// The ignore mark must precede the write: the watcher may see the
	// modify event before WriteFile returns.
	autoloader := s.autoloader
	if autoloader != nil && s.autoload {
		autoloader.IgnoreChange()
	}
	if err := os.WriteFile(s.filepath, data, 0o644); err != nil {
		if autoloader != nil && s.autoload {
			autoloader.unignoreChange()
		}
		return NewFileWriteError(s.filepath, err)
	}

	s.logger.Debug("Configuration saved", "path", s.filepath, "keys", len(s.variables))
	s.auditEvent("config_saved", map[string]interface{}{
		"path": s.filepath,
		"keys": len(s.variables),
	})
	return nil
}

// Load re-reads the backing file and assigns the parsed mapping to the
// variable layer, firing the add/remove/change diff as one deferred batch.
// A file that exists but does not parse yields a MalformedFile error after
// writing a plain `.backup` of the in-memory layer (when non-empty); a file
// that does not exist yields MissingFile. Errors always propagate to the
// caller; only the autoloader's automatic path downgrades them to recovery.
func (s *Store) Load() error {
	return s.load(true)
}

// load is the shared reload path. The autoloader's recovery reload passes
// backupOnMalformed false: it writes its own timestamped backup, and a
// second plain `.backup` would just shadow it.
func (s *Store) load(backupOnMalformed bool) error {
	var fired []func()

	s.mu.Lock()
	err := s.loadLocked(&fired, backupOnMalformed)
	s.mu.Unlock()

	runAll(fired)
	return err
}

func (s *Store) loadLocked(out *[]func(), backupOnMalformed bool) error {
	if s.filepath == "" {
		return NewNoBackingFileError()
	}

	data, err := os.ReadFile(s.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return NewMissingFileError(s.filepath, err)
		}
		return NewFileReadError(s.filepath, err)
	}

	variables, err := decodeVariables(data, s.filepath)
	if err != nil {
		if backupOnMalformed && len(s.variables) > 0 {
			s.writeBackupLocked(s.filepath + ".backup")
		}
		return err
	}

	s.setVariablesLocked(variables, out)
	s.logger.Debug("Configuration loaded", "path", s.filepath, "keys", len(variables))
	s.auditEvent("config_loaded", map[string]interface{}{
		"path": s.filepath,
		"keys": len(variables),
	})
	return nil
}

// writeBackupLocked best-effort writes the in-memory layer to path in the
// backing file's format.
func (s *Store) writeBackupLocked(path string) {
	data, err := encodeVariables(s.variables, s.filepath)
	if err == nil {
		err = os.WriteFile(path, data, 0o644)
	}
	if err != nil {
		s.logger.Warn("Backup write failed", "path", path, "error", err)
		return
	}
	s.logger.Info("Backup written", "path", path, "keys", len(s.variables))
	s.auditEvent("backup_written", map[string]interface{}{
		"path": path,
		"keys": len(s.variables),
	})
}

// setVariablesLocked replaces the variable layer with incoming, firing the
// same add/remove/change diff-and-notify the defaults setter performs, but
// against the variables layer: removed keys delete (or fall back to their
// defaults as changes), remaining keys change only when their value
// actually differs.
func (s *Store) setVariablesLocked(incoming map[string]any, out *[]func()) {
	s.deferDepth++
	for _, key := range sortedKeys(s.variables) {
		if _, kept := incoming[key]; !kept {
			_ = s.deleteKeyLocked(key, out)
		}
	}
	for _, key := range sortedKeys(incoming) {
		s.setValueLocked(key, incoming[key], out)
	}
	s.deferDepth--
	if s.deferDepth == 0 {
		s.collectPendingLocked(out)
	}
}

// Autosave reports whether mutations persist automatically.
func (s *Store) Autosave() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autosave
}

// SetAutosave toggles automatic persistence of mutations.
func (s *Store) SetAutosave(enabled bool) {
	s.mu.Lock()
	s.autosave = enabled
	s.mu.Unlock()
}

// Autoload reports whether a FileAutoloader is watching the backing file.
func (s *Store) Autoload() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoload
}

// SetAutoload starts or stops the store's FileAutoloader. Stopping joins
// the watcher's dispatcher before returning.
func (s *Store) SetAutoload(enabled bool) error {
	s.mu.Lock()
	if s.autoload == enabled {
		s.mu.Unlock()
		return nil
	}

	if enabled {
		if s.filepath == "" {
			s.mu.Unlock()
			return NewNoBackingFileError()
		}
		if s.autoloader == nil {
			s.autoloader = newFileAutoloader(s, s.autoloaderOpts, s.logger)
		}
		autoloader := s.autoloader
		s.autoload = true
		s.mu.Unlock()

		if err := autoloader.Start(); err != nil {
			s.mu.Lock()
			s.autoload = false
			s.mu.Unlock()
			return err
		}
		return nil
	}

	autoloader := s.autoloader
	s.autoloader = nil
	s.autoload = false
	s.mu.Unlock()

	if autoloader != nil && autoloader.Running() {
		return autoloader.Stop()
	}
	return nil
}

// Autoloader returns the active FileAutoloader, nil when autoload is off.
func (s *Store) Autoloader() *FileAutoloader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoloader
}

// WithAutosaveDisabled runs fn with autosave off, restoring the previous
// setting afterwards. Useful for bursts of mutations the caller persists
// once at the end.
func (s *Store) WithAutosaveDisabled(fn func()) {
	s.mu.Lock()
	previous := s.autosave
	s.autosave = false
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.autosave = previous
		s.mu.Unlock()
	}()

	fn()
}

// WithAutoloadDisabled runs fn with filesystem event delivery suspended.
// The watch descriptor stays alive; events raised while suspended are
// dropped, not queued. Used for bulk rewrites that must not be observed by
// the watcher.
func (s *Store) WithAutoloadDisabled(fn func()) {
	s.mu.Lock()
	autoloader := s.autoloader
	active := s.autoload
	s.mu.Unlock()

	if active && autoloader != nil {
		autoloader.Disable()
		defer autoloader.Enable()
	}

	fn()
}

// clearVariables empties the variable layer with notifications but without
// saving or touching observer registrations beyond what key deletion
// implies. This is the autoloader's recovery clear.
func (s *Store) clearVariables() {
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
	s.mu.Unlock()

	runAll(fired)
}
