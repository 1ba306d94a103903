// errors.go: structured error definitions for the cascade configuration store
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cascade

import (
	stderrors "errors"

	"github.com/agilira/go-errors"
)

// Error codes for the cascade configuration store
const (
	// Key and observer errors (1000-1099)
	ErrCodeKeyNotFound          = "CASCADE_1001"
	ErrCodeCallbackNotFound     = "CASCADE_1002"
	ErrCodeUnknownCallbackEvent = "CASCADE_1003"
	ErrCodeUnknownSavePolicy    = "CASCADE_1004"

	// Backing file errors (1100-1199)
	ErrCodeMissingFile       = "CASCADE_1101"
	ErrCodeMalformedFile     = "CASCADE_1102"
	ErrCodeNoBackingFile     = "CASCADE_1103"
	ErrCodeUnsupportedFormat = "CASCADE_1104"
	ErrCodeFileWriteError    = "CASCADE_1105"
	ErrCodeFileReadError     = "CASCADE_1106"

	// Autoloader errors (1200-1299)
	ErrCodeAutoloaderState = "CASCADE_1201"
	ErrCodeWatchError      = "CASCADE_1202"

	// Audit errors (1300-1399)
	ErrCodeAuditError = "CASCADE_1301"
)

// Key and observer error constructors

func NewKeyNotFoundError(key string) *errors.Error {
	return errors.New(ErrCodeKeyNotFound, "Key not found").
		WithUserMessage("The requested key is neither set locally nor inherited from defaults").
		WithContext("key", key).
		WithSeverity("error")
}

func NewCallbackNotFoundError(key string, event CallbackEvent) *errors.Error {
	return errors.New(ErrCodeCallbackNotFound, "Callback not found").
		WithUserMessage("No callback is registered under the given handle").
		WithContext("key", key).
		WithContext("event", string(event)).
		WithSeverity("error")
}

func NewUnknownCallbackEventError(event CallbackEvent) *errors.Error {
	return errors.New(ErrCodeUnknownCallbackEvent, "Unknown callback event").
		WithUserMessage("Callback event must be 'change' or 'delete'").
		WithContext("event", string(event)).
		WithSeverity("error")
}

func NewUnknownSavePolicyError(policy SavePolicy) *errors.Error {
	return errors.New(ErrCodeUnknownSavePolicy, "Unknown save policy").
		WithUserMessage("Save policy must be 'immediate', 'exit', 'exit_no_errors' or 'manual'").
		WithContext("policy", string(policy)).
		WithSeverity("error")
}

// Backing file error constructors

func NewMissingFileError(path string, cause error) *errors.Error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeMissingFile, "Missing configuration file").
			WithUserMessage("The backing file does not exist").
			WithContext("path", path).
			WithSeverity("error")
	}
	return errors.New(ErrCodeMissingFile, "Missing configuration file").
		WithUserMessage("The backing file does not exist").
		WithContext("path", path).
		WithSeverity("error")
}

func NewMalformedFileError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeMalformedFile, "Malformed configuration file").
		WithUserMessage("The backing file is not a valid configuration document").
		WithContext("path", path).
		WithSeverity("error")
}

func NewNoBackingFileError() *errors.Error {
	return errors.New(ErrCodeNoBackingFile, "No backing file").
		WithUserMessage("The store is memory-only and cannot be saved or loaded").
		WithSeverity("error")
}

func NewUnsupportedFormatError(path, format string) *errors.Error {
	return errors.New(ErrCodeUnsupportedFormat, "Unsupported file format").
		WithUserMessage("Backing files must be JSON or YAML").
		WithContext("path", path).
		WithContext("format", format).
		WithSeverity("error")
}

func NewFileWriteError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeFileWriteError, "Configuration write failed").
		WithUserMessage("The backing file could not be written").
		WithContext("path", path).
		WithSeverity("error")
}

func NewFileReadError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeFileReadError, "Configuration read failed").
		WithUserMessage("The backing file exists but could not be read").
		WithContext("path", path).
		WithSeverity("error")
}

// Autoloader error constructors

func NewAutoloaderStateError(message string) *errors.Error {
	return errors.New(ErrCodeAutoloaderState, "Autoloader state error").
		WithUserMessage(message).
		WithSeverity("error")
}

func NewWatchError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeWatchError, "File watch failed").
		WithUserMessage("The filesystem watch could not be established").
		WithContext("path", path).
		WithSeverity("error")
}

// Audit error constructors

func NewAuditError(cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeAuditError, "Audit trail failure").
		WithUserMessage("The audit logger could not be created").
		WithSeverity("error")
}

// hasErrorCode reports whether err carries the given cascade error code.
func hasErrorCode(err error, code string) bool {
	var coded *errors.Error
	if stderrors.As(err, &coded) {
		return coded.ErrorCode() == errors.ErrorCode(code)
	}
	return false
}

// IsKeyNotFound reports whether err is a key-not-found error.
func IsKeyNotFound(err error) bool { return hasErrorCode(err, ErrCodeKeyNotFound) }

// IsMissingFile reports whether err means the backing file does not exist.
// Autoload recovery uses this to distinguish a vanished file from a corrupt
// one when choosing a backup strategy.
func IsMissingFile(err error) bool { return hasErrorCode(err, ErrCodeMissingFile) }

// IsMalformedFile reports whether err means the backing file exists but does
// not parse.
func IsMalformedFile(err error) bool { return hasErrorCode(err, ErrCodeMalformedFile) }

// IsCallbackNotFound reports whether err is a stale-handle removal error.
func IsCallbackNotFound(err error) bool { return hasErrorCode(err, ErrCodeCallbackNotFound) }

// IsAutoloaderStateError reports whether err is an autoloader lifecycle
// violation (starting a running watcher, stopping a stopped one).
func IsAutoloaderStateError(err error) bool { return hasErrorCode(err, ErrCodeAutoloaderState) }

// IsNoBackingFile reports whether err means the store is memory-only.
func IsNoBackingFile(err error) bool { return hasErrorCode(err, ErrCodeNoBackingFile) }
