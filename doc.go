// Package cascade provides a hierarchical, reactive, file-backed
// configuration store. A Store is a string-keyed mapping of JSON-compatible
// values that inherits unset keys from a chain of parent mappings, notifies
// registered observers whenever an effective value changes or disappears,
// persists its own layer to disk, and can absorb external edits to that file
// without losing observer consistency.
//
// Key Features:
//   - Defaults chains: unset keys resolve through parent mappings or stores,
//     with cascading change propagation that stops at shadowing children
//   - Change and delete observers with subscription handles, per-event-class
//     enable/disable and deferred batching that coalesces bursts per key
//   - Autosave on effective change, with diff-friendly sorted JSON output
//   - Autoload via a filesystem watcher that recognizes the store's own
//     writes and never reloads them
//   - Scoped save policies for batch edits (immediate, exit, exit_no_errors,
//     manual)
//   - Coded errors, pluggable structured logging and optional audit trail
//
// Basic Usage:
//
//	store, err := cascade.New("app.json", cascade.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	handle := store.AddChangeCallback("log.level", func(current, previous any) {
//	    fmt.Println("log.level:", previous, "->", current)
//	})
//	defer store.RemoveChangeCallback(handle)
//
//	if err := store.Set("log.level", "debug"); err != nil {
//	    log.Fatal(err)
//	}
//
// Inheritance:
//
//	site, _ := cascade.New("site.json", cascade.DefaultOptions())
//	opts := cascade.DefaultOptions()
//	opts.Defaults = site
//	local, _ := cascade.New("local.json", opts)
//
//	// local resolves unset keys through site; a key set on local shadows
//	// the site value and stops change propagation for that key.
//
// Concurrency:
// Every operation on a Store is serialized by a per-store lock. Observer
// callbacks are invoked after the lock is released, so a callback may safely
// re-enter the same store.
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package cascade
