// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package badger wraps the embedded BadgerDB instance used for vector and
// chunk persistence. The wrapper owns option defaults and logging so call
// sites deal only in transactions.
package badger

import (
	"errors"
	"fmt"
	"log/slog"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// DB is a thin wrapper around a BadgerDB instance.
//
// Thread Safety: Safe for concurrent use; transactions are per-goroutine.
type DB struct {
	db     *dgbadger.DB
	logger *slog.Logger
}

// Open opens (or creates) a BadgerDB at the given directory.
//
// Description:
//
//	Badger's own chatty logger is disabled; lifecycle events are logged
//	through slog instead. The caller owns the lifecycle and must Close.
func Open(dir string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := dgbadger.DefaultOptions(dir).WithLogger(nil)
	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	logger.Info("badger store opened", slog.String("dir", dir))
	return &DB{db: db, logger: logger}, nil
}

// View runs a read-only transaction.
func (d *DB) View(fn func(txn *dgbadger.Txn) error) error {
	return d.db.View(fn)
}

// Update runs a read-write transaction.
func (d *DB) Update(fn func(txn *dgbadger.Txn) error) error {
	return d.db.Update(fn)
}

// Close flushes and closes the underlying store.
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	d.logger.Info("badger store closed")
	return nil
}

// IsKeyNotFound reports whether err is Badger's key-absent sentinel, which
// callers treat as a normal miss.
func IsKeyNotFound(err error) bool {
	return errors.Is(err, dgbadger.ErrKeyNotFound)
}
