// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// Hot Reload
// =============================================================================

// Watch observes the store's config directory and triggers Reload on
// writes to any of the recognized config files.
//
// Description:
//
//	Events are debounced: editors produce write bursts, so the reload
//	runs once per quiet period rather than once per event. Watch blocks
//	until ctx is canceled; callers run it in a goroutine.
//
// Inputs:
//
//	ctx - Cancellation context. Must not be nil.
//	store - The live config store to reload. Must have a config directory.
//
// Outputs:
//
//	error - Non-nil if the watcher could not be created or attached.
//	        Reload failures are logged, not returned; the previous config
//	        stays active.
//
// Thread Safety: Safe for concurrent use with Store readers.
func Watch(ctx context.Context, store *Store) error {
	if ctx == nil {
		return fmt.Errorf("config.Watch: ctx must not be nil")
	}
	if store == nil || store.dir == "" {
		return fmt.Errorf("config.Watch: store with a config directory required")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config.Watch: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(store.dir); err != nil {
		return fmt.Errorf("config.Watch: watching %s: %w", store.dir, err)
	}

	slog.Info("watching config directory", slog.String("dir", store.dir))

	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !isConfigFile(filepath.Base(event.Name)) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if err := store.Reload(ctx); err != nil {
				continue
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

func isConfigFile(name string) bool {
	switch name {
	case entitiesFile, rangesFile, intentFile, retrievalFile:
		return true
	}
	return false
}
