// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rag

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/planvr/scenecore/services/scene/storage/badger"
	"github.com/planvr/scenecore/services/scene/llm"
)

// =============================================================================
// Flat Vector Store
// =============================================================================

// flatStoreKey is the BadgerDB key holding the gob-encoded chunk set.
// Versioned to allow future format changes without collision.
const flatStoreKey = "rag/chunks/v1"

// FlatStore is a brute-force in-memory vector store with optional
// BadgerDB persistence.
//
// Description:
//
//	The working corpus here is small (planning notes and reference
//	documents, not millions of records), so exact brute-force scoring
//	beats an ANN index in both simplicity and recall. Chunks are kept in
//	upsert order, which doubles as the lexical path's recency window.
//	A nil DB runs the store in memory-only mode.
//
// Thread Safety: Safe for concurrent use. Mutations take the write lock;
// queries share the read lock.
type FlatStore struct {
	mu     sync.RWMutex
	chunks []Chunk
	byID   map[string]int

	db     *badgerstore.DB
	logger *slog.Logger
}

// persistedChunk is the gob wire form. Vectors are persisted alongside
// text so a restart needs no re-embedding.
type persistedChunk struct {
	ID         string
	DocumentID string
	Text       string
	Metadata   map[string]string
	Vector     []float32
}

// NewFlatStore builds a store, loading any persisted chunks from db.
//
// Inputs:
//
//	db - BadgerDB wrapper. Nil disables persistence.
//	logger - Logger instance. Nil uses slog.Default().
func NewFlatStore(db *badgerstore.DB, logger *slog.Logger) (*FlatStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FlatStore{byID: make(map[string]int), db: db, logger: logger}
	if db != nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("flat store load: %w", err)
		}
	}
	return s, nil
}

// Upsert inserts or replaces chunks by id.
func (s *FlatStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("upsert: chunk id must not be empty")
		}
		if idx, ok := s.byID[c.ID]; ok {
			s.chunks[idx] = c
			continue
		}
		s.byID[c.ID] = len(s.chunks)
		s.chunks = append(s.chunks, c)
	}
	return nil
}

// Query scores the query vector against every stored chunk and returns
// the top k cosine matches above zero.
func (s *FlatStore) Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]Match, 0, k)
	for _, c := range s.chunks {
		if len(c.Vector) == 0 || !matchesFilter(c, filter) {
			continue
		}
		score := float64(llm.Dot(vector, c.Vector))
		if score <= 0 {
			continue
		}
		matches = append(matches, Match{ID: c.ID, Score: score, Metadata: c.Metadata})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// DeleteByDocument removes every chunk of one document and reindexes.
func (s *FlatStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.chunks[:0]
	for _, c := range s.chunks {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}
	s.chunks = kept
	s.byID = make(map[string]int, len(kept))
	for i, c := range kept {
		s.byID[c.ID] = i
	}
	return nil
}

// Persist writes the full chunk set to BadgerDB. Memory-only stores
// no-op.
func (s *FlatStore) Persist(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	snapshot := make([]persistedChunk, len(s.chunks))
	for i, c := range s.chunks {
		snapshot[i] = persistedChunk(c)
	}
	s.mu.RUnlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshot); err != nil {
		return fmt.Errorf("encode chunks: %w", err)
	}

	err := s.db.Update(func(txn *dgbadger.Txn) error {
		return txn.Set([]byte(flatStoreKey), buf.Bytes())
	})
	if err != nil {
		return fmt.Errorf("persist chunks: %w", err)
	}
	s.logger.Debug("flat store persisted", slog.Int("chunks", len(snapshot)))
	return nil
}

// Recent returns up to n most recently upserted chunks, newest last.
func (s *FlatStore) Recent(n int) []Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.chunks) {
		n = len(s.chunks)
	}
	out := make([]Chunk, n)
	copy(out, s.chunks[len(s.chunks)-n:])
	return out
}

// Text returns the stored text of a chunk.
func (s *FlatStore) Text(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byID[id]
	if !ok {
		return "", false
	}
	return s.chunks[idx].Text, true
}

// Len reports the number of stored chunks.
func (s *FlatStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// load restores the chunk set from BadgerDB. A missing key is a fresh
// store, not an error.
func (s *FlatStore) load() error {
	var snapshot []persistedChunk
	err := s.db.View(func(txn *dgbadger.Txn) error {
		item, err := txn.Get([]byte(flatStoreKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return gob.NewDecoder(bytes.NewReader(val)).Decode(&snapshot)
		})
	})
	if err != nil {
		if badgerstore.IsKeyNotFound(err) {
			return nil
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = make([]Chunk, len(snapshot))
	for i, p := range snapshot {
		s.chunks[i] = Chunk(p)
		s.byID[p.ID] = i
	}
	s.logger.Info("flat store restored", slog.Int("chunks", len(s.chunks)))
	return nil
}

func matchesFilter(c Chunk, filter map[string]string) bool {
	for k, want := range filter {
		if c.Metadata[k] != want {
			return false
		}
	}
	return true
}
