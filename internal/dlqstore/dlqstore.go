// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

// Package dlqstore keeps a local, durable archive of routed dead letters.
//
// The DLQ stream is the durable copy of record; the archive exists so
// operators can list, inspect, replay, and discard poison messages through
// the admin API without consuming the stream. Entries are keyed by
// operation ID and written with fsync.
package dlqstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/writeflow-io/writeflow/internal/logging"
	"github.com/writeflow-io/writeflow/internal/models"
)

// keyPrefix namespaces archive entries inside the Badger keyspace.
const keyPrefix = "dlq:"

// Sentinel errors.
var (
	// ErrNotFound is returned when no archived entry exists for an
	// operation ID.
	ErrNotFound = errors.New("dlqstore: entry not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("dlqstore: store closed")
)

// Config holds archive storage configuration.
type Config struct {
	// Path is the Badger data directory.
	Path string

	// SyncWrites forces fsync per write. On by default; the archive is
	// small and write-rare.
	SyncWrites bool

	// TTL bounds how long archived entries are kept. Zero keeps them until
	// an operator deletes them.
	TTL time.Duration
}

// DefaultConfig returns archive defaults.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		TTL:        30 * 24 * time.Hour,
	}
}

// Store is the Badger-backed dead-letter archive.
type Store struct {
	db  *badger.DB
	cfg Config

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the archive at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("dlqstore: path required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("dlqstore: open %s: %w", cfg.Path, err)
	}

	logging.Info().Str("path", cfg.Path).Msg("Dead-letter archive opened")
	return &Store{db: db, cfg: cfg}, nil
}

// Archive stores one dead letter, keyed by its operation ID. Archiving the
// same operation twice overwrites the earlier entry.
func (s *Store) Archive(_ context.Context, dl *models.DeadLetter) error {
	if err := s.guard(); err != nil {
		return err
	}

	payload, err := models.EncodeDeadLetter(dl)
	if err != nil {
		return fmt.Errorf("dlqstore: encode %s: %w", dl.OperationID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key(dl.OperationID), payload)
		if s.cfg.TTL > 0 {
			entry = entry.WithTTL(s.cfg.TTL)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("dlqstore: archive %s: %w", dl.OperationID, err)
	}
	return nil
}

// Get returns one archived dead letter.
func (s *Store) Get(_ context.Context, operationID string) (*models.DeadLetter, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	var dl *models.DeadLetter
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(operationID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			dl, err = models.DecodeDeadLetter(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("dlqstore: get %s: %w", operationID, err)
	}
	return dl, nil
}

// List returns all archived dead letters, newest routing first.
func (s *Store) List(_ context.Context) ([]*models.DeadLetter, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	var entries []*models.DeadLetter
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				dl, err := models.DecodeDeadLetter(val)
				if err != nil {
					return err
				}
				entries = append(entries, dl)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dlqstore: list: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RoutedAt.After(entries[j].RoutedAt)
	})
	return entries, nil
}

// Delete removes one archived entry. Deleting an absent key is an error so
// the admin API can answer 404.
func (s *Store) Delete(_ context.Context, operationID string) error {
	if err := s.guard(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key(operationID)); err != nil {
			return err
		}
		return txn.Delete(key(operationID))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("dlqstore: delete %s: %w", operationID, err)
	}
	return nil
}

// Close shuts the archive down.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.db.Close()
}

func (s *Store) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func key(operationID string) []byte {
	return []byte(keyPrefix + operationID)
}
