// Feedtuner - Preference Signal Processing and Adaptive Feed Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedtuner

// Package store provides the durable key-value store backing profile
// snapshots, collaborator credentials, and the audit event log.
//
// Semantics are deliberately simple: fixed keys with get/set/clear, no
// transactions spanning keys, no migrations. BadgerDB provides
// durability; values are JSON.
package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/feedtuner/internal/metrics"
	"github.com/tomtom215/feedtuner/internal/profile"
)

// Fixed keys and prefixes.
const (
	// KeyProfileSnapshot holds the latest profile snapshot.
	KeyProfileSnapshot = "profile:snapshot"

	// KeyCollabCredentials holds saved collaborator credentials.
	KeyCollabCredentials = "collab:credentials"

	// PrefixAuditEvent prefixes persisted audit events. Event keys are
	// ordered by timestamp so prefix iteration yields chronological
	// order.
	PrefixAuditEvent = "audit:"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("store: key not found")

// Config holds store configuration.
type Config struct {
	// Path is the on-disk database directory. Ignored when InMemory.
	// Default: ./data/feedtuner
	Path string `koanf:"path" json:"path"`

	// InMemory runs badger without disk persistence. Used in tests and
	// ephemeral deployments.
	// Default: false
	InMemory bool `koanf:"in_memory" json:"in_memory"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Path:     "./data/feedtuner",
		InMemory: false,
	}
}

// Store is a badger-backed key-value store.
type Store struct {
	db     *badger.DB
	logger zerolog.Logger
}

// Open opens (or creates) the store.
func Open(cfg Config, logger zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithLogger(nil)
	if cfg.InMemory {
		opts.Dir = ""
		opts.ValueDir = ""
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	l := logger.With().Str("component", "store").Logger()
	l.Info().Str("path", cfg.Path).Bool("in_memory", cfg.InMemory).Msg("Store opened")
	return &Store{db: db, logger: l}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger store: %w", err)
	}
	return nil
}

// Get returns the raw value for key, or ErrNotFound.
func (s *Store) Get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		metrics.StoreOperations.WithLabelValues("get", "miss").Inc()
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.StoreOperations.WithLabelValues("get", "error").Inc()
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	metrics.StoreOperations.WithLabelValues("get", "ok").Inc()
	return out, nil
}

// Set stores a raw value under key, replacing any previous value.
func (s *Store) Set(key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		metrics.StoreOperations.WithLabelValues("set", "error").Inc()
		return fmt.Errorf("set %s: %w", key, err)
	}
	metrics.StoreOperations.WithLabelValues("set", "ok").Inc()
	return nil
}

// Clear removes key. Clearing a missing key is not an error.
func (s *Store) Clear(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		metrics.StoreOperations.WithLabelValues("clear", "error").Inc()
		return fmt.Errorf("clear %s: %w", key, err)
	}
	metrics.StoreOperations.WithLabelValues("clear", "ok").Inc()
	return nil
}

// SetJSON marshals v and stores it under key.
func (s *Store) SetJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Set(key, data)
}

// GetJSON loads key and unmarshals it into out.
func (s *Store) GetJSON(key string, out any) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// List returns up to limit values whose keys start with prefix, in key
// order (reverse for newest-first when keys are timestamp-ordered).
// limit <= 0 means no limit.
func (s *Store) List(prefix string, limit int, reverse bool) ([][]byte, error) {
	var out [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.Reverse = reverse
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := []byte(prefix)
		if reverse {
			// Seek past the last key in the prefix range.
			seek = append([]byte(prefix), 0xff)
		}
		for it.Seek(seek); it.ValidForPrefix([]byte(prefix)); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, val)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return out, nil
}

// SaveProfile persists the profile snapshot under the fixed key.
func (s *Store) SaveProfile(p *profile.Profile) error {
	if err := s.SetJSON(KeyProfileSnapshot, p); err != nil {
		return fmt.Errorf("save profile snapshot: %w", err)
	}
	s.logger.Debug().Int64("version", p.Version).Msg("Profile snapshot saved")
	return nil
}

// LoadProfile restores the profile snapshot. Returns ErrNotFound when
// no snapshot exists.
func (s *Store) LoadProfile() (*profile.Profile, error) {
	var p profile.Profile
	if err := s.GetJSON(KeyProfileSnapshot, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Credentials are saved collaborator credentials. Stored as an opaque
// record; the core never interprets the values.
type Credentials struct {
	APIKey   string `json:"api_key,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// SaveCredentials persists collaborator credentials.
func (s *Store) SaveCredentials(c Credentials) error {
	return s.SetJSON(KeyCollabCredentials, c)
}

// LoadCredentials restores saved collaborator credentials.
func (s *Store) LoadCredentials() (Credentials, error) {
	var c Credentials
	if err := s.GetJSON(KeyCollabCredentials, &c); err != nil {
		return Credentials{}, err
	}
	return c, nil
}

// ClearCredentials removes saved collaborator credentials.
func (s *Store) ClearCredentials() error {
	return s.Clear(KeyCollabCredentials)
}
