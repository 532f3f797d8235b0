// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package history records deployment runs in a local badger database.

Each run is a JSON document under

	run/<deployment>/<zero-padded unix nanos>/<run id>

so a prefix scan over one deployment yields runs in start order. Only the
newest MaxRuns runs per deployment are kept.
*/
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNoRuns is returned by Last when a deployment has no recorded runs.
var ErrNoRuns = errors.New("no recorded runs")

// StepRecord is the timing of one workflow step.
type StepRecord struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration_ns"`
	Status   string        `json:"status"`
}

// Run is one recorded deployment run.
type Run struct {
	ID          string       `json:"id"`
	Deployment  string       `json:"deployment"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
	Outcome     string       `json:"outcome"`
	FailedStep  string       `json:"failed_step,omitempty"`
	ErrorKind   string       `json:"error_kind,omitempty"`
	Error       string       `json:"error,omitempty"`
	Steps       []StepRecord `json:"steps"`
	ImageTag    string       `json:"image_tag,omitempty"`
	ContainerID string       `json:"container_id,omitempty"`
	Health      string       `json:"health,omitempty"`
	Teardown    string       `json:"teardown,omitempty"`
	Warnings    []string     `json:"warnings,omitempty"`
}

// Duration returns the wall-clock length of the run.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store is the run history.
type Store struct {
	db      *badger.DB
	maxRuns int
}

// Open opens (creating if needed) the history store.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	maxRuns := cfg.MaxRuns
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}
	return &Store{db: db, maxRuns: maxRuns}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func prefix(deployment string) []byte {
	return []byte("run/" + deployment + "/")
}

func runKey(r Run) []byte {
	return []byte(fmt.Sprintf("run/%s/%020d/%s", r.Deployment, r.StartedAt.UnixNano(), r.ID))
}

// Append stores run and prunes runs beyond the retention limit.
func (s *Store) Append(ctx context.Context, run Run) error {
	if run.ID == "" || run.Deployment == "" {
		return errors.New("run id and deployment are required")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}

	return withTxn(ctx, s.db, func(txn *badger.Txn) error {
		if err := txn.Set(runKey(run), data); err != nil {
			return err
		}
		return s.prune(txn, run.Deployment)
	})
}

// prune deletes the oldest runs so at most maxRuns remain. It runs inside
// Append's transaction, which already contains the new key.
func (s *Store) prune(txn *badger.Txn, deployment string) error {
	p := prefix(deployment)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = p

	var keys [][]byte
	it := txn.NewIterator(opts)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for len(keys) > s.maxRuns {
		if err := txn.Delete(keys[0]); err != nil {
			return err
		}
		keys = keys[1:]
	}
	return nil
}

// List returns up to limit runs of deployment, newest first. limit <= 0
// returns all retained runs.
func (s *Store) List(ctx context.Context, deployment string, limit int) ([]Run, error) {
	var runs []Run
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		p := prefix(deployment)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = p

		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration must start past the last key with this prefix.
		seek := append(append([]byte{}, p...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(p); it.Next() {
			var run Run
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			}); err != nil {
				return fmt.Errorf("decode run: %w", err)
			}
			runs = append(runs, run)
			if limit > 0 && len(runs) >= limit {
				break
			}
		}
		return nil
	})
	return runs, err
}

// Last returns the newest run of deployment, or ErrNoRuns.
func (s *Store) Last(ctx context.Context, deployment string) (*Run, error) {
	runs, err := s.List(ctx, deployment, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNoRuns
	}
	return &runs[0], nil
}
