//
// Copyright (C) 2025 The flowgraph Authors. All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

// Package redis provides a Redis-backed checkpoint store for workflow
// state persistence and recovery across process restarts.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/flowgraph-dev/flowgraph/workflow"
)

const (
	keyPrefixSnapshot = "ckpt:snap:"
	keyPrefixVersion  = "ckpt:ver:"
	keyPrefixRunKeys  = "ckpt:run:"
)

func snapshotKey(key, version string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefixSnapshot, key, version)
}

func versionKey(key string) string {
	return keyPrefixVersion + key
}

func runKeysKey(runID string) string {
	return keyPrefixRunKeys + runID
}

// Store is a Redis-backed workflow.Store.
type Store struct {
	client redis.UniversalClient
	once   sync.Once // ensure Close is called only once
}

// NewStore creates a store from a Redis URL, e.g.
// "redis://localhost:6379/0".
func NewStore(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewStoreFromClient(redis.NewClient(opts))
}

// NewStoreFromClient creates a store over an existing client. The store
// takes ownership of the client and closes it on Close.
func NewStoreFromClient(client redis.UniversalClient) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	return &Store{client: client}, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		err = s.client.Close()
	})
	return err
}

// Write implements workflow.Store. Versions are allocated from a per-key
// counter so concurrent writers never overwrite each other.
func (s *Store) Write(ctx context.Context, key string, data []byte) (string, error) {
	runID, _, err := workflow.ParseCheckpointKey(key)
	if err != nil {
		return "", err
	}
	seq, err := s.client.Incr(ctx, versionKey(key)).Result()
	if err != nil {
		return "", fmt.Errorf("allocate version for %s: %w", key, err)
	}
	version := strconv.FormatInt(seq-1, 10)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, snapshotKey(key, version), data, 0)
	pipe.SAdd(ctx, runKeysKey(runID), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("store checkpoint %s: %w", key, err)
	}
	return version, nil
}

// Read implements workflow.Store. An empty version selects the latest
// write.
func (s *Store) Read(ctx context.Context, key string, version string) ([]byte, error) {
	if version == "" {
		seq, err := s.client.Get(ctx, versionKey(key)).Int64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, fmt.Errorf("key %s: %w", key, workflow.ErrCheckpointNotFound)
			}
			return nil, fmt.Errorf("read version counter for %s: %w", key, err)
		}
		version = strconv.FormatInt(seq-1, 10)
	}
	data, err := s.client.Get(ctx, snapshotKey(key, version)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("key %s: %w", key, workflow.ErrCheckpointNotFound)
		}
		return nil, fmt.Errorf("read checkpoint %s: %w", key, err)
	}
	return data, nil
}

// ListKeys implements workflow.Store.
func (s *Store) ListKeys(ctx context.Context, runID string) ([]workflow.CheckpointInfo, error) {
	keys, err := s.client.SMembers(ctx, runKeysKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for run %s: %w", runID, err)
	}
	var infos []workflow.CheckpointInfo
	for _, key := range keys {
		_, step, err := workflow.ParseCheckpointKey(key)
		if err != nil {
			continue
		}
		seq, err := s.client.Get(ctx, versionKey(key)).Int64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("read version counter for %s: %w", key, err)
		}
		infos = append(infos, workflow.CheckpointInfo{
			RunID:      runID,
			StepNumber: step,
			Key:        key,
			Version:    strconv.FormatInt(seq-1, 10),
		})
	}
	return infos, nil
}

// DeleteRun implements workflow.Store.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	keys, err := s.client.SMembers(ctx, runKeysKey(runID)).Result()
	if err != nil {
		return fmt.Errorf("list checkpoints for run %s: %w", runID, err)
	}
	pipe := s.client.TxPipeline()
	for _, key := range keys {
		seq, err := s.client.Get(ctx, versionKey(key)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("read version counter for %s: %w", key, err)
		}
		for v := int64(0); v < seq; v++ {
			pipe.Del(ctx, snapshotKey(key, strconv.FormatInt(v, 10)))
		}
		pipe.Del(ctx, versionKey(key))
	}
	pipe.Del(ctx, runKeysKey(runID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete checkpoints for run %s: %w", runID, err)
	}
	return nil
}
