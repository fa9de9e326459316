package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "fulfillment:execution:"

// ExecutionStore implements ports.ExecutionStore using Redis. Each
// execution is one JSON document.
type ExecutionStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewExecutionStore creates a new Redis execution store. A zero ttl keeps
// records forever.
func NewExecutionStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *ExecutionStore {
	return &ExecutionStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Save persists the execution document
func (s *ExecutionStore) Save(ctx context.Context, exec *domain.Execution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	if err := s.client.Set(ctx, executionKey(exec.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	s.logger.Debug("execution saved",
		zap.String("execution_id", exec.ID),
		zap.String("status", string(exec.Status)))

	return nil
}

// Load retrieves an execution
func (s *ExecutionStore) Load(ctx context.Context, executionID string) (*domain.Execution, error) {
	data, err := s.client.Get(ctx, executionKey(executionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("execution %s: %w", executionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	var exec domain.Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &exec, nil
}

// Delete removes an execution
func (s *ExecutionStore) Delete(ctx context.Context, executionID string) error {
	if err := s.client.Del(ctx, executionKey(executionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	return nil
}

// List scans every execution document, oldest first
func (s *ExecutionStore) List(ctx context.Context) ([]*domain.Execution, error) {
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	execs := make([]*domain.Execution, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			// expired between SCAN and GET
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("failed to get %s: %w", key, err)
		}

		var exec domain.Execution
		if err := json.Unmarshal(data, &exec); err != nil {
			s.logger.Warn("skipping undecodable execution",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		execs = append(execs, &exec)
	}

	sort.Slice(execs, func(i, j int) bool {
		if !execs[i].InitiatedAt.Equal(execs[j].InitiatedAt) {
			return execs[i].InitiatedAt.Before(execs[j].InitiatedAt)
		}
		return execs[i].ID < execs[j].ID
	})
	return execs, nil
}

func executionKey(executionID string) string {
	return keyPrefix + executionID
}
