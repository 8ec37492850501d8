package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/andresuchdata/procureplan/internal/config"
	"github.com/andresuchdata/procureplan/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	runKeyPrefix        = "planner:run"
	allocationKeyPrefix = "planner:allocation"
	runScanBatchSize    = 100
)

// RunCache keeps finished decision runs and their allocations. Only terminal
// runs are cached since they never change again.
type RunCache interface {
	GetRun(ctx context.Context, runID string) (*domain.DecisionRun, bool, error)
	SetRun(ctx context.Context, run *domain.DecisionRun) error
	GetAllocation(ctx context.Context, setID string) (*domain.Allocation, bool, error)
	SetAllocation(ctx context.Context, setID string, alloc *domain.Allocation) error
	InvalidateAll(ctx context.Context) error
}

type redisRunCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopRunCache struct{}

func NewRunCache(ctx context.Context, cfg config.CacheConfig) (RunCache, error) {
	if !cfg.Enabled {
		return &noopRunCache{}, nil
	}

	client, err := connectRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &redisRunCache{
		client: client,
		ttl:    runTTL(cfg),
	}, nil
}

func NewNoopRunCache() RunCache {
	return &noopRunCache{}
}

func (c *redisRunCache) GetRun(ctx context.Context, runID string) (*domain.DecisionRun, bool, error) {
	var run domain.DecisionRun
	ok, err := c.get(ctx, buildRunKey(runID), &run)
	if err != nil || !ok {
		return nil, false, err
	}
	return &run, true, nil
}

func (c *redisRunCache) SetRun(ctx context.Context, run *domain.DecisionRun) error {
	if !run.Status.Terminal() {
		return nil
	}
	return c.set(ctx, buildRunKey(run.ID), run)
}

func (c *redisRunCache) GetAllocation(ctx context.Context, setID string) (*domain.Allocation, bool, error) {
	var alloc domain.Allocation
	ok, err := c.get(ctx, buildAllocationKey(setID), &alloc)
	if err != nil || !ok {
		return nil, false, err
	}
	return &alloc, true, nil
}

func (c *redisRunCache) SetAllocation(ctx context.Context, setID string, alloc *domain.Allocation) error {
	return c.set(ctx, buildAllocationKey(setID), alloc)
}

func (c *redisRunCache) InvalidateAll(ctx context.Context) error {
	_, err := unlinkPrefixes(ctx, c.client, runScanBatchSize, runKeyPrefix, allocationKeyPrefix)
	return err
}

func (c *redisRunCache) get(ctx context.Context, key string, dest any) (bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return false, fmt.Errorf("decode %s cache: %w", key, err)
	}
	return true, nil
}

func (c *redisRunCache) set(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s cache: %w", key, err)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (n *noopRunCache) GetRun(ctx context.Context, runID string) (*domain.DecisionRun, bool, error) {
	return nil, false, nil
}

func (n *noopRunCache) SetRun(ctx context.Context, run *domain.DecisionRun) error {
	return nil
}

func (n *noopRunCache) GetAllocation(ctx context.Context, setID string) (*domain.Allocation, bool, error) {
	return nil, false, nil
}

func (n *noopRunCache) SetAllocation(ctx context.Context, setID string, alloc *domain.Allocation) error {
	return nil
}

func (n *noopRunCache) InvalidateAll(ctx context.Context) error {
	return nil
}

func buildRunKey(runID string) string {
	return fmt.Sprintf("%s:%s", runKeyPrefix, strings.TrimSpace(runID))
}

func buildAllocationKey(setID string) string {
	return fmt.Sprintf("%s:%s", allocationKeyPrefix, strings.TrimSpace(setID))
}
