package cache

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-docstore/types"
	"github.com/saiset-co/sai-docstore/utils"
)

type RedisConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Password           string        `json:"password"`
	DB                 int           `json:"db"`
	PoolSize           int           `json:"pool_size"`
	MinIdleConnections int           `json:"min_idle_connections"`
	DialTimeout        time.Duration `json:"dial_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	KeyPrefix          string        `json:"key_prefix"`
	StaleWindow        time.Duration `json:"stale_window"`
}

// RedisCache stores the logical expiry inside the entry envelope instead of
// using a redis TTL, so expired entries remain readable through GetStale.
// A hard redis TTL of expiry+StaleWindow bounds how long stale data lingers.
type RedisCache struct {
	ctx        context.Context
	logger     types.Logger
	config     *RedisConfig
	client     *redis.Client
	defaultTTL time.Duration
	ttlRules   []types.TTLRule
	started    int32
}

func NewRedisCache(ctx context.Context, logger types.Logger, config *types.CacheConfig) (types.CacheManager, error) {
	var redisConfig = &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		DB:                 0,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		KeyPrefix:          "sai-docstore",
		StaleWindow:        24 * time.Hour,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, redisConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis cache config")
		}
	}

	defaultTTL := config.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	rules := make([]types.TTLRule, len(config.TTLRules))
	copy(rules, config.TTLRules)
	sort.SliceStable(rules, func(i, j int) bool {
		return len(rules[i].Prefix) > len(rules[j].Prefix)
	})

	cache := &RedisCache{
		ctx:        ctx,
		logger:     logger,
		config:     redisConfig,
		defaultTTL: defaultTTL,
		ttlRules:   rules,
	}

	cache.client = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
		Password:     redisConfig.Password,
		DB:           redisConfig.DB,
		PoolSize:     redisConfig.PoolSize,
		MinIdleConns: redisConfig.MinIdleConnections,
		DialTimeout:  redisConfig.DialTimeout,
		ReadTimeout:  redisConfig.ReadTimeout,
		WriteTimeout: redisConfig.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisConfig.DialTimeout)
	defer cancel()

	if err := cache.client.Ping(pingCtx).Err(); err != nil {
		return nil, types.WrapError(err, "failed to connect to redis")
	}

	return cache, nil
}

func (r *RedisCache) Get(key string) (interface{}, bool) {
	entry, ok := r.fetch(key)
	if !ok {
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		return nil, false
	}

	return entry.Value, true
}

func (r *RedisCache) GetStale(key string) (*types.StaleEntry, bool) {
	entry, ok := r.fetch(key)
	if !ok {
		return nil, false
	}

	return &types.StaleEntry{
		Value:     entry.Value,
		CreatedAt: entry.CreatedAt,
		ExpiresAt: entry.ExpiresAt,
		Expired:   time.Now().After(entry.ExpiresAt),
	}, true
}

func (r *RedisCache) Set(key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if ttl <= 0 {
		ttl = r.resolveTTL(key)
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	now := time.Now()
	entry := &types.CacheEntry{
		Key:       key,
		Value:     value,
		TTL:       ttl,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	data, err := utils.Marshal(entry)
	if err != nil {
		return types.WrapError(err, "failed to marshal cache entry")
	}

	err = r.client.Set(r.ctx, r.buildFullKey(key), data, ttl+r.config.StaleWindow).Err()
	if err != nil {
		return types.WrapError(err, "failed to set cache entry")
	}

	return nil
}

func (r *RedisCache) Delete(key string) error {
	return r.client.Del(r.ctx, r.buildFullKey(key)).Err()
}

func (r *RedisCache) Clear() error {
	return r.scanDelete(r.buildFullKey(""), nil)
}

func (r *RedisCache) InvalidatePattern(prefix string) int {
	if prefix == "" {
		return 0
	}

	removed := 0
	if err := r.scanDelete(r.buildFullKey(prefix), &removed); err != nil {
		r.logger.Error("Cache pattern invalidation failed",
			zap.String("prefix", prefix),
			zap.Error(err))
	}

	return removed
}

func (r *RedisCache) Stats() *types.CacheStats {
	stats := &types.CacheStats{}
	now := time.Now()
	prefixLen := len(r.buildFullKey(""))

	iter := r.client.Scan(r.ctx, 0, r.buildFullKey("")+"*", 100).Iterator()
	for iter.Next(r.ctx) {
		fullKey := iter.Val()
		stats.TotalEntries++
		stats.Keys = append(stats.Keys, fullKey[prefixLen:])

		result, err := r.client.Get(r.ctx, fullKey).Result()
		if err != nil {
			continue
		}

		var entry types.CacheEntry
		if err := utils.Unmarshal([]byte(result), &entry); err != nil {
			continue
		}

		if now.After(entry.ExpiresAt) {
			stats.ExpiredEntries++
		} else {
			stats.ValidEntries++
		}
	}

	sort.Strings(stats.Keys)

	return stats
}

func (r *RedisCache) Cleanup() int {
	now := time.Now()
	removed := 0

	iter := r.client.Scan(r.ctx, 0, r.buildFullKey("")+"*", 100).Iterator()
	for iter.Next(r.ctx) {
		fullKey := iter.Val()

		result, err := r.client.Get(r.ctx, fullKey).Result()
		if err != nil {
			continue
		}

		var entry types.CacheEntry
		if err := utils.Unmarshal([]byte(result), &entry); err != nil {
			r.client.Del(r.ctx, fullKey)
			removed++
			continue
		}

		if now.After(entry.ExpiresAt) {
			r.client.Del(r.ctx, fullKey)
			removed++
		}
	}

	return removed
}

func (r *RedisCache) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	r.logger.Info("Redis cache started",
		zap.String("addr", fmt.Sprintf("%s:%d", r.config.Host, r.config.Port)),
		zap.String("prefix", r.config.KeyPrefix))
	return nil
}

func (r *RedisCache) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return types.ErrServerNotRunning
	}

	if err := r.client.Close(); err != nil {
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Redis cache stopped gracefully")
	return nil
}

func (r *RedisCache) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RedisCache) fetch(key string) (*types.CacheEntry, bool) {
	if key == "" {
		return nil, false
	}

	result, err := r.client.Get(r.ctx, r.buildFullKey(key)).Result()
	if err != nil {
		if !types.IsError(err, redis.Nil) {
			r.logger.Error("Failed to get cache entry", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var entry types.CacheEntry
	if err := utils.Unmarshal([]byte(result), &entry); err != nil {
		r.logger.Error("Failed to unmarshal cache entry", zap.String("key", key), zap.Error(err))
		r.client.Del(r.ctx, r.buildFullKey(key))
		return nil, false
	}

	return &entry, true
}

func (r *RedisCache) scanDelete(match string, removed *int) error {
	iter := r.client.Scan(r.ctx, 0, match+"*", 100).Iterator()
	for iter.Next(r.ctx) {
		if err := r.client.Del(r.ctx, iter.Val()).Err(); err != nil {
			return err
		}
		if removed != nil {
			*removed++
		}
	}
	return iter.Err()
}

func (r *RedisCache) resolveTTL(key string) time.Duration {
	for _, rule := range r.ttlRules {
		if len(key) >= len(rule.Prefix) && key[:len(rule.Prefix)] == rule.Prefix {
			return rule.TTL
		}
	}
	return r.defaultTTL
}

func (r *RedisCache) buildFullKey(key string) string {
	return r.config.KeyPrefix + ":" + key
}
