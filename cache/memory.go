package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-docstore/types"
	"github.com/saiset-co/sai-docstore/utils"
)

type MemoryState int32

const (
	MemoryStateStopped MemoryState = iota
	MemoryStateStarting
	MemoryStateRunning
	MemoryStateStopping
)

const (
	MaxTTL     = 24 * time.Hour
	DefaultTTL = 5 * time.Minute
)

type MemoryConfig struct {
	MaxEntries int `json:"max_entries"`
}

type MemoryCache struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          *MemoryConfig
	logger          types.Logger
	defaultTTL      time.Duration
	ttlRules        []types.TTLRule
	cleanupInterval string
	data            map[string]*types.CacheEntry
	hits            uint64
	misses          uint64
	evictions       uint64
	mu              sync.RWMutex
	state           atomic.Value
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
	entryPool       sync.Pool
	shutdownTimeout time.Duration
}

func NewMemoryCache(ctx context.Context, logger types.Logger, config *types.CacheConfig) (types.CacheManager, error) {
	var memConfig = &MemoryConfig{
		MaxEntries: 10000,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, memConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory cache config")
		}
	}

	defaultTTL := config.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	// Longest prefix first so the most specific rule wins a scan.
	rules := make([]types.TTLRule, len(config.TTLRules))
	copy(rules, config.TTLRules)
	sort.SliceStable(rules, func(i, j int) bool {
		return len(rules[i].Prefix) > len(rules[j].Prefix)
	})

	cacheCtx, cancel := context.WithCancel(ctx)

	cache := &MemoryCache{
		ctx:             cacheCtx,
		cancel:          cancel,
		logger:          logger,
		config:          memConfig,
		defaultTTL:      defaultTTL,
		ttlRules:        rules,
		cleanupInterval: config.CleanupInterval,
		data:            make(map[string]*types.CacheEntry),
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
		shutdownTimeout: 10 * time.Second,
		entryPool: sync.Pool{
			New: func() interface{} {
				return &types.CacheEntry{}
			},
		},
	}

	cache.state.Store(MemoryStateStopped)

	return cache, nil
}

func (m *MemoryCache) Get(key string) (interface{}, bool) {
	now := time.Now().UnixNano()

	m.mu.RLock()
	entry, exists := m.data[key]
	if !exists {
		m.mu.RUnlock()
		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	// Expired entries answer as misses but stay in place: the degraded read
	// path may still need them through GetStale. The sweep reclaims them.
	if now > entry.ExpiresAt.UnixNano() {
		m.mu.RUnlock()
		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	value := entry.Value
	m.mu.RUnlock()

	atomic.AddUint64(&m.hits, 1)

	return value, true
}

func (m *MemoryCache) GetStale(key string) (*types.StaleEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.data[key]
	if !exists {
		return nil, false
	}

	return &types.StaleEntry{
		Value:     entry.Value,
		CreatedAt: entry.CreatedAt,
		ExpiresAt: entry.ExpiresAt,
		Expired:   time.Now().After(entry.ExpiresAt),
	}, true
}

func (m *MemoryCache) Set(key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		m.logger.Error("Attempted to set cache entry with empty key")
		return types.ErrCacheKeyEmpty
	}

	if ttl <= 0 {
		ttl = m.resolveTTL(key)
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	now := time.Now()
	entry := m.entryPool.Get().(*types.CacheEntry)
	entry.Key = key
	entry.Value = value
	entry.TTL = ttl
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.MaxEntries > 0 {
		if _, exists := m.data[key]; !exists && len(m.data) >= m.config.MaxEntries {
			m.evictOneUnsafe()
		}
	}

	if oldEntry, exists := m.data[key]; exists {
		m.returnEntryToPool(oldEntry)
	}

	m.data[key] = entry
	return nil
}

func (m *MemoryCache) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, exists := m.data[key]; exists {
		delete(m.data, key)
		m.returnEntryToPool(entry)
	}

	return nil
}

func (m *MemoryCache) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, entry := range m.data {
		delete(m.data, key)
		m.returnEntryToPool(entry)
	}

	return nil
}

func (m *MemoryCache) InvalidatePattern(prefix string) int {
	if prefix == "" {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.data {
		if strings.HasPrefix(key, prefix) {
			delete(m.data, key)
			m.returnEntryToPool(entry)
			removed++
		}
	}

	if removed > 0 {
		m.logger.Debug("Cache pattern invalidated",
			zap.String("prefix", prefix),
			zap.Int("removed", removed))
	}

	return removed
}

func (m *MemoryCache) Stats() *types.CacheStats {
	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &types.CacheStats{
		TotalEntries: len(m.data),
		Keys:         make([]string, 0, len(m.data)),
	}

	for key, entry := range m.data {
		stats.Keys = append(stats.Keys, key)
		if now.After(entry.ExpiresAt) {
			stats.ExpiredEntries++
		} else {
			stats.ValidEntries++
		}
	}

	sort.Strings(stats.Keys)

	return stats
}

// Cleanup removes every expired entry and returns how many were dropped.
// It runs on the sweep interval and is also exposed for explicit admin calls.
func (m *MemoryCache) Cleanup() int {
	now := time.Now().UnixNano()

	m.mu.Lock()
	defer m.mu.Unlock()

	expired := 0
	for key, entry := range m.data {
		if now > entry.ExpiresAt.UnixNano() {
			delete(m.data, key)
			m.returnEntryToPool(entry)
			expired++
		}
	}

	if expired > 0 {
		m.logger.Debug("Cleanup completed", zap.Int("expired_entries", expired))
	}

	return expired
}

func (m *MemoryCache) Start() error {
	if !m.transitionState(MemoryStateStopped, MemoryStateStarting) {
		m.logger.Warn("Memory cache is already running")
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if m.getState() == MemoryStateStarting {
			m.setState(MemoryStateRunning)
		}
	}()

	if m.cleanupInterval != "" {
		go m.startCleanupRoutine()
	} else {
		close(m.cleanupDone)
	}

	m.logger.Info("Memory cache started")
	return nil
}

func (m *MemoryCache) Stop() error {
	if !m.transitionState(MemoryStateRunning, MemoryStateStopping) {
		m.logger.Warn("Memory cache is not running")
		return types.ErrServerNotRunning
	}

	defer func() {
		m.setState(MemoryStateStopped)
	}()

	m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case m.stopCleanup <- struct{}{}:
		case <-time.After(time.Second):
		}

		select {
		case <-m.cleanupDone:
			m.logger.Debug("Cleanup routine stopped")
		case <-time.After(5 * time.Second):
			m.logger.Warn("Cleanup routine stop timeout")
		}

		return nil
	})

	g.Go(func() error {
		return m.Clear()
	})

	if err := g.Wait(); err != nil {
		m.logger.Error("Error during memory cache shutdown", zap.Error(err))
	} else {
		m.logger.Info("Memory cache stopped gracefully")
	}

	return nil
}

func (m *MemoryCache) IsRunning() bool {
	return m.getState() == MemoryStateRunning
}

func (m *MemoryCache) resolveTTL(key string) time.Duration {
	for _, rule := range m.ttlRules {
		if strings.HasPrefix(key, rule.Prefix) {
			return rule.TTL
		}
	}
	return m.defaultTTL
}

func (m *MemoryCache) getState() MemoryState {
	return m.state.Load().(MemoryState)
}

func (m *MemoryCache) setState(newState MemoryState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryCache) transitionState(from, to MemoryState) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *MemoryCache) returnEntryToPool(entry *types.CacheEntry) {
	if entry == nil {
		return
	}

	entry.Key = ""
	entry.Value = nil
	entry.TTL = 0
	entry.CreatedAt = time.Time{}
	entry.ExpiresAt = time.Time{}

	m.entryPool.Put(entry)
}

func (m *MemoryCache) startCleanupRoutine() {
	defer close(m.cleanupDone)

	cleanupInterval, err := time.ParseDuration(m.cleanupInterval)
	if err != nil {
		m.logger.Error("Invalid cleanup interval, using default 1m",
			zap.String("interval", m.cleanupInterval),
			zap.Error(err))
		cleanupInterval = time.Minute
	}

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Debug("Cleanup routine stopped by context")
			return
		case <-m.stopCleanup:
			m.logger.Debug("Cleanup routine stopped by signal")
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}

func (m *MemoryCache) evictOneUnsafe() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range m.data {
		if oldestKey == "" || entry.CreatedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CreatedAt
		}
	}

	if oldestKey != "" {
		entry := m.data[oldestKey]
		delete(m.data, oldestKey)
		m.returnEntryToPool(entry)
		atomic.AddUint64(&m.evictions, 1)
	}
}
