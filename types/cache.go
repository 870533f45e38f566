package types

import (
	"time"
)

type CacheManager interface {
	LifecycleManager
	Get(key string) (interface{}, bool)
	GetStale(key string) (*StaleEntry, bool)
	Set(key string, value interface{}, ttl time.Duration) error
	Delete(key string) error
	Clear() error
	InvalidatePattern(prefix string) int
	Stats() *CacheStats
	Cleanup() int
}

type CacheManagerCreator func(config interface{}) (CacheManager, error)

type CacheEntry struct {
	Key       string        `json:"key"`
	Value     interface{}   `json:"value"`
	TTL       time.Duration `json:"ttl"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// StaleEntry is a read that ignores expiry, annotated with whether the
// entry is currently past its lifetime. Used only on degraded read paths.
type StaleEntry struct {
	Value     interface{} `json:"value"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
	Expired   bool        `json:"expired"`
}

type CacheStats struct {
	TotalEntries   int      `json:"total_entries"`
	ValidEntries   int      `json:"valid_entries"`
	ExpiredEntries int      `json:"expired_entries"`
	Keys           []string `json:"keys"`
}
