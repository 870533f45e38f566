package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
}

type ServiceConfig struct {
	Name     string          `yaml:"name" json:"name" validate:"required"`
	Version  string          `yaml:"version" json:"version" validate:"required"`
	Debug    bool            `yaml:"debug" json:"debug"`
	Server   *ServerConfig   `yaml:"server" json:"server"`
	Logger   *LoggerConfig   `yaml:"logger" json:"logger"`
	Cache    *CacheConfig    `yaml:"cache" json:"cache"`
	Database *DatabaseConfig `yaml:"database" json:"database"`
	Events   *EventsConfig   `yaml:"events" json:"events"`
	Metrics  *MetricsConfig  `yaml:"metrics" json:"metrics"`
	Cron     *CronConfig     `yaml:"cron" json:"cron"`
	Orders   *OrdersConfig   `yaml:"orders" json:"orders"`
}

type ServerConfig struct {
	HTTP *HTTPConfig `yaml:"http" json:"http"`
}

type HTTPConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout     int    `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    int    `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     int    `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

type LoggerConfig struct {
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

type CacheConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Type            string        `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config          interface{}   `yaml:"config" json:"config"`
	DefaultTTL      time.Duration `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
	CleanupInterval string        `yaml:"cleanup_interval" json:"cleanup_interval"`
	TTLRules        []TTLRule     `yaml:"ttl_rules" json:"ttl_rules"`
}

// TTLRule binds a key prefix to an entry lifetime. The longest matching
// prefix wins; keys matching no rule get the cache default TTL.
type TTLRule struct {
	Prefix string        `yaml:"prefix" json:"prefix" validate:"required"`
	TTL    time.Duration `yaml:"ttl" json:"ttl" validate:"min=0"`
}

type DatabaseConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Type    string        `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Path    string        `yaml:"path" json:"path"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	Config  interface{}   `yaml:"config" json:"config"`
}

type EventsConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	QueueSize  int  `yaml:"queue_size" json:"queue_size"`
	PingPeriod int  `yaml:"ping_period" json:"ping_period"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

type CronConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Timezone string `yaml:"timezone" json:"timezone"`
}

type OrdersConfig struct {
	Database          string `yaml:"database" json:"database"`
	OrderCollection   string `yaml:"order_collection" json:"order_collection"`
	ProductCollection string `yaml:"product_collection" json:"product_collection"`
}
