package config

import (
	"fmt"
	"time"

	"github.com/mohitkumar/agentflow/analytics"
	"github.com/mohitkumar/agentflow/invocation"
	rd "github.com/mohitkumar/agentflow/persistence/redis"
)

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"

type Config struct {
	StorageType      StorageType                       `mapstructure:"storage-impl"`
	RedisConfig      rd.Config                         `mapstructure:"redis"`
	MemoryDBPath     string                            `mapstructure:"memory-db"`
	HttpPort         int                               `mapstructure:"http-port"`
	WorkerCount      int                               `mapstructure:"worker-count"`
	PollInterval     time.Duration                     `mapstructure:"poll-interval"`
	ExpiryInterval   time.Duration                     `mapstructure:"expiry-interval"`
	StepRetryDelay   time.Duration                     `mapstructure:"step-retry-delay"`
	RetryPolicy      invocation.RetryPolicy            `mapstructure:"retry-policy"`
	ProviderPolicies map[string]invocation.RetryPolicy `mapstructure:"provider-policies"`
	OpenAIConfig     invocation.OpenAIConfig           `mapstructure:"openai"`
	AnalyticsConfig  analytics.DataCollectorConfig     `mapstructure:"analytics"`
	LogLevel         string                            `mapstructure:"log-level"`
	Development      bool                              `mapstructure:"development"`
}

func Default() Config {
	return Config{
		StorageType: STORAGE_TYPE_REDIS,
		RedisConfig: rd.Config{
			Addrs:     []string{"localhost:6379"},
			Namespace: "agentflow",
		},
		MemoryDBPath:   "agentflow-memory.db",
		HttpPort:       8080,
		WorkerCount:    4,
		PollInterval:   500 * time.Millisecond,
		ExpiryInterval: 5 * time.Second,
		StepRetryDelay: time.Second,
		RetryPolicy:    invocation.DefaultRetryPolicy(),
		AnalyticsConfig: analytics.DataCollectorConfig{
			CollectorType: analytics.PROMETHEUS_DATA_COLLECTOR,
			BufferSize:    analytics.DEFAULT_BUFFER_SIZE,
		},
		LogLevel: "info",
	}
}

func (c Config) Validate() error {
	switch c.StorageType {
	case STORAGE_TYPE_REDIS:
		if len(c.RedisConfig.Addrs) == 0 {
			return fmt.Errorf("redis storage needs at least one address")
		}
	case STORAGE_TYPE_INMEM:
	default:
		return fmt.Errorf("unknown storage type %q", c.StorageType)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("worker count must be positive, got %d", c.WorkerCount)
	}
	if c.PollInterval <= 0 || c.ExpiryInterval <= 0 {
		return fmt.Errorf("poll and expiry intervals must be positive")
	}
	if c.HttpPort < 0 {
		return fmt.Errorf("invalid http port %d", c.HttpPort)
	}
	if c.MemoryDBPath == "" {
		return fmt.Errorf("memory db path can not be empty")
	}
	for provider, p := range c.ProviderPolicies {
		if p.MaxAttempts < 1 {
			return fmt.Errorf("retry policy of provider %s needs at least one attempt", provider)
		}
	}
	return nil
}
