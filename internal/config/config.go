package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN         string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL         string `env:"RABBITMQ_URL,required=true"`
	RedisURL            string `env:"REDIS_URL,required=true"`
	RegistryAPIURL      string `env:"REGISTRY_API_URL,required=true"`
	PlatformAPIURL      string `env:"PLATFORM_API_URL,required=true"`
	SetupServiceURL     string `env:"SETUP_SERVICE_URL,required=true"`
	RateLimitPerSec     int    `env:"RATE_LIMIT_PER_SEC,default=50"`
	ExecutorConcurrency int    `env:"EXECUTOR_CONCURRENCY,default=8"`
	APIPort             int    `env:"API_PORT,default=8080"`
	LogLevel            string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
