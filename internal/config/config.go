package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	DispatchModeSync  = "sync"
	DispatchModeAsync = "async"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	ProviderURL       string `env:"PROVIDER_URL,required=true"`
	ProviderAccountID string `env:"PROVIDER_ACCOUNT_ID,required=true"`
	ProviderAuthToken string `env:"PROVIDER_AUTH_TOKEN,required=true"`
	ProviderSender    string `env:"PROVIDER_SENDER"`

	RedirectSigningKey string        `env:"REDIRECT_SIGNING_KEY,required=true"`
	PublicBaseURL      string        `env:"PUBLIC_BASE_URL,required=true"`
	RedirectLinkTTL    time.Duration `env:"REDIRECT_LINK_TTL,default=8760h"`

	CandidateServiceURL string        `env:"CANDIDATE_SERVICE_URL,required=true"`
	ActivityServiceURL  string        `env:"ACTIVITY_SERVICE_URL,required=true"`
	SmartlistCacheTTL   time.Duration `env:"SMARTLIST_CACHE_TTL,default=5m"`

	DispatchMode        string        `env:"DISPATCH_MODE,default=sync"`
	DispatchConcurrency int           `env:"DISPATCH_CONCURRENCY,default=8"`
	RateLimitPerSec     int           `env:"RATE_LIMIT_PER_SEC,default=100"`
	SchedulerInterval   time.Duration `env:"SCHEDULER_INTERVAL,default=30s"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
	LogFile  string `env:"LOG_FILE"`
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.DispatchMode = strings.ToLower(strings.TrimSpace(cfg.DispatchMode))
	if cfg.DispatchMode != DispatchModeSync && cfg.DispatchMode != DispatchModeAsync {
		return nil, fmt.Errorf("failed to load config: DISPATCH_MODE must be %q or %q", DispatchModeSync, DispatchModeAsync)
	}
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")

	return &cfg, nil
}

func (c *Config) AsyncDispatch() bool {
	return c != nil && c.DispatchMode == DispatchModeAsync
}
