package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root application configuration. It is built once in main and
// handed to the components that need it.
type Config struct {
	Server   Server         `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Hooks    HooksConfig    `yaml:"hooks"`
	Log      LogConfig      `yaml:"log"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"             env:"VCR_ADDR"             env-default:":8080"`
	WebhookAPIKey   string        `yaml:"webhook_api_key"  env:"VCR_WEBHOOK_API_KEY"`
	RequestTimeout  time.Duration `yaml:"request_timeout"  env:"VCR_REQUEST_TIMEOUT"  env-default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"VCR_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// DatabaseConfig holds PostgreSQL settings. An empty DSN runs with in-memory stores.
type DatabaseConfig struct {
	DSN          string        `yaml:"dsn"            env:"DATABASE_URL"`
	MaxOpenConns int           `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS" env-default:"25"`
	MaxIdleConns int           `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS" env-default:"5"`
	ConnMaxLife  time.Duration `yaml:"conn_max_life"  env:"DATABASE_CONN_MAX_LIFE"  env-default:"1h"`
	AutoMigrate  bool          `yaml:"auto_migrate"   env:"DATABASE_AUTO_MIGRATE"   env-default:"true"`
	TxTimeout    time.Duration `yaml:"tx_timeout"     env:"DATABASE_TX_TIMEOUT"     env-default:"10s"`
}

// RedisConfig holds hook-stats counter storage settings. An empty URL keeps stats in memory.
type RedisConfig struct {
	URL          string        `yaml:"url"            env:"REDIS_URL"`
	PoolSize     int           `yaml:"pool_size"      env:"REDIS_POOL_SIZE"      env-default:"10"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS" env-default:"2"`
	DialTimeout  time.Duration `yaml:"dial_timeout"   env:"REDIS_DIAL_TIMEOUT"   env-default:"5s"`
	ReadTimeout  time.Duration `yaml:"read_timeout"   env:"REDIS_READ_TIMEOUT"   env-default:"3s"`
	WriteTimeout time.Duration `yaml:"write_timeout"  env:"REDIS_WRITE_TIMEOUT"  env-default:"3s"`
}

// KafkaConfig holds registry event stream settings. No brokers means events are
// delivered to hooks in-process.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"        env:"KAFKA_BROKERS"        env-separator:","`
	Topic         string   `yaml:"topic"          env:"KAFKA_TOPIC"          env-default:"vcr.registry.events"`
	ConsumerGroup string   `yaml:"consumer_group" env:"KAFKA_CONSUMER_GROUP" env-default:"vcr-hooks"`
	Partitions    int32    `yaml:"partitions"     env:"KAFKA_PARTITIONS"     env-default:"3"`
}

// HooksConfig tunes outbound hook delivery. QueueSize bounds the in-process
// event queue used when Kafka is not configured.
type HooksConfig struct {
	WorkerID         string        `yaml:"worker_id"          env:"HOOKS_WORKER_ID"`
	MaxAttempts      int           `yaml:"max_attempts"       env:"HOOKS_MAX_ATTEMPTS"       env-default:"5"`
	InitialBackoff   time.Duration `yaml:"initial_backoff"    env:"HOOKS_INITIAL_BACKOFF"    env-default:"500ms"`
	MaxBackoff       time.Duration `yaml:"max_backoff"        env:"HOOKS_MAX_BACKOFF"        env-default:"30s"`
	RequestTimeout   time.Duration `yaml:"request_timeout"    env:"HOOKS_REQUEST_TIMEOUT"    env-default:"10s"`
	Concurrency      int           `yaml:"concurrency"        env:"HOOKS_CONCURRENCY"        env-default:"8"`
	BreakerThreshold int           `yaml:"breaker_threshold"  env:"HOOKS_BREAKER_THRESHOLD"  env-default:"5"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"   env:"HOOKS_BREAKER_COOLDOWN"   env-default:"1m"`
	RelayInterval    time.Duration `yaml:"relay_interval"     env:"HOOKS_RELAY_INTERVAL"     env-default:"1s"`
	RelayBatchSize   int           `yaml:"relay_batch_size"   env:"HOOKS_RELAY_BATCH_SIZE"   env-default:"100"`
	TokenTTL         time.Duration `yaml:"token_ttl"          env:"HOOKS_TOKEN_TTL"          env-default:"5m"`
	QueueSize        int           `yaml:"queue_size"         env:"HOOKS_QUEUE_SIZE"         env-default:"1000"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// Load reads configuration from a YAML file and environment variables.
// Priority: ENV > YAML > env-default tags. The file path comes from
// VCR_CONFIG; without it only ENV and defaults are read.
func Load() (*Config, error) {
	var cfg Config

	if path := os.Getenv("VCR_CONFIG"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}

	if cfg.Hooks.WorkerID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "vcr"
		}
		cfg.Hooks.WorkerID = host
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Hooks.MaxAttempts < 1 {
		errs = append(errs, errors.New("hooks.max_attempts must be at least 1"))
	}
	if c.Hooks.Concurrency < 1 {
		errs = append(errs, errors.New("hooks.concurrency must be at least 1"))
	}
	if c.Hooks.QueueSize < 1 {
		errs = append(errs, errors.New("hooks.queue_size must be at least 1"))
	}
	if c.Hooks.MaxBackoff < c.Hooks.InitialBackoff {
		errs = append(errs, errors.New("hooks.max_backoff must not be below hooks.initial_backoff"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	return errors.Join(errs...)
}
