package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"DigitPilot/pkg/util"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
		// AggregateTopic ships deduplicated error summaries to Kafka.
		// Empty disables collection.
		AggregateTopic string `yaml:"aggregate_topic"`
		Rotate         struct {
			Enabled    bool `yaml:"enabled"`
			MaxSizeMB  int  `yaml:"max_size_mb"`
			MaxBackups int  `yaml:"max_backups"`
			MaxAgeDays int  `yaml:"max_age_days"`
			Compress   bool `yaml:"compress"`
		} `yaml:"rotate"`
	} `yaml:"logging"`
	Deriv struct {
		Endpoint       string        `yaml:"endpoint"`
		AppID          string        `yaml:"app_id"`
		Markets        []string      `yaml:"markets"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		CallTimeout    time.Duration `yaml:"call_timeout"`
		MaxReconnects  int           `yaml:"max_reconnects"`
		ReconnectBase  time.Duration `yaml:"reconnect_base"`
	} `yaml:"deriv"`
	Pool struct {
		KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
		IdleTimeout       time.Duration `yaml:"idle_timeout"`
		ReapInterval      time.Duration `yaml:"reap_interval"`
	} `yaml:"pool"`
	Engine struct {
		WarmupDigits       int     `yaml:"warmup_digits"`
		EntropyWindow      int     `yaml:"entropy_window"`
		MarkovWindow       int     `yaml:"markov_window"`
		StableMaxEntropy   float64 `yaml:"stable_max_entropy"`
		ChaosMinEntropy    float64 `yaml:"chaos_min_entropy"`
		MinConfidence      float64 `yaml:"min_confidence"`
		MinFactors         int     `yaml:"min_factors"`
		ContradictionRatio float64 `yaml:"contradiction_ratio"`
		StreakMin          int     `yaml:"streak_min"`
		StreakWrap         bool    `yaml:"streak_wrap"`
		BiasEdge           float64 `yaml:"bias_edge"`
	} `yaml:"engine"`
	Scheduler struct {
		Interval   time.Duration `yaml:"interval"`
		SmartDelay time.Duration `yaml:"smart_delay"`
		LockTTL    time.Duration `yaml:"lock_ttl"`
	} `yaml:"scheduler"`
	Risk struct {
		TradesPerMinute  int           `yaml:"trades_per_minute"`
		TradesPerHour    int           `yaml:"trades_per_hour"`
		BreakerFailures  int           `yaml:"breaker_failures"`
		BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
		MaxOpenPerMarket int           `yaml:"max_open_per_market"`
		MaxOpenTotal     int           `yaml:"max_open_total"`
	} `yaml:"risk"`
	Execution struct {
		PlacementDelay       time.Duration `yaml:"placement_delay"`
		MaxConsecutiveLosses int           `yaml:"max_consecutive_losses"`
		MaxAPIErrors         int           `yaml:"max_api_errors"`
		MonitorTimeout       time.Duration `yaml:"monitor_timeout"`
		MinStake             float64       `yaml:"min_stake"`
		MaxStake             float64       `yaml:"max_stake"`
		MinBalance           float64       `yaml:"min_balance"`
	} `yaml:"execution"`
	Learning struct {
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"learning"`
	Archive struct {
		Enabled       bool          `yaml:"enabled"`
		BatchSize     int           `yaml:"batch_size"`
		FlushInterval time.Duration `yaml:"flush_interval"`
		MaxRPS        int           `yaml:"max_rps"`
	} `yaml:"archive"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		TicksTopic   string   `yaml:"ticks_topic"`
		EventsTopic  string   `yaml:"events_topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Redis struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"postgres"`
	Queue struct {
		Workers    int           `yaml:"workers"`
		RetryMax   int           `yaml:"retry_max"`
		RetryDelay time.Duration `yaml:"retry_delay"`
	} `yaml:"queue"`
}

// DSN builds the Postgres connection string.
func (c *Config) PostgresDSN() string {
	p := c.Postgres
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, sslmode)
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("DERIV_ENDPOINT"); v != "" {
		c.Deriv.Endpoint = v
	}
	if v := os.Getenv("DERIV_APP_ID"); v != "" {
		c.Deriv.AppID = v
	}
	if v := os.Getenv("MARKETS"); v != "" {
		c.Deriv.Markets = util.SplitCSV(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitCSV(v)
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Postgres.Password = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Deriv.Endpoint == "" {
		return fmt.Errorf("deriv.endpoint is required")
	}
	if c.Deriv.AppID == "" {
		return fmt.Errorf("deriv.app_id is required")
	}
	if len(c.Deriv.Markets) == 0 {
		return fmt.Errorf("deriv.markets cannot be empty")
	}
	if c.Engine.StableMaxEntropy != 0 && c.Engine.ChaosMinEntropy != 0 &&
		c.Engine.StableMaxEntropy >= c.Engine.ChaosMinEntropy {
		return fmt.Errorf("engine.stable_max_entropy must be below engine.chaos_min_entropy")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty")
	}
	return nil
}
