package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"roomhub-server/hub"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the server.
type Config struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Snapshot storage
	StorageType      string        `mapstructure:"storage_type"`
	LocalStoragePath string        `mapstructure:"local_storage_path"`
	DataSourceName   string        `mapstructure:"data_source_name"`
	S3BucketName     string        `mapstructure:"s3_bucket_name"`
	S3Prefix         string        `mapstructure:"s3_prefix"`
	RedisURL         string        `mapstructure:"redis_url"`
	RedisTTL         time.Duration `mapstructure:"redis_ttl"`
	DatabaseURL      string        `mapstructure:"database_url"`

	// Channels and fanout
	QueueSize         int           `mapstructure:"queue_size"`
	OverflowPolicy    string        `mapstructure:"overflow_policy"`
	ExclusionPolicy   string        `mapstructure:"exclusion_policy"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	InboundRate       float64       `mapstructure:"inbound_rate"`
	InboundBurst      int           `mapstructure:"inbound_burst"`

	// HTTP
	MaxPayloadBytes int64    `mapstructure:"max_payload_bytes"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowClearAll   bool     `mapstructure:"allow_clear_all"`

	Overflow  hub.OverflowPolicy  `mapstructure:"-"`
	Exclusion hub.ExclusionPolicy `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":3002")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("shutdown_timeout", "10s")

	v.SetDefault("storage_type", "memory")
	v.SetDefault("local_storage_path", "./data")
	v.SetDefault("data_source_name", "roomhub.db")
	v.SetDefault("s3_bucket_name", "")
	v.SetDefault("s3_prefix", "rooms/")
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("redis_ttl", "0s")
	v.SetDefault("database_url", "")

	v.SetDefault("queue_size", 64)
	v.SetDefault("overflow_policy", "close")
	v.SetDefault("exclusion_policy", "label")
	v.SetDefault("heartbeat_interval", "25s")
	v.SetDefault("inbound_rate", 20.0)
	v.SetDefault("inbound_burst", 40)

	v.SetDefault("max_payload_bytes", 5000000)
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("allow_clear_all", false)
}

// Load reads configuration from, in increasing precedence: defaults, the yaml file
// named by CONFIG_FILE, environment variables (a .env file is loaded if present)
// and command-line flags.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("roomhub-server", pflag.ContinueOnError)
	fs.String("listen", ":3002", "Set the server listen address")
	fs.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	fs.String("storage", "memory", "Snapshot storage: memory, filesystem, sqlite, s3, redis, postgres")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{
		"listen_addr":  "listen",
		"log_level":    "loglevel",
		"storage_type": "storage",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var err error
	if c.Overflow, err = hub.ParseOverflowPolicy(c.OverflowPolicy); err != nil {
		return err
	}
	if c.Exclusion, err = hub.ParseExclusionPolicy(c.ExclusionPolicy); err != nil {
		return err
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	if c.MaxPayloadBytes < 1 {
		return fmt.Errorf("max_payload_bytes must be positive, got %d", c.MaxPayloadBytes)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format: %s", c.LogFormat)
	}

	origins := c.AllowedOrigins[:0]
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.AllowedOrigins = origins
	return nil
}
