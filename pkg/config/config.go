package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendMongo    = "mongodb"
)

// Image backends
const (
	ImagesFile  = "file"
	ImagesRedis = "redis"
)

// AppConfig holds the complete configuration for the racing service
type AppConfig struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	ServiceName string         `mapstructure:"service_name"`
	HTTP        HTTPConfig     `mapstructure:"http"`
	Storage     StorageConfig  `mapstructure:"storage"`
	Badger      BadgerConfig   `mapstructure:"badger"`
	Postgres    PostgresConfig `mapstructure:"postgres"`
	MongoDB     MongoConfig    `mapstructure:"mongodb"`
	Images      ImagesConfig   `mapstructure:"images"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Kafka       KafkaConfig    `mapstructure:"kafka"`
	Events      EventsConfig   `mapstructure:"events"`
}

type HTTPConfig struct {
	Addr              string        `mapstructure:"addr"`
	ObservabilityAddr string        `mapstructure:"observability_addr"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	RateLimit         float64       `mapstructure:"rate_limit"`
	RateBurst         int           `mapstructure:"rate_burst"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

type BadgerConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	URI      string `mapstructure:"uri"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type ImagesConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	CacheSize int    `mapstructure:"cache_size"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	DB        int    `mapstructure:"db"`
	Password  string `mapstructure:"password"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// KafkaConfig is optional. Without brokers events are dropped.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type EventsConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	WorkerCount   int           `mapstructure:"worker_count"`
}

// Load loads configuration from an optional file and environment variables
func Load(path string) (*AppConfig, error) {
	v := viper.New()

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("service_name", "racing")
	v.SetDefault("http.addr", ":5000")
	v.SetDefault("http.observability_addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.rate_limit", 20.0)
	v.SetDefault("http.rate_burst", 40)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("badger.path", "data/badger")
	v.SetDefault("postgres.max_conns", 20)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("mongodb.database", "racing")
	v.SetDefault("mongodb.connect_timeout", 10*time.Second)
	v.SetDefault("images.backend", ImagesFile)
	v.SetDefault("images.dir", "saved_images")
	v.SetDefault("images.cache_size", 128)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "racing:images:")
	v.SetDefault("kafka.topic", "racing.events")
	v.SetDefault("events.batch_size", 100)
	v.SetDefault("events.flush_interval", 500*time.Millisecond)
	v.SetDefault("events.worker_count", 2)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal only sees env values for keys viper already knows about
	for _, key := range []string{
		"environment", "log_level", "service_name",
		"http.addr", "http.observability_addr", "http.read_timeout", "http.write_timeout",
		"http.rate_limit", "http.rate_burst",
		"storage.backend", "badger.path",
		"postgres.uri", "postgres.max_conns", "postgres.min_conns",
		"mongodb.uri", "mongodb.database", "mongodb.connect_timeout",
		"images.backend", "images.dir", "images.cache_size",
		"redis.addr", "redis.db", "redis.password", "redis.key_prefix",
		"kafka.brokers", "kafka.topic",
		"events.batch_size", "events.flush_interval", "events.worker_count",
	} {
		v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}

	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// KAFKA_BROKERS arrives as one comma separated string
	if brokers := v.GetString("kafka.brokers"); brokers != "" {
		config.Kafka.Brokers = splitList(brokers)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks that the selected backends have what they need
func (c *AppConfig) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service_name is required")
	}
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.HTTP.RateLimit < 0 || c.HTTP.RateBurst < 0 {
		return errors.New("http.rate_limit and http.rate_burst must not be negative")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendBadger:
		if c.Badger.Path == "" {
			return errors.New("badger.path is required")
		}
	case BackendPostgres:
		if c.Postgres.URI == "" {
			return errors.New("postgres.uri is required")
		}
	case BackendMongo:
		if c.MongoDB.URI == "" {
			return errors.New("mongodb.uri is required")
		}
		if c.MongoDB.Database == "" {
			return errors.New("mongodb.database is required")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	switch c.Images.Backend {
	case ImagesFile:
		if c.Images.Dir == "" {
			return errors.New("images.dir is required")
		}
	case ImagesRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required")
		}
	default:
		return fmt.Errorf("unknown images.backend %q", c.Images.Backend)
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required when kafka.brokers is set")
	}
	if c.Events.BatchSize <= 0 || c.Events.WorkerCount <= 0 {
		return errors.New("events.batch_size and events.worker_count must be positive")
	}
	return nil
}
