package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// Classifier backends.
const (
	BackendTFLite = "tflite"
	BackendGRPC   = "grpc"
)

// Storage backends.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Storage    StorageConfig    `mapstructure:"storage"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Cache      CacheConfig      `mapstructure:"cache"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig is optional. An empty Addr selects the in-process cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ClassifierConfig struct {
	Backend   string        `mapstructure:"backend"`
	ModelPath string        `mapstructure:"model_path"`
	GRPCAddr  string        `mapstructure:"grpc_addr"`
	InputSize int           `mapstructure:"input_size"`
	Threads   int           `mapstructure:"threads"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	Backend      string   `mapstructure:"backend"`
	UploadDir    string   `mapstructure:"upload_dir"`
	PublicPrefix string   `mapstructure:"public_prefix"`
	S3           S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

type RateLimitConfig struct {
	AnonymousLimit int           `mapstructure:"anonymous_limit"`
	Window         time.Duration `mapstructure:"window"`
	Strict         bool          `mapstructure:"strict"`
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
}

type CacheConfig struct {
	HistoryTTL time.Duration `mapstructure:"history_ttl"`
}

// Load reads configuration from an optional YAML file, a .env file and the
// environment. Environment variables win over the file.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("WASTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unprefixed names used by existing deployments.
	_ = v.BindEnv("database.dsn", "WASTE_DATABASE_DSN", "DATABASE_DSN")
	_ = v.BindEnv("redis.addr", "WASTE_REDIS_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "WASTE_REDIS_PASSWORD", "REDIS_PASSWORD")
	_ = v.BindEnv("classifier.model_path", "WASTE_CLASSIFIER_MODEL_PATH", "MODEL_PATH")
	_ = v.BindEnv("storage.upload_dir", "WASTE_STORAGE_UPLOAD_DIR", "UPLOAD_DIR")
	_ = v.BindEnv("rate_limit.anonymous_limit", "WASTE_RATE_LIMIT_ANONYMOUS_LIMIT", "ANON_UPLOAD_LIMIT")
	_ = v.BindEnv("storage.s3.access_key", "WASTE_STORAGE_S3_ACCESS_KEY", "AWS_ACCESS_KEY_ID")
	_ = v.BindEnv("storage.s3.secret_key", "WASTE_STORAGE_S3_SECRET_KEY", "AWS_SECRET_ACCESS_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyFallbacks()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("classifier.backend", BackendTFLite)
	v.SetDefault("classifier.model_path", "model/best_model.tflite")
	v.SetDefault("classifier.grpc_addr", "")
	v.SetDefault("classifier.input_size", 224)
	v.SetDefault("classifier.threads", 0)
	v.SetDefault("classifier.timeout", 10*time.Second)
	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.upload_dir", "./uploads")
	v.SetDefault("storage.public_prefix", "uploads")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.prefix", "uploads")
	v.SetDefault("rate_limit.anonymous_limit", 3)
	v.SetDefault("rate_limit.window", 24*time.Hour)
	v.SetDefault("rate_limit.strict", false)
	v.SetDefault("rate_limit.lock_ttl", 30*time.Second)
	v.SetDefault("cache.history_ttl", time.Minute)
}

// applyFallbacks lets a debug build start without a database server.
func (c *Config) applyFallbacks() {
	if c.Database.DSN == "" && c.Server.Mode != "release" {
		c.Database.Driver = DriverSQLite
		c.Database.DSN = "./data/waste.db"
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("server.mode must be debug, release or test, got %q", c.Server.Mode))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must be positive"))
	}

	switch c.Database.Driver {
	case DriverPostgres, DriverMySQL, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required in release mode"))
	}

	switch c.Classifier.Backend {
	case BackendTFLite:
		if c.Classifier.ModelPath == "" {
			errs = append(errs, errors.New("classifier.model_path is required for the tflite backend"))
		}
	case BackendGRPC:
		if c.Classifier.GRPCAddr == "" {
			errs = append(errs, errors.New("classifier.grpc_addr is required for the grpc backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("classifier.backend %q is not supported", c.Classifier.Backend))
	}
	if c.Classifier.InputSize <= 0 {
		errs = append(errs, errors.New("classifier.input_size must be positive"))
	}

	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.UploadDir == "" {
			errs = append(errs, errors.New("storage.upload_dir is required for the local backend"))
		}
	case StorageS3:
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend))
	}

	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}
	if c.RateLimit.Strict && c.RateLimit.LockTTL <= 0 {
		errs = append(errs, errors.New("rate_limit.lock_ttl must be positive when strict limiting is on"))
	}

	return errors.Join(errs...)
}
