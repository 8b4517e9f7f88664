package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"ojcore/internal/common/cache"
	"ojcore/internal/common/db"
	"ojcore/internal/common/http/middleware"
	"ojcore/internal/common/mq"
	"ojcore/internal/common/storage"
	"ojcore/internal/judge/client"
	"ojcore/internal/judge/runner"
	"ojcore/internal/submit/service"
	"ojcore/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 120 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	transactionsAuto = "auto"
	transactionsOn   = "on"
	transactionsOff  = "off"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// DatabaseConfig holds the MySQL pool and the transaction capability mode.
type DatabaseConfig struct {
	db.MySQLConfig `yaml:",inline"`
	// Transactions is auto (probe at startup), on or off.
	Transactions string `yaml:"transactions"`
}

// JudgeConfig holds the Judge0 client and default limits.
type JudgeConfig struct {
	client.Config `yaml:",inline"`
	Limits        runner.Config `yaml:"limits"`
}

// SessionConfig holds token and session settings.
type SessionConfig struct {
	JWTSecret       string        `yaml:"jwtSecret"`
	JWTIssuer       string        `yaml:"jwtIssuer"`
	AccessTTL       time.Duration `yaml:"accessTTL"`
	RefreshTTL      time.Duration `yaml:"refreshTTL"`
	InactivityTTL   time.Duration `yaml:"inactivityTTL"`
	MaxSessions     int           `yaml:"maxSessions"`
	TouchInterval   time.Duration `yaml:"touchInterval"`
	LoginFailLimit  int           `yaml:"loginFailLimit"`
	LoginFailTTL    time.Duration `yaml:"loginFailTTL"`
	LoginRateMax    int           `yaml:"loginRateMax"`
	LoginRateWindow time.Duration `yaml:"loginRateWindow"`
}

// SubmitConfig holds submission settings.
type SubmitConfig struct {
	MaxCodeBytes       int                     `yaml:"maxCodeBytes"`
	LockTTL            time.Duration           `yaml:"lockTTL"`
	EventTopic         string                  `yaml:"eventTopic"`
	SourceKeyPrefix    string                  `yaml:"sourceKeyPrefix"`
	SubmissionCacheTTL time.Duration           `yaml:"submissionCacheTTL"`
	EmptyCacheTTL      time.Duration           `yaml:"emptyCacheTTL"`
	ProblemCacheTTL    time.Duration           `yaml:"problemCacheTTL"`
	RateLimit          service.RateLimitConfig `yaml:"rateLimit"`
	Timeouts           service.TimeoutConfig   `yaml:"timeouts"`
}

// StatsConfig holds dashboard query settings.
type StatsConfig struct {
	MaxRangeDays int `yaml:"maxRangeDays"`
}

// AppConfig holds server configuration.
type AppConfig struct {
	Server   ServerConfig          `yaml:"server"`
	Logger   logger.Config         `yaml:"logger"`
	Database DatabaseConfig        `yaml:"database"`
	Redis    cache.RedisConfig     `yaml:"redis"`
	Judge    JudgeConfig           `yaml:"judge"`
	Session  SessionConfig         `yaml:"session"`
	Submit   SubmitConfig          `yaml:"submit"`
	Stats    StatsConfig           `yaml:"stats"`
	CORS     middleware.CORSConfig `yaml:"cors"`
	MinIO    storage.MinIOConfig   `yaml:"minio"`
	Kafka    mq.KafkaConfig        `yaml:"kafka"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadAppConfig reads the YAML file, then .env (if present) and the process
// environment override individual knobs, then defaults fill the gaps.
func loadAppConfig(path, envFile string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file failed: %w", err)
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validateAppConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Database.Transactions == "" {
		cfg.Database.Transactions = transactionsAuto
	}
	cfg.Database.Transactions = strings.ToLower(cfg.Database.Transactions)

	if cfg.Judge.Limits.DefaultCPUTimeLimit == 0 {
		cfg.Judge.Limits.DefaultCPUTimeLimit = 2
	}
	if cfg.Judge.Limits.DefaultMemoryLimit == 0 {
		cfg.Judge.Limits.DefaultMemoryLimit = 128000
	}

	if cfg.Session.JWTIssuer == "" {
		cfg.Session.JWTIssuer = "ojcore"
	}
	if cfg.Session.LoginRateMax == 0 {
		cfg.Session.LoginRateMax = 20
	}
	if cfg.Session.LoginRateWindow == 0 {
		cfg.Session.LoginRateWindow = time.Minute
	}

	if cfg.Submit.MaxCodeBytes == 0 {
		cfg.Submit.MaxCodeBytes = 256 * 1024
	}
	if cfg.Submit.EventTopic == "" {
		cfg.Submit.EventTopic = "submission.judged"
	}
	if cfg.Submit.SourceKeyPrefix == "" {
		cfg.Submit.SourceKeyPrefix = "submissions"
	}
	if cfg.Submit.SubmissionCacheTTL == 0 {
		cfg.Submit.SubmissionCacheTTL = 10 * time.Minute
	}
	if cfg.Submit.EmptyCacheTTL == 0 {
		cfg.Submit.EmptyCacheTTL = time.Minute
	}
	if cfg.Submit.ProblemCacheTTL == 0 {
		cfg.Submit.ProblemCacheTTL = time.Minute
	}
	if cfg.Submit.RateLimit.Window == 0 {
		cfg.Submit.RateLimit.Window = time.Minute
	}
	if cfg.Submit.RateLimit.UserMax == 0 {
		cfg.Submit.RateLimit.UserMax = 30
	}
	if cfg.Submit.Timeouts.DB == 0 {
		cfg.Submit.Timeouts.DB = 3 * time.Second
	}
	if cfg.Submit.Timeouts.Cache == 0 {
		cfg.Submit.Timeouts.Cache = time.Second
	}
	if cfg.Submit.Timeouts.MQ == 0 {
		cfg.Submit.Timeouts.MQ = 3 * time.Second
	}
	if cfg.Submit.Timeouts.Storage == 0 {
		cfg.Submit.Timeouts.Storage = 5 * time.Second
	}
}

func validateAppConfig(cfg *AppConfig) error {
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if cfg.Judge.BaseURL == "" {
		return fmt.Errorf("judge baseURL is required")
	}
	if cfg.Session.JWTSecret == "" {
		return fmt.Errorf("session jwtSecret is required")
	}
	switch cfg.Database.Transactions {
	case transactionsAuto, transactionsOn, transactionsOff:
	default:
		return fmt.Errorf("database transactions must be auto, on or off, got %q", cfg.Database.Transactions)
	}
	return nil
}

// applyEnvOverrides lets deployments set secrets and tuning knobs without
// editing the YAML file.
func applyEnvOverrides(cfg *AppConfig) error {
	overrides := []struct {
		key   string
		apply func(string) error
	}{
		{"OJ_HTTP_ADDR", setString(&cfg.Server.Addr)},
		{"OJ_DATABASE_DSN", setString(&cfg.Database.DSN)},
		{"OJ_DATABASE_TRANSACTIONS", setString(&cfg.Database.Transactions)},
		{"OJ_REDIS_ADDR", setString(&cfg.Redis.Addr)},
		{"OJ_REDIS_PASSWORD", setString(&cfg.Redis.Password)},
		{"OJ_JUDGE_BASE_URL", setString(&cfg.Judge.BaseURL)},
		{"OJ_JUDGE_AUTH_TOKEN", setString(&cfg.Judge.AuthToken)},
		{"OJ_JUDGE_REQUEST_TIMEOUT", setDuration(&cfg.Judge.RequestTimeout)},
		{"OJ_JUDGE_MAX_CONCURRENCY", setInt(&cfg.Judge.MaxConcurrency)},
		{"OJ_JUDGE_MAX_RETRIES", setInt(&cfg.Judge.MaxRetries)},
		{"OJ_JUDGE_DEFAULT_CPU_TIME_LIMIT", setFloat(&cfg.Judge.Limits.DefaultCPUTimeLimit)},
		{"OJ_JUDGE_DEFAULT_MEMORY_LIMIT", setInt64(&cfg.Judge.Limits.DefaultMemoryLimit)},
		{"OJ_JWT_SECRET", setString(&cfg.Session.JWTSecret)},
		{"OJ_ACCESS_TTL", setDuration(&cfg.Session.AccessTTL)},
		{"OJ_REFRESH_TTL", setDuration(&cfg.Session.RefreshTTL)},
		{"OJ_INACTIVITY_TTL", setDuration(&cfg.Session.InactivityTTL)},
		{"OJ_MAX_SESSIONS", setInt(&cfg.Session.MaxSessions)},
		{"OJ_TOUCH_INTERVAL", setDuration(&cfg.Session.TouchInterval)},
		{"OJ_MINIO_ENDPOINT", setString(&cfg.MinIO.Endpoint)},
		{"OJ_MINIO_ACCESS_KEY", setString(&cfg.MinIO.AccessKey)},
		{"OJ_MINIO_SECRET_KEY", setString(&cfg.MinIO.SecretKey)},
		{"OJ_KAFKA_BROKERS", setList(&cfg.Kafka.Brokers)},
	}
	for _, o := range overrides {
		value, ok := os.LookupEnv(o.key)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		if err := o.apply(strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("invalid %s: %w", o.key, err)
		}
	}
	return nil
}

func setString(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func setList(dst *[]string) func(string) error {
	return func(v string) error {
		var items []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		*dst = items
		return nil
	}
}

func setDuration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func setInt64(dst *int64) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func setFloat(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst = f
		return nil
	}
}
