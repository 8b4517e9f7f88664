package main

import (
	"fmt"
	"os"
	"time"

	"ojcore/internal/common/cache"
	"ojcore/internal/common/db"
	"ojcore/internal/judge/client"
	"ojcore/internal/judge/runner"
	"ojcore/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const defaultRunTimeout = 30 * time.Minute

// RepairConfig reads the subset of the server config the repair tool needs,
// so both binaries can share one file.
type RepairConfig struct {
	Logger   logger.Config `yaml:"logger"`
	Database struct {
		db.MySQLConfig `yaml:",inline"`
		Transactions   string `yaml:"transactions"`
	} `yaml:"database"`
	Redis cache.RedisConfig `yaml:"redis"`
	Judge struct {
		client.Config `yaml:",inline"`
		Limits        runner.Config `yaml:"limits"`
	} `yaml:"judge"`
	Repair struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"repair"`
}

func loadRepairConfig(path string) (*RepairConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	var cfg RepairConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}
	if dsn := os.Getenv("OJ_DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if addr := os.Getenv("OJ_REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Judge.BaseURL == "" {
		// Counter repair never grades; the client only satisfies the service wiring.
		cfg.Judge.BaseURL = "http://127.0.0.1:2358"
	}
	if cfg.Repair.Timeout <= 0 {
		cfg.Repair.Timeout = defaultRunTimeout
	}
	return &cfg, nil
}
