package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Hive      HiveConfig      `yaml:"hive"`
	NATS      NATSConfig      `yaml:"nats"`
	Store     StoreConfig     `yaml:"store"`
	Runner    RunnerConfig    `yaml:"runner"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Agents    []AgentTemplate `yaml:"agents"`
	Patterns  []PatternConfig `yaml:"patterns"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type HiveConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	SyncInterval      time.Duration `yaml:"sync_interval"`
	StageBudget       time.Duration `yaml:"stage_budget"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type RunnerConfig struct {
	Mode    string        `yaml:"mode"`
	Timeout time.Duration `yaml:"timeout"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// AgentTemplate describes agents spawned at daemon startup.
type AgentTemplate struct {
	Type         string   `yaml:"type"`
	Role         string   `yaml:"role"`
	Capabilities []string `yaml:"capabilities"`
	Count        int      `yaml:"count"`
}

// PatternConfig extends the built-in coordination pattern catalog.
type PatternConfig struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Stages       []string `yaml:"stages"`
	Coordination string   `yaml:"coordination"`
}

func defaults() Config {
	return Config{
		Log: LogConfig{
			Level: "info",
		},
		Hive: HiveConfig{
			HeartbeatInterval: 30 * time.Second,
			IdleTimeout:       30 * time.Minute,
			SweepInterval:     5 * time.Minute,
			SyncInterval:      time.Minute,
			StageBudget:       2 * time.Second,
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/kypseli.db",
		},
		Runner: RunnerConfig{
			Mode:    "local",
			Timeout: 2 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("KYPSELI_CONFIG")
	if path == "" {
		path = "config/kypseli.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("KYPSELI_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("KYPSELI_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("KYPSELI_NATS_DATA_DIR"); v != "" {
		cfg.NATS.DataDir = v
	}
	if v := os.Getenv("KYPSELI_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("KYPSELI_RUNNER_MODE"); v != "" {
		cfg.Runner.Mode = v
	}
	if v := os.Getenv("KYPSELI_RUNNER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Runner.Timeout = d
		}
	}
}
