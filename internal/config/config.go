package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envConfigPath     = "SPEED_MONITOR_CONFIG"
	DefaultConfigPath = "/etc/speed-monitor/server.yaml"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
}

type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

type StorageConfig struct {
	// Driver selects the store: "duckdb" (default), "postgres", "memory".
	Driver string `yaml:"driver"`
	// Path is the embedded database file for the duckdb driver.
	Path string `yaml:"path"`
	// DatabaseURL is the connection string for the postgres driver.
	DatabaseURL string `yaml:"database_url"`
}

// Default returns the configuration used when no config file exists.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:   ":3000",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "duckdb",
			Path:   "./speed_monitor.db",
		},
	}
}

func Load(ctx context.Context, path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv resolves the config file path from SPEED_MONITOR_CONFIG,
// falling back to the default path, then applies environment overrides.
// A missing file at the default path is not an error; the deployment knobs
// can be supplied entirely through the environment.
func LoadFromEnv(ctx context.Context) (Config, error) {
	path := os.Getenv(envConfigPath)
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	cfg, err := Load(ctx, path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			cfg = Default()
		} else {
			return cfg, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv layers the original deployment knobs over the file config:
// PORT (or LISTEN_ADDR), DB_PATH, DATABASE_URL.
func applyEnv(cfg *Config) {
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.Server.ListenAddr = addr
	} else if port := os.Getenv("PORT"); port != "" {
		cfg.Server.ListenAddr = ":" + port
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Storage.DatabaseURL = url
		cfg.Storage.Driver = "postgres"
	}
}
